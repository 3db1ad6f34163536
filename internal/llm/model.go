// Package llm talks to OpenAI-compatible text and chat completion endpoints.
package llm

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrEmptyResponse = errors.New("llm returned no choices")
)

const (
	DefaultBaseURL  = "https://api.openai.com"
	DeepSeekBaseURL = "https://api.deepseek.com"
	DeepSeekModel   = "deepseek-reasoner"

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is what a model sees on its turn. Completion models read Prompt,
// chat models read Messages.
type Context struct {
	Prompt   string
	Messages []Message
}

// Response is the raw model output. Reasoning is only filled by providers that
// return a separate reasoning trace.
type Response struct {
	Text      string
	Reasoning string
}

type Model interface {
	Name() string
	Chat() bool
	Respond(ctx context.Context, in Context) (Response, error)
}

type Config struct {
	Model           string
	BaseURL         string
	APIKey          string
	Temperature     float64
	MaxTokens       int
	ReasoningEffort string
}

func (c Config) baseURL() string {
	if strings.TrimSpace(c.BaseURL) == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

// Completion drives /v1/completions with the transcript as a plain prompt.
type Completion struct {
	cfg    Config
	client *client
}

func NewCompletion(cfg Config, opts ...Option) (*Completion, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	return &Completion{cfg: cfg, client: newClient(cfg.baseURL(), cfg.APIKey, opts...)}, nil
}

func (m *Completion) Name() string { return m.cfg.Model }
func (m *Completion) Chat() bool { return false }

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (m *Completion) Respond(ctx context.Context, in Context) (Response, error) {
	var out completionResponse
	err := m.client.postJSON(ctx, "/v1/completions", completionRequest{
		Model:       m.cfg.Model,
		Prompt:      in.Prompt,
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
	}, &out)
	if err != nil {
		return Response{}, err
	}
	if len(out.Choices) == 0 {
		return Response{}, ErrEmptyResponse
	}
	return Response{Text: out.Choices[0].Text}, nil
}

// ChatModel drives /v1/chat/completions with an incremental message list.
type ChatModel struct {
	cfg    Config
	client *client
}

func NewChat(cfg Config, opts ...Option) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	return &ChatModel{cfg: cfg, client: newClient(cfg.baseURL(), cfg.APIKey, opts...)}, nil
}

func (m *ChatModel) Name() string { return m.cfg.Model }
func (m *ChatModel) Chat() bool { return true }

type chatRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float64  `json:"temperature,omitempty"`
	MaxTokens           int       `json:"max_tokens,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string    `json:"reasoning_effort,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

// newChatRequest targets reasoning models when an effort is configured: they
// take max_completion_tokens and reject a temperature.
func (m *ChatModel) newChatRequest(messages []Message) chatRequest {
	req := chatRequest{Model: m.cfg.Model, Messages: messages}
	if m.cfg.ReasoningEffort != "" {
		req.ReasoningEffort = m.cfg.ReasoningEffort
		req.MaxCompletionTokens = m.cfg.MaxTokens
		return req
	}
	temp := m.cfg.Temperature
	req.Temperature = &temp
	req.MaxTokens = m.cfg.MaxTokens
	return req
}

func (m *ChatModel) Respond(ctx context.Context, in Context) (Response, error) {
	var out chatResponse
	if err := m.client.postJSON(ctx, "/v1/chat/completions", m.newChatRequest(in.Messages), &out); err != nil {
		return Response{}, err
	}
	if len(out.Choices) == 0 {
		return Response{}, ErrEmptyResponse
	}
	msg := out.Choices[0].Message
	return Response{Text: msg.Content, Reasoning: msg.ReasoningContent}, nil
}

// New picks the variant matching chat.
func New(cfg Config, chat bool, opts ...Option) (Model, error) {
	if chat {
		m, err := NewChat(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	m, err := NewCompletion(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}
