// Package lichess uploads finished games to the lichess.org import endpoint.
package lichess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const DefaultBaseURL = "https://lichess.org"

var (
	ErrNoToken = errors.New("lichess token is required")
	ErrAPI     = errors.New("lichess api error")
)

type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithDialer replaces the network dialer, used to reach in-memory servers.
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(token string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	c := &Client{
		baseURL:        DefaultBaseURL,
		token:          token,
		http:           &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second},
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type importResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Import posts a PGN and returns the URL of the imported game.
func (c *Client) Import(ctx context.Context, pgn string) (string, error) {
	if strings.TrimSpace(pgn) == "" {
		return "", errors.New("empty pgn")
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/api/import")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.SetContentType("application/x-www-form-urlencoded")
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Set("pgn", pgn)
	req.SetBody(args.QueryString())

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrAPI, status, truncate(string(resp.Body()), 512))
	}
	var out importResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: response without url", ErrAPI)
	}
	return out.URL, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
