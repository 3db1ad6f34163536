package llm

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

var ErrAPI = errors.New("llm api error")

// client is a small JSON-over-fasthttp transport shared by the model variants.
type client struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*client)

func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.defaultTimeout = d
			c.http.ReadTimeout = d
			c.http.WriteTimeout = d
		}
	}
}

// WithRetry sets the number of attempts for transport failures and 5xx/429
// replies. The default is a single attempt.
func WithRetry(max int) Option {
	return func(c *client) { c.retryMax = max }
}

// WithDialer replaces the network dialer, used to reach in-memory servers.
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *client) { c.http.Dial = dial }
}

func newClient(baseURL, apiKey string, opts ...Option) *client {
	c := &client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		http:           &fasthttp.Client{ReadTimeout: 120 * time.Second, WriteTimeout: 30 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 120 * time.Second,
		retryMax:       1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) postJSON(ctx context.Context, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := max(c.retryMax, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		switch {
		case err != nil:
			lastErr = fmt.Errorf("request failed: %w", err)
		case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
			status := resp.StatusCode()
			lastErr = fmt.Errorf("%w: status=%d body=%s", ErrAPI, status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		default:
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt < attempts {
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
		}
	}
	return lastErr
}

func (c *client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	attempt = min(max(attempt, 1), 6)
	return time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case fasthttp.StatusTooManyRequests, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
