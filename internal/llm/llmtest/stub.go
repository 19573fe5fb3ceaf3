// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/capitalize-ai/agent-relay/internal/llm"
)

// Reply produces the completion text for one request.
type Reply func(req *llm.CompletionRequest) (string, error)

// Text returns a Reply that always answers s.
func Text(s string) Reply {
	return func(*llm.CompletionRequest) (string, error) { return s, nil }
}

// Fail returns a Reply that always fails with err.
func Fail(err error) Reply {
	return func(*llm.CompletionRequest) (string, error) { return "", err }
}

// Client answers requests according to their Purpose and records every call.
type Client struct {
	mu      sync.Mutex
	replies map[llm.Purpose]Reply
	calls   []llm.CompletionRequest

	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}
}

// New creates a scripted client.
func New(replies map[llm.Purpose]Reply) *Client {
	if replies == nil {
		replies = map[llm.Purpose]Reply{}
	}
	return &Client{replies: replies}
}

// Name returns the provider name.
func (c *Client) Name() string { return "stub" }

// Complete answers from the script. Unscripted purposes fail.
func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, *req)
	reply, ok := c.replies[req.Purpose]
	gate := c.Gate
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, errors.New("llmtest: no reply scripted for " + string(req.Purpose))
	}
	text, err := reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: text, Model: req.Model}, nil
}

// Calls returns a copy of the recorded requests.
func (c *Client) Calls() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.CompletionRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallsFor returns the recorded requests with the given purpose.
func (c *Client) CallsFor(p llm.Purpose) []llm.CompletionRequest {
	var out []llm.CompletionRequest
	for _, call := range c.Calls() {
		if call.Purpose == p {
			out = append(out, call)
		}
	}
	return out
}
