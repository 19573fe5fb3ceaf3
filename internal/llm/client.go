// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Purpose labels why a completion was requested. It only feeds metrics and traces.
type Purpose string

const (
	PurposeReply     Purpose = "reply"
	PurposeClassify  Purpose = "classify"
	PurposeExtract   Purpose = "extract"
	PurposeClarify   Purpose = "clarify"
	PurposeSummarize Purpose = "summarize"
)

const (
	defaultMaxTokens   = 1024
	defaultOpenAIModel = "gpt-4o-mini"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	TopP        float64

	// JSONMode asks the provider to constrain output to a JSON object when supported.
	JSONMode bool
	Purpose  Purpose
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System, User and Assistant build chat messages.
func System(content string) ChatMessage    { return ChatMessage{Role: "system", Content: content} }
func User(content string) ChatMessage      { return ChatMessage{Role: "user", Content: content} }
func Assistant(content string) ChatMessage { return ChatMessage{Role: "assistant", Content: content} }

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey, baseURL string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		c, err := NewAnthropicClient(apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		c, err := NewOpenAIClient(apiKey, baseURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ErrorKind groups provider failures by how they should be reported to end users.
type ErrorKind string

const (
	ErrorAuth      ErrorKind = "auth"
	ErrorRateLimit ErrorKind = "rate_limit"
	ErrorServer    ErrorKind = "server"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorUnknown   ErrorKind = "unknown"
)

// Classify maps a provider error to an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if kind := kindForStatus(apiErr.HTTPStatusCode); kind != ErrorUnknown {
			return kind
		}
		if apiErr.Type == "insufficient_quota" {
			return ErrorRateLimit
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "authentication"):
		return ErrorAuth
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return ErrorRateLimit
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "overloaded"):
		return ErrorServer
	}
	return ErrorUnknown
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuth
	case status == http.StatusTooManyRequests:
		return ErrorRateLimit
	case status >= 500:
		return ErrorServer
	}
	return ErrorUnknown
}
