package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/capitalize-ai/agent-relay/pkg/metrics"
	"github.com/capitalize-ai/agent-relay/pkg/tracing"
)

const (
	DefaultUserAgent = "AgentRelay-Webhook/1.0"
	DefaultTimeout   = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Result is the outcome of one outbound action call.
type Result struct {
	StatusCode int
	// JSON holds the decoded body when it parsed as JSON; otherwise Text holds it raw.
	JSON any
	Text string
}

// OK reports whether the endpoint answered with a 2xx status.
func (r *Result) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Invoker delivers extracted data to an action endpoint.
type Invoker interface {
	Invoke(ctx context.Context, url string, data map[string]any) (*Result, error)
}

// HTTPInvoker posts action data as JSON.
type HTTPInvoker struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// NewHTTPInvoker creates an invoker. Zero values use the defaults.
func NewHTTPInvoker(client *http.Client, userAgent string, timeout time.Duration) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPInvoker{client: client, userAgent: userAgent, timeout: timeout}
}

// Invoke POSTs data to url. A non-2xx reply is returned as a Result, not an error.
func (h *HTTPInvoker) Invoke(ctx context.Context, url string, data map[string]any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ctx, span := tracing.Start(ctx, "action.invoke", attribute.String("action.url", url))
	defer span.End()

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode action data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		metrics.ActionCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		metrics.ActionCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("call action: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ActionCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read action response: %w", err)
	}

	result := &Result{StatusCode: resp.StatusCode}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		result.JSON = decoded
	} else {
		result.Text = string(raw)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if result.OK() {
		metrics.ActionCallsTotal.WithLabelValues("success").Inc()
	} else {
		span.SetStatus(codes.Error, resp.Status)
		metrics.ActionCallsTotal.WithLabelValues("failure").Inc()
	}
	return result, nil
}
