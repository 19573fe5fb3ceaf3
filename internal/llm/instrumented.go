package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/capitalize-ai/agent-relay/pkg/metrics"
	"github.com/capitalize-ai/agent-relay/pkg/tracing"
)

// Instrumented decorates a Client with a per-call timeout, metrics and a trace span.
type Instrumented struct {
	next    Client
	timeout time.Duration
}

// NewInstrumented wraps next. A zero timeout disables the deadline.
func NewInstrumented(next Client, timeout time.Duration) *Instrumented {
	return &Instrumented{next: next, timeout: timeout}
}

// Name returns the wrapped provider name.
func (c *Instrumented) Name() string {
	return c.next.Name()
}

// Complete forwards the request under the configured timeout.
func (c *Instrumented) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := tracing.Start(ctx, "llm.complete",
		attribute.String("llm.provider", c.next.Name()),
		attribute.String("llm.model", req.Model),
		attribute.String("llm.purpose", string(req.Purpose)),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err)))
		metrics.RecordLLMCall(req.Model, string(req.Purpose), "error", elapsed, 0, 0)
		return nil, err
	}

	metrics.RecordLLMCall(req.Model, string(req.Purpose), "success", elapsed, resp.TokensIn, resp.TokensOut)
	return resp, nil
}
