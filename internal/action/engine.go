// Package action runs the webhook integrations attached to an agent: it asks
// the model whether a message targets an integration, extracts the arguments,
// calls the endpoint and turns the result back into a reply.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-relay/internal/llm"
	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
	"github.com/capitalize-ai/agent-relay/pkg/textutil"
	"github.com/capitalize-ai/agent-relay/pkg/tracing"
)

// historyWindow is how many recent turns the extraction prompt sees.
const historyWindow = 6

// Kind tells how an action turn ended.
type Kind string

const (
	KindClarified    Kind = "clarified"
	KindInvoked      Kind = "invoked"
	KindInvokeFailed Kind = "invoke_failed"
)

// Input is what the engine needs for one turn.
type Input struct {
	UserText     string
	Integrations []model.Integration
	Model        string
	Timezone     string
	History      []model.ContextTurn
}

// Outcome is the reply produced by a matched integration.
type Outcome struct {
	Reply   string
	Action  string
	Kind    Kind
	Data    map[string]any
	Missing []string
}

// Engine evaluates integrations in priority order.
type Engine struct {
	invoker    Invoker
	fallbackTZ string
	now        func() time.Time
	log        *logger.Logger
}

// NewEngine creates an engine. fallbackTZ applies when the sender has no timezone.
func NewEngine(invoker Invoker, fallbackTZ string, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{invoker: invoker, fallbackTZ: fallbackTZ, now: time.Now, log: log}
}

// TryActions returns the reply of the first integration whose intent matches
// the message, or nil when none does. At most one endpoint is called. Model
// failures are returned; endpoint failures still yield a summarized reply.
func (e *Engine) TryActions(ctx context.Context, client llm.Client, in Input) (*Outcome, error) {
	ctx, span := tracing.Start(ctx, "action.try", attribute.Int("action.candidates", len(in.Integrations)))
	defer span.End()

	for _, integ := range in.Integrations {
		if integ.Type != model.IntegrationWebhook || integ.URL == "" {
			continue
		}

		matched, err := e.Classify(ctx, client, in.Model, integ, in.UserText)
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", integ.Name, err)
		}
		if !matched {
			continue
		}
		span.SetAttributes(attribute.String("action.name", integ.Name))
		return e.resolve(ctx, client, in, integ)
	}
	return nil, nil
}

func (e *Engine) resolve(ctx context.Context, client llm.Client, in Input, integ model.Integration) (*Outcome, error) {
	log := e.log.With(zap.String("action", integ.Name))

	ex, err := e.Extract(ctx, client, in, integ)
	if errors.Is(err, ErrExtractionUnparsable) {
		log.Warn("extraction answer unparsable, asking for all fields", zap.Error(err))
		ex = &Extraction{Data: map[string]any{}}
		for _, f := range integ.Fields {
			ex.Missing = append(ex.Missing, f.Key)
		}
	} else if err != nil {
		return nil, fmt.Errorf("extract %q: %w", integ.Name, err)
	}

	if !ex.HasAllData {
		question, err := e.clarify(ctx, client, in, integ, ex.Missing)
		if err != nil {
			return nil, fmt.Errorf("clarify %q: %w", integ.Name, err)
		}
		log.Info("action needs more data", zap.Strings("missing", ex.Missing))
		return &Outcome{Reply: question, Action: integ.Name, Kind: KindClarified, Data: ex.Data, Missing: ex.Missing}, nil
	}

	result, invokeErr := e.invoker.Invoke(ctx, integ.URL, ex.Data)
	kind := KindInvoked
	if invokeErr != nil || !result.OK() {
		kind = KindInvokeFailed
		log.Warn("action call failed", zap.Error(invokeErr), zap.Int("status", statusOf(result)))
	}

	reply := e.summarize(ctx, client, in.Model, integ, ex.Data, result, invokeErr)
	return &Outcome{Reply: reply, Action: integ.Name, Kind: kind, Data: ex.Data}, nil
}

// Classify asks the model whether text targets integ. Only an exact "yes"
// counts as a match.
func (e *Engine) Classify(ctx context.Context, client llm.Client, modelName string, integ model.Integration, text string) (bool, error) {
	prompt := fmt.Sprintf(
		"Action name: %s\nAction description: %s\n\nUser message: %s\n\nDoes the user's message ask for this action? Answer yes or no.",
		integ.Name, integ.Description, text,
	)
	resp, err := client.Complete(ctx, &llm.CompletionRequest{
		Model: modelName,
		Messages: []llm.ChatMessage{
			llm.System("You classify user intent. Reply with a single word: yes or no."),
			llm.User(prompt),
		},
		MaxTokens: 5,
		Purpose:   llm.PurposeClassify,
	})
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(resp.Content), "yes"), nil
}

// Extract asks the model for the integration's fields as a JSON object.
func (e *Engine) Extract(ctx context.Context, client llm.Client, in Input, integ model.Integration) (*Extraction, error) {
	dates := ResolveDates(e.now(), in.Timezone, e.fallbackTZ)

	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\n", integ.Name)
	if integ.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", integ.Description)
	}
	b.WriteString("\nRequired fields:\n")
	for _, f := range integ.Fields {
		fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Description)
	}
	fmt.Fprintf(&b, "\nCurrent date in %s: today is %s (%s), tomorrow is %s, yesterday was %s.\n",
		dates.Location, dates.Today, dates.Weekday, dates.Tomorrow, dates.Yesterday)
	b.WriteString("Write every date as YYYY-MM-DD using these values for relative dates.\n")

	if recent := recentTurns(in.History, historyWindow); len(recent) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	fmt.Fprintf(&b, "\nUser message: %s\n\n", in.UserText)
	b.WriteString(`Respond with JSON only. If every required field is known: {"hasAllData": true, "data": {<field>: <value>}}. ` +
		`Otherwise: {"hasAllData": false, "data": {<known fields>}, "missing": [<field keys>]}.`)

	resp, err := client.Complete(ctx, &llm.CompletionRequest{
		Model: in.Model,
		Messages: []llm.ChatMessage{
			llm.System("You extract structured arguments for an API call from a conversation. Never invent values."),
			llm.User(b.String()),
		},
		JSONMode: true,
		Purpose:  llm.PurposeExtract,
	})
	if err != nil {
		return nil, err
	}
	return ParseExtraction(resp.Content, integ.Fields)
}

func (e *Engine) clarify(ctx context.Context, client llm.Client, in Input, integ model.Integration, missing []string) (string, error) {
	descriptions := make(map[string]string, len(integ.Fields))
	for _, f := range integ.Fields {
		descriptions[f.Key] = f.Description
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user wants to use %q but some information is missing:\n", integ.Name)
	for _, key := range missing {
		if d := descriptions[key]; d != "" {
			fmt.Fprintf(&b, "- %s (%s)\n", key, d)
		} else {
			fmt.Fprintf(&b, "- %s\n", key)
		}
	}
	fmt.Fprintf(&b, "\nTheir message was: %s\n\nAsk them for the missing information in one short, friendly message.", in.UserText)

	resp, err := client.Complete(ctx, &llm.CompletionRequest{
		Model: in.Model,
		Messages: []llm.ChatMessage{
			llm.System("You are a helpful assistant asking a follow-up question."),
			llm.User(b.String()),
		},
		Purpose: llm.PurposeClarify,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (e *Engine) summarize(ctx context.Context, client llm.Client, modelName string, integ model.Integration, data map[string]any, result *Result, invokeErr error) string {
	ok := invokeErr == nil && result.OK()

	sent, _ := json.Marshal(data)
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\n", integ.Name)
	if ok {
		b.WriteString("Status: succeeded\n")
	} else {
		b.WriteString("Status: failed\n")
	}
	fmt.Fprintf(&b, "Data sent: %s\n", sent)
	switch {
	case result != nil && result.JSON != nil:
		body, _ := json.Marshal(result.JSON)
		fmt.Fprintf(&b, "Response: %s\n", textutil.Abbreviate(string(body), 4000))
	case result != nil && result.Text != "":
		fmt.Fprintf(&b, "Response text: %s\n", textutil.Abbreviate(result.Text, 1000))
	}
	b.WriteString("\nTell the user the outcome in one or two natural sentences. Do not mention JSON or APIs.")

	resp, err := client.Complete(ctx, &llm.CompletionRequest{
		Model: modelName,
		Messages: []llm.ChatMessage{
			llm.System("You report the result of an action back to the user."),
			llm.User(b.String()),
		},
		Purpose: llm.PurposeSummarize,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		e.log.Warn("summary failed, using canned reply", zap.String("action", integ.Name), zap.Error(err))
		if ok {
			return fmt.Sprintf("Done! Your %s request went through.", integ.Name)
		}
		return fmt.Sprintf("Sorry, I couldn't complete %s right now. Please try again later.", integ.Name)
	}
	return strings.TrimSpace(resp.Content)
}

func recentTurns(history []model.ContextTurn, n int) []model.ContextTurn {
	var out []model.ContextTurn
	for _, t := range history {
		if !t.Filtered {
			out = append(out, t)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func statusOf(r *Result) int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}
