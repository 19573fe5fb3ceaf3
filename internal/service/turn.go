package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-relay/internal/action"
	"github.com/capitalize-ai/agent-relay/internal/llm"
	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
	"github.com/capitalize-ai/agent-relay/pkg/metrics"
	"github.com/capitalize-ai/agent-relay/pkg/tracing"
)

const (
	defaultSystemPrompt = "You are a helpful assistant."
	publishTimeout      = 5 * time.Second
	persistAttempts     = 2
)

var errEmptyCompletion = errors.New("model returned an empty completion")

type turnState struct {
	started   time.Time
	log       *logger.Logger
	state     model.TurnState
	action    string
	persisted bool
}

func (r *Relay) newState(t *Turn) *turnState {
	return &turnState{
		started: r.now(),
		log:     r.Logger.ForTurn(t.Connection.WebhookID, t.ConversationID),
		state:   model.TurnAcked,
	}
}

func (st *turnState) enter(s model.TurnState) {
	st.state = s
	st.log.Debug("turn state", zap.String("turn_state", string(s)))
}

// Result summarizes a processed turn.
type Result struct {
	Reply     string
	State     model.TurnState
	Action    string
	Durable   bool
	ErrorKind llm.ErrorKind
}

// ProcessTurn produces the reply for t and persists both messages. It always
// persists, falling back to a canned reply when generation fails.
func (r *Relay) ProcessTurn(ctx context.Context, t *Turn) *Result {
	ctx, span := tracing.Start(ctx, "turn.process",
		attribute.String("conversation.id", t.ConversationID),
		attribute.String("webhook.id", t.Connection.WebhookID),
	)
	defer span.End()

	st := r.newState(t)
	t.state = st

	history, err := r.Cache.GetHistory(ctx, t.ConversationID)
	if err != nil {
		st.log.Warn("context history unavailable", zap.Error(err))
		history = nil
	}

	t.User.Filtered = IsPleasantry(t.User.Content)
	if err := r.Cache.AppendTurn(ctx, t.ConversationID, contextTurn(t.User)); err != nil {
		st.log.Warn("failed to cache user turn", zap.Error(err))
	}

	reply, genErr := r.generate(ctx, t, st, history)
	if genErr != nil {
		st.log.Error("turn generation failed", zap.Error(genErr), zap.String("error_kind", string(llm.Classify(genErr))))
		span.RecordError(genErr)
		reply = FallbackText(genErr)
	}
	return r.finish(ctx, t, st, reply, genErr)
}

func (r *Relay) generate(ctx context.Context, t *Turn, st *turnState, history []model.ContextTurn) (string, error) {
	modelName := r.modelFor(t.Agent)

	if integrations := t.Agent.WebhookIntegrations(); len(integrations) > 0 && r.Actions != nil {
		st.enter(model.TurnActionAttempted)
		outcome, err := r.Actions.TryActions(ctx, r.LLM, action.Input{
			UserText:     t.User.Content,
			Integrations: integrations,
			Model:        modelName,
			Timezone:     t.Sender.Timezone,
			History:      history,
		})
		if err != nil {
			return "", fmt.Errorf("actions: %w", err)
		}
		if outcome != nil {
			st.enter(model.TurnActionResolved)
			st.action = outcome.Action
			st.log.Info("action resolved turn", zap.String("action", outcome.Action), zap.String("kind", string(outcome.Kind)))
			return outcome.Reply, nil
		}
	}
	st.enter(model.TurnActionSkipped)

	st.enter(model.TurnCompleting)
	return r.complete(ctx, t, st, modelName, history)
}

func (r *Relay) complete(ctx context.Context, t *Turn, st *turnState, modelName string, history []model.ContextTurn) (string, error) {
	var knowledge string
	if r.Knowledge != nil {
		k, err := r.Knowledge.Aggregate(ctx, t.Agent.ID)
		if err != nil {
			st.log.Warn("knowledge unavailable, answering without it", zap.Error(err))
		}
		knowledge = k
	}

	resp, err := r.LLM.Complete(ctx, &llm.CompletionRequest{
		Model:       modelName,
		Messages:    BuildMessages(t.Agent, knowledge, t.Sender, history, t.User.Content, r.opts.ContextMaxTurns),
		Temperature: t.Agent.Temperature,
		TopP:        t.Agent.TopP,
		Purpose:     llm.PurposeReply,
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", errEmptyCompletion
	}
	return reply, nil
}

// finish writes the reply to the pending slot, the context window and the
// conversation store, in that order, then publishes the terminal event.
func (r *Relay) finish(ctx context.Context, t *Turn, st *turnState, reply string, genErr error) *Result {
	ts := r.now().UTC()
	if !ts.After(t.User.Timestamp) {
		ts = t.User.Timestamp.Add(time.Microsecond)
	}
	assistant := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleAssistant,
		Content:   reply,
		Timestamp: ts,
		Filtered:  t.User.Filtered,
	}

	if err := r.Cache.SetPendingResponse(ctx, t.ConversationID, reply); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("pending").Inc()
		st.log.Error("failed to store pending response", zap.Error(err))
	}
	if err := r.Cache.AppendTurn(ctx, t.ConversationID, contextTurn(assistant)); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("context").Inc()
		st.log.Warn("failed to cache assistant turn", zap.Error(err))
	}

	rec := &model.TurnRecord{
		ConversationID: t.ConversationID,
		Meta: model.ChannelMeta{
			ConnectionID: t.Connection.ID,
			OwnerID:      t.Connection.UserID,
			WebhookID:    t.Connection.WebhookID,
			Channel:      t.Connection.Channel,
		},
		Sender:    t.Sender,
		User:      t.User,
		Assistant: assistant,
	}

	var storeErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if _, storeErr = r.Conversations.UpsertTurn(ctx, rec); storeErr == nil {
			break
		}
		st.log.Warn("conversation upsert failed", zap.Int("attempt", attempt), zap.Error(storeErr))
	}
	durable := storeErr == nil
	if !durable {
		metrics.PersistenceFailuresTotal.WithLabelValues("store").Inc()
		st.log.Error("turn not persisted", zap.Error(storeErr))
	}
	st.persisted = true

	final := model.TurnPersisted
	if genErr != nil || !durable {
		final = model.TurnPersistedWithError
	}
	st.enter(final)

	res := &Result{
		Reply:     reply,
		State:     final,
		Action:    st.action,
		Durable:   durable,
		ErrorKind: llm.Classify(genErr),
	}
	r.publish(ctx, t, st, res)

	elapsed := time.Since(st.started)
	metrics.RecordTurn(string(t.Connection.Channel), string(final), elapsed.Seconds())
	st.log.Info("turn completed",
		zap.String("turn_state", string(final)),
		zap.Bool("durable", durable),
		zap.Duration("duration", elapsed),
	)
	return res
}

func (r *Relay) publish(ctx context.Context, t *Turn, st *turnState, res *Result) {
	if r.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ev := &model.TurnEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: t.ConversationID,
		ConnectionID:   t.Connection.ID,
		WebhookID:      t.Connection.WebhookID,
		State:          res.State,
		Action:         res.Action,
		ErrorKind:      string(res.ErrorKind),
		Durable:        res.Durable,
		LatencyMs:      time.Since(st.started).Milliseconds(),
		CreatedAt:      r.now().UTC(),
	}
	if err := r.Publisher.PublishTurn(ctx, ev); err != nil {
		st.log.Warn("failed to publish turn event", zap.Error(err))
	}
}

func (r *Relay) modelFor(a *model.Agent) string {
	if a.Model != "" {
		return a.Model
	}
	return r.opts.DefaultModel
}

func contextTurn(m model.Message) model.ContextTurn {
	return model.ContextTurn{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp, Filtered: m.Filtered}
}
