package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-relay/internal/action"
	"github.com/capitalize-ai/agent-relay/internal/channel"
	"github.com/capitalize-ai/agent-relay/internal/llm"
	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/internal/signature"
	"github.com/capitalize-ai/agent-relay/internal/store"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
	"github.com/capitalize-ai/agent-relay/pkg/metrics"
)

// conversationNamespace seeds the name-based conversation ids.
var conversationNamespace = uuid.MustParse("6f1c2a8e-3b7d-5e49-9a0c-d2b4e8f71c35")

// ConversationID derives the conversation id for a sender on a webhook.
func ConversationID(webhookID, externalID string) string {
	return uuid.NewSHA1(conversationNamespace, []byte(webhookID+":"+externalID)).String()
}

// ContextCache is the short-term context and pending response store.
type ContextCache interface {
	AppendTurn(ctx context.Context, conversationID string, turns ...model.ContextTurn) error
	GetHistory(ctx context.Context, conversationID string) ([]model.ContextTurn, error)
	SetPendingResponse(ctx context.Context, conversationID, text string) error
	TakePendingResponse(ctx context.Context, conversationID string) (string, bool, error)
}

// ActionRunner tries the agent's webhook integrations for one message.
type ActionRunner interface {
	TryActions(ctx context.Context, client llm.Client, in action.Input) (*action.Outcome, error)
}

// KnowledgeSource builds the reference text for an agent.
type KnowledgeSource interface {
	Aggregate(ctx context.Context, agentID string) (string, error)
}

// TurnPublisher receives the terminal event of every turn.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev *model.TurnEvent) error
}

// Scheduler runs work after the request that produced it has returned.
type Scheduler interface {
	Go(name string, fn func(ctx context.Context), onPanic func(ctx context.Context, recovered any))
}

// Options tunes the orchestrator.
type Options struct {
	DefaultModel    string
	DefaultTimezone string
	ContextMaxTurns int
}

// Deps are the collaborators of a Relay.
type Deps struct {
	Connections   store.ConnectionRepository
	Agents        store.AgentRepository
	Conversations store.ConversationStore
	Cache         ContextCache
	Knowledge     KnowledgeSource
	Actions       ActionRunner
	LLM           llm.Client
	Publisher     TurnPublisher
	Scheduler     Scheduler
	Logger        *logger.Logger
}

// Relay is the response orchestrator. It acknowledges inbound messages
// synchronously and produces the reply in the background.
type Relay struct {
	Deps
	opts Options
	now  func() time.Time
}

// NewRelay creates a relay.
func NewRelay(deps Deps, opts Options) *Relay {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if opts.ContextMaxTurns <= 0 {
		opts.ContextMaxTurns = 10
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = action.FallbackTimezone
	}
	return &Relay{Deps: deps, opts: opts, now: time.Now}
}

// InboundRequest is one raw webhook call.
type InboundRequest struct {
	ContentType string
	Body        []byte
	Signature   string
}

// Ack is returned to the channel before any model work starts.
type Ack struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// Turn is the unit of background work.
type Turn struct {
	ConversationID string
	Connection     *model.Connection
	Agent          *model.Agent
	Sender         model.Sender
	User           model.Message

	state *turnState
}

// HandleInbound validates the call, schedules the turn and returns at once.
func (r *Relay) HandleInbound(ctx context.Context, webhookID string, req InboundRequest) (*Ack, error) {
	turn, err := r.accept(ctx, webhookID, req)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrAgentNotFound):
			outcome = "not_found"
		case errors.Is(err, ErrInvalidSignature):
			outcome = "unauthorized"
		case errors.Is(err, channel.ErrEmptyMessage):
			outcome = "empty"
		}
		metrics.WebhookInboundTotal.WithLabelValues("unknown", outcome).Inc()
		return nil, err
	}

	channelName := string(turn.Connection.Channel)
	metrics.WebhookInboundTotal.WithLabelValues(channelName, "accepted").Inc()
	metrics.TurnsTotal.WithLabelValues(channelName, string(model.TurnAcked)).Inc()

	r.Scheduler.Go("turn:"+turn.ConversationID,
		func(ctx context.Context) { r.ProcessTurn(ctx, turn) },
		func(ctx context.Context, recovered any) {
			r.recoverTurn(ctx, turn, fmt.Errorf("turn panicked: %v", recovered))
		},
	)

	return &Ack{ConversationID: turn.ConversationID, Status: "processing"}, nil
}

func (r *Relay) accept(ctx context.Context, webhookID string, req InboundRequest) (*Turn, error) {
	conn, err := r.Connections.GetConnectionByWebhookID(ctx, webhookID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}

	if conn.RequiresSignature() && !signature.Verify(conn.WebhookSecret, req.Body, req.Signature) {
		return nil, ErrInvalidSignature
	}

	agent, err := r.Agents.GetAgent(ctx, conn.AgentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}

	in, err := channel.Normalize(req.ContentType, req.Body)
	if err != nil {
		return nil, err
	}

	return &Turn{
		ConversationID: ConversationID(webhookID, in.Sender.ExternalID),
		Connection:     conn,
		Agent:          agent,
		Sender:         in.Sender,
		User: model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Role:      model.RoleUser,
			Content:   in.Text,
			Timestamp: r.now().UTC(),
		},
	}, nil
}

// TakeResponse hands a poll-based channel its pending reply, at most once.
func (r *Relay) TakeResponse(ctx context.Context, webhookID, senderID string) (string, bool, error) {
	if _, err := r.Connections.GetConnectionByWebhookID(ctx, webhookID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", false, ErrConnectionNotFound
		}
		return "", false, fmt.Errorf("resolve connection: %w", err)
	}
	if senderID == "" {
		senderID = channel.AnonymousSender
	}

	text, ok, err := r.Cache.TakePendingResponse(ctx, ConversationID(webhookID, senderID))
	if err != nil {
		metrics.PendingPollsTotal.WithLabelValues("error").Inc()
		return "", false, err
	}
	if !ok {
		metrics.PendingPollsTotal.WithLabelValues("waiting").Inc()
		return WaitingText, false, nil
	}
	metrics.PendingPollsTotal.WithLabelValues("ready").Inc()
	return text, true, nil
}

func (r *Relay) recoverTurn(ctx context.Context, t *Turn, cause error) {
	st := t.state
	if st == nil {
		st = r.newState(t)
	}
	if st.persisted {
		st.log.Error("turn panicked after persistence", zap.Error(cause))
		return
	}
	st.log.Error("turn aborted, persisting fallback", zap.Error(cause))
	r.finish(ctx, t, st, FallbackGeneric, cause)
}
