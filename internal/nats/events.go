package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

const (
	// StreamName is the name of the turn events stream.
	StreamName = "AGENT_TURNS"

	// SubjectPrefix is the prefix for all turn subjects.
	SubjectPrefix = "turn"

	maxEventPages = 100
)

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// TurnSubject returns the subject a turn event is published on.
func TurnSubject(connectionID, conversationID string, state model.TurnState) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix,
		token(connectionID), token(conversationID), token(string(state)))
}

// ConversationFilter matches every event of one conversation.
func ConversationFilter(connectionID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, token(connectionID), token(conversationID))
}

func token(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}

// TurnStream handles the turn events stream.
type TurnStream struct {
	client *Client
}

// NewTurnStream creates a turn stream over client.
func NewTurnStream(client *Client) *TurnStream {
	return &TurnStream{client: client}
}

// EnsureStream creates the stream when it does not exist yet.
func (s *TurnStream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Terminal state of every processed agent turn",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTurn publishes a terminal turn event.
func (s *TurnStream) PublishTurn(ctx context.Context, ev *model.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	subject := TurnSubject(ev.ConnectionID, ev.ConversationID, ev.State)
	if _, err := s.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit events of one conversation, oldest first.
func (s *TurnStream) RecentTurns(ctx context.Context, connectionID, conversationID string, limit int) ([]model.TurnEvent, error) {
	if limit <= 0 {
		return []model.TurnEvent{}, nil
	}
	consumer, err := s.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationFilter(connectionID, conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	events := []model.TurnEvent{}
	for page := 0; page < maxEventPages; page++ {
		batch, err := consumer.FetchNoWait(limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch turn events: %w", err)
		}
		n := 0
		for msg := range batch.Messages() {
			n++
			var ev model.TurnEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				continue
			}
			events = append(events, ev)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
		if n < limit {
			break
		}
	}
	return events, nil
}

// Nop discards turn events. It is used when NATS is disabled.
type Nop struct{}

// PublishTurn does nothing.
func (Nop) PublishTurn(context.Context, *model.TurnEvent) error { return nil }
