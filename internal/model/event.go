package model

import (
	"time"
)

// TurnState is a step of the per-turn state machine.
type TurnState string

const (
	TurnReceived           TurnState = "received"
	TurnAcked              TurnState = "acked"
	TurnActionAttempted    TurnState = "action_attempted"
	TurnActionResolved     TurnState = "action_resolved"
	TurnActionSkipped      TurnState = "action_skipped"
	TurnCompleting         TurnState = "completing"
	TurnPersisted          TurnState = "persisted"
	TurnPersistedWithError TurnState = "persisted_with_error"
)

// Terminal reports whether no further transitions follow s.
func (s TurnState) Terminal() bool {
	return s == TurnPersisted || s == TurnPersistedWithError
}

// TurnEvent is published once a turn reaches a terminal state.
type TurnEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ConnectionID   string    `json:"connection_id"`
	WebhookID      string    `json:"webhook_id"`
	State          TurnState `json:"state"`
	Action         string    `json:"action,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Durable        bool      `json:"durable"`
	LatencyMs      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
