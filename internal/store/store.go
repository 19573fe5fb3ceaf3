// Package store persists conversations and reads the agent configuration
// produced by the dashboard.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ConnectionRepository resolves connections by their webhook identifier.
type ConnectionRepository interface {
	// GetConnectionByWebhookID returns the active connection for webhookID.
	GetConnectionByWebhookID(ctx context.Context, webhookID string) (*model.Connection, error)
}

// AgentRepository resolves agents.
type AgentRepository interface {
	GetAgent(ctx context.Context, agentID string) (*model.Agent, error)
}

// KnowledgeRepository lists the documents attached to an agent.
type KnowledgeRepository interface {
	// ListKnowledge returns the agent's documents, newest first.
	ListKnowledge(ctx context.Context, agentID string) ([]model.AgentKnowledge, error)
}

// ConversationStore owns the durable conversation history.
type ConversationStore interface {
	// UpsertTurn atomically merges one turn into the live conversation with the
	// record's id, creating it when absent. Messages are deduplicated by id and
	// kept sorted by timestamp, so replaying a record is harmless.
	UpsertTurn(ctx context.Context, rec *model.TurnRecord) (*model.Conversation, error)

	// GetConversation returns a live conversation by id.
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)

	// ListConversations returns live conversations owned by ownerID, most
	// recently active first. An empty connectionID matches all connections.
	ListConversations(ctx context.Context, ownerID, connectionID string, limit, offset int) ([]model.Conversation, int, error)
}

// MergeSender overlays the non-empty fields of incoming onto existing.
func MergeSender(existing, incoming model.Sender) model.Sender {
	pick := func(old, new string) string {
		if new != "" && new != old {
			return new
		}
		return old
	}
	return model.Sender{
		ExternalID: pick(existing.ExternalID, incoming.ExternalID),
		FirstName:  pick(existing.FirstName, incoming.FirstName),
		LastName:   pick(existing.LastName, incoming.LastName),
		FullName:   pick(existing.FullName, incoming.FullName),
		AvatarURL:  pick(existing.AvatarURL, incoming.AvatarURL),
		Username:   pick(existing.Username, incoming.Username),
		Gender:     pick(existing.Gender, incoming.Gender),
		Locale:     pick(existing.Locale, incoming.Locale),
		Timezone:   pick(existing.Timezone, incoming.Timezone),
	}
}

// MergeMessages appends incoming to existing, drops messages whose id is
// already present and sorts the result by timestamp.
func MergeMessages(existing []model.Message, incoming ...model.Message) []model.Message {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]model.Message, 0, len(existing)+len(incoming))
	for _, group := range [][]model.Message{existing, incoming} {
		for _, m := range group {
			if m.ID != "" && seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// connectionChannel maps a stored channel name to a known channel type.
// Names the relay does not know are served as generic webhooks.
func connectionChannel(raw string) model.ChannelType {
	if c := model.ChannelType(raw); c.Valid() {
		return c
	}
	return model.ChannelGenericWebhook
}
