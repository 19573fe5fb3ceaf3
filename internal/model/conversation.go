package model

import (
	"time"
)

// Conversation is the durable history of one (connection, sender) thread.
type Conversation struct {
	ID             string      `json:"id"`
	ConnectionID   string      `json:"connection_id"`
	OwnerID        string      `json:"owner_id"`
	WebhookID      string      `json:"webhook_id"`
	Channel        ChannelType `json:"channel"`
	Sender         Sender      `json:"sender"`
	Messages       []Message   `json:"messages"`
	MessageCount   int         `json:"message_count"`
	FirstMessageAt time.Time   `json:"first_message_at"`
	LastMessageAt  time.Time   `json:"last_message_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Deleted        bool        `json:"deleted,omitempty"`
}

// ChannelMeta identifies where a turn came from.
type ChannelMeta struct {
	ConnectionID string
	OwnerID      string
	WebhookID    string
	Channel      ChannelType
}

// TurnRecord is one processed exchange to be merged into a conversation.
type TurnRecord struct {
	ConversationID string
	Meta           ChannelMeta
	Sender         Sender
	User           Message
	Assistant      Message
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
