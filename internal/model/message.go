package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation's durable history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Filtered messages are kept in history but excluded from LLM context.
	Filtered bool `json:"filtered,omitempty"`
}

// ContextTurn is one entry of the short-term context window.
type ContextTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Filtered  bool      `json:"filtered,omitempty"`
}

// Sender is the canonical identity of the person on the other end of a channel.
type Sender struct {
	ExternalID string `json:"external_id"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	FullName   string `json:"full_name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	Username   string `json:"username,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Locale     string `json:"locale,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// DisplayName returns the best available human name for the sender.
func (s Sender) DisplayName() string {
	if s.FullName != "" {
		return s.FullName
	}
	switch {
	case s.FirstName != "" && s.LastName != "":
		return s.FirstName + " " + s.LastName
	case s.FirstName != "":
		return s.FirstName
	case s.LastName != "":
		return s.LastName
	}
	return ""
}
