package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxWebhookBody bounds inbound webhook payloads.
	MaxWebhookBody = 256 << 10

	maxIdentifierLength = 128
)

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateIdentifier validates an opaque identifier such as a webhook or sender id.
func ValidateIdentifier(name, id string) error {
	if id == "" {
		return errors.New(name + " cannot be empty")
	}
	if len(id) > maxIdentifierLength {
		return errors.New(name + " exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New(name + " must be valid UTF-8")
	}
	return nil
}
