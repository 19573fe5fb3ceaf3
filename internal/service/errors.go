// Package service contains the response orchestrator and the read-side
// conversation service.
package service

import (
	"errors"

	"github.com/capitalize-ai/agent-relay/internal/llm"
)

// Failures detected before the ack is returned. No background work starts.
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

// User-facing replies used when a turn cannot be completed normally.
const (
	FallbackAuth      = "I'm having trouble connecting right now. Please try again later."
	FallbackRateLimit = "I'm receiving a lot of messages right now. Please try again in a moment."
	FallbackServer    = "Our AI service is temporarily unavailable. Please try again shortly."
	FallbackGeneric   = "Sorry, something went wrong while processing your message. Please try again."

	WaitingText = "Your response is still being prepared. Please check back in a moment."
)

// FallbackText picks the reply shown to the user when err ends a turn.
func FallbackText(err error) string {
	switch llm.Classify(err) {
	case llm.ErrorAuth:
		return FallbackAuth
	case llm.ErrorRateLimit:
		return FallbackRateLimit
	case llm.ErrorServer, llm.ErrorTimeout:
		return FallbackServer
	default:
		return FallbackGeneric
	}
}
