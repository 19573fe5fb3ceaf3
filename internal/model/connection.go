// Package model defines data structures for the agent relay.
package model

import (
	"time"
)

// ChannelType identifies the kind of channel a connection is deployed on.
type ChannelType string

const (
	ChannelWebsiteWidget     ChannelType = "website-widget"
	ChannelInstagramDMs      ChannelType = "instagram-dms"
	ChannelFacebookMessenger ChannelType = "facebook-messenger"
	ChannelSMS               ChannelType = "sms"
	ChannelGenericWebhook    ChannelType = "generic-webhook"
)

// Valid reports whether c is one of the known channel types.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelWebsiteWidget, ChannelInstagramDMs, ChannelFacebookMessenger, ChannelSMS, ChannelGenericWebhook:
		return true
	}
	return false
}

// Connection is one deployed channel instance of an agent.
type Connection struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Channel       ChannelType `json:"channel"`
	WebhookID     string      `json:"webhook_id"`
	WebhookSecret string      `json:"-"`
	AgentID       string      `json:"agent_id"`
	Active        bool        `json:"active"`
	CreatedAt     time.Time   `json:"created_at"`
}

// RequiresSignature reports whether inbound calls must carry an HMAC signature.
func (c *Connection) RequiresSignature() bool {
	return c.WebhookSecret != ""
}
