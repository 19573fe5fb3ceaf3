package model

import (
	"time"
)

// IntegrationType is the kind of integration attached to an agent.
type IntegrationType string

const (
	IntegrationFiles    IntegrationType = "files"
	IntegrationWebhook  IntegrationType = "webhook"
	IntegrationCalendly IntegrationType = "calendly"
)

// FieldSpec describes one argument an external action requires.
type FieldSpec struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// Integration is a polymorphic agent integration. Only webhook integrations
// carry URL and Fields.
type Integration struct {
	Type        IntegrationType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Fields      []FieldSpec     `json:"fields,omitempty"`
}

// Agent is a configured chatbot.
type Agent struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	Name         string        `json:"name"`
	SystemPrompt string        `json:"system_prompt"`
	Model        string        `json:"model"`
	Temperature  float64       `json:"temperature"`
	TopP         float64       `json:"top_p"`
	Integrations []Integration `json:"integrations,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// WebhookIntegrations returns the webhook integrations in priority order.
func (a *Agent) WebhookIntegrations() []Integration {
	var out []Integration
	for _, in := range a.Integrations {
		if in.Type == IntegrationWebhook && in.URL != "" {
			out = append(out, in)
		}
	}
	return out
}

// AgentKnowledge is the extracted text of one uploaded document.
type AgentKnowledge struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	FileName  string    `json:"file_name"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
