package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-relay/internal/channel"
	"github.com/capitalize-ai/agent-relay/internal/middleware"
	"github.com/capitalize-ai/agent-relay/internal/service"
	"github.com/capitalize-ai/agent-relay/internal/signature"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
)

// Short texts returned to channels when a call is rejected.
const (
	textNotFound     = "This chat is not available right now."
	textUnauthorized = "This request could not be verified."
	textEmpty        = "Please send a message so I can help."
	textUnavailable  = "Sorry, I can't respond right now. Please try again later."
	textTooLarge     = "That message is too long."
)

// Relay is the orchestrator surface the webhook endpoints need.
type Relay interface {
	HandleInbound(ctx context.Context, webhookID string, req service.InboundRequest) (*service.Ack, error)
	TakeResponse(ctx context.Context, webhookID, senderID string) (string, bool, error)
}

// WebhookHandler serves the channel-facing endpoints.
type WebhookHandler struct {
	relay  Relay
	logger *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(relay Relay, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{relay: relay, logger: log}
}

type inboundResponse struct {
	Success        bool   `json:"success"`
	Status         string `json:"status,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
}

type pollResponse struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Pending bool   `json:"pending,omitempty"`
}

// Inbound handles POST /webhooks/{webhookID}
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	if err := middleware.ValidateIdentifier("webhook id", webhookID); err != nil {
		writeJSON(w, http.StatusNotFound, inboundResponse{Text: textNotFound})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, middleware.MaxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, inboundResponse{Text: textTooLarge})
		return
	}

	ack, err := h.relay.HandleInbound(r.Context(), webhookID, service.InboundRequest{
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
		Signature:   r.Header.Get(signature.Header),
	})
	if err != nil {
		status, text := inboundError(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(r.Context(), h.logger).Error("inbound webhook failed", zap.String("webhook_id", webhookID), zap.Error(err))
		} else {
			logger.FromContext(r.Context(), h.logger).Info("inbound webhook rejected", zap.String("webhook_id", webhookID), zap.Error(err))
		}
		writeJSON(w, status, inboundResponse{Text: text})
		return
	}

	writeJSON(w, http.StatusOK, inboundResponse{
		Success:        true,
		Status:         ack.Status,
		ConversationID: ack.ConversationID,
	})
}

// Poll handles GET /webhooks/{webhookID}/response
func (h *WebhookHandler) Poll(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")
	senderID := channel.SenderIDFromQuery(r.URL.Query())

	text, ready, err := h.relay.TakeResponse(r.Context(), webhookID, senderID)
	switch {
	case errors.Is(err, service.ErrConnectionNotFound):
		writeJSON(w, http.StatusNotFound, pollResponse{Text: textNotFound})
		return
	case err != nil:
		logger.FromContext(r.Context(), h.logger).Error("poll failed", zap.String("webhook_id", webhookID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, pollResponse{Text: textUnavailable})
		return
	}

	if !ready {
		writeJSON(w, http.StatusOK, pollResponse{Text: text, Pending: true})
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{Text: text, Success: true})
}

func inboundError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrConnectionNotFound), errors.Is(err, service.ErrAgentNotFound):
		return http.StatusNotFound, textNotFound
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, textUnauthorized
	case errors.Is(err, channel.ErrEmptyMessage):
		return http.StatusBadRequest, textEmpty
	}
	return http.StatusInternalServerError, textUnavailable
}
