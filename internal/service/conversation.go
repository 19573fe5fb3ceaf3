package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/internal/store"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
)

// ErrConversationNotFound is returned for unknown conversations and for
// conversations owned by someone else.
var ErrConversationNotFound = errors.New("conversation not found")

// TurnHistory lists the recorded turn events of a conversation.
type TurnHistory interface {
	RecentTurns(ctx context.Context, connectionID, conversationID string, limit int) ([]model.TurnEvent, error)
}

// ConversationService serves the dashboard's read-only view of conversations.
type ConversationService struct {
	store  store.ConversationStore
	events TurnHistory
	logger *logger.Logger
}

// NewConversationService creates a conversation service. events may be nil
// when turn events are not recorded.
func NewConversationService(s store.ConversationStore, events TurnHistory, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.Nop()
	}
	return &ConversationService{store: s, events: events, logger: log}
}

// Get retrieves a conversation owned by ownerID.
func (s *ConversationService) Get(ctx context.Context, ownerID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv.OwnerID != ownerID || conv.Deleted {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// List retrieves conversations for an owner, optionally for one connection.
func (s *ConversationService) List(ctx context.Context, ownerID, connectionID string, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.store.ListConversations(ctx, ownerID, connectionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       offset+len(convs) < total,
	}, nil
}

// Events returns the recorded turn events of a conversation owned by ownerID.
func (s *ConversationService) Events(ctx context.Context, ownerID, conversationID string, limit int) ([]model.TurnEvent, error) {
	conv, err := s.Get(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}
	if s.events == nil {
		return []model.TurnEvent{}, nil
	}
	events, err := s.events.RecentTurns(ctx, conv.ConnectionID, conv.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("turn events: %w", err)
	}
	if events == nil {
		events = []model.TurnEvent{}
	}
	return events, nil
}
