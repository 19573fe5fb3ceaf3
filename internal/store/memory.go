package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

// Memory is an in-process implementation of every repository, used for local
// development and tests. All operations hold a single lock, which makes
// UpsertTurn atomic per process.
type Memory struct {
	mu            sync.RWMutex
	connections   map[string]*model.Connection // keyed by id
	agents        map[string]*model.Agent
	knowledge     map[string][]model.AgentKnowledge // keyed by agent id
	conversations map[string]*model.Conversation    // live documents keyed by conversation id
	now           func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		connections:   make(map[string]*model.Connection),
		agents:        make(map[string]*model.Agent),
		knowledge:     make(map[string][]model.AgentKnowledge),
		conversations: make(map[string]*model.Conversation),
		now:           time.Now,
	}
}

// seedConnection exposes the secret that model.Connection never serializes.
type seedConnection struct {
	model.Connection
	WebhookSecret string `json:"webhook_secret"`
}

// Seed is the on-disk format accepted by LoadSeed.
type Seed struct {
	Connections []seedConnection       `json:"connections"`
	Agents      []model.Agent          `json:"agents"`
	Knowledge   []model.AgentKnowledge `json:"knowledge"`
}

// LoadSeed reads connections, agents and knowledge from a JSON file.
func (m *Memory) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	for _, c := range seed.Connections {
		if !c.Channel.Valid() {
			return fmt.Errorf("seed connection %s: unknown channel %q", c.ID, c.Channel)
		}
		conn := c.Connection
		conn.WebhookSecret = c.WebhookSecret
		m.PutConnection(conn)
	}
	for _, a := range seed.Agents {
		m.PutAgent(a)
	}
	for _, k := range seed.Knowledge {
		m.PutKnowledge(k)
	}
	return nil
}

// PutConnection inserts or replaces a connection.
func (m *Memory) PutConnection(c model.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = &c
}

// PutAgent inserts or replaces an agent.
func (m *Memory) PutAgent(a model.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = &a
}

// PutKnowledge attaches a document to its agent.
func (m *Memory) PutKnowledge(k model.AgentKnowledge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knowledge[k.AgentID] = append(m.knowledge[k.AgentID], k)
}

// GetConnectionByWebhookID returns the active connection for webhookID.
func (m *Memory) GetConnectionByWebhookID(ctx context.Context, webhookID string) (*model.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.connections {
		if c.WebhookID == webhookID && c.Active {
			out := *c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// GetAgent returns an agent by id.
func (m *Memory) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	out.Integrations = append([]model.Integration(nil), a.Integrations...)
	return &out, nil
}

// ListKnowledge returns the agent's documents, newest first.
func (m *Memory) ListKnowledge(ctx context.Context, agentID string) ([]model.AgentKnowledge, error) {
	m.mu.RLock()
	out := append([]model.AgentKnowledge(nil), m.knowledge[agentID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpsertTurn merges one turn into the conversation.
func (m *Memory) UpsertTurn(ctx context.Context, rec *model.TurnRecord) (*model.Conversation, error) {
	if rec == nil || rec.ConversationID == "" {
		return nil, fmt.Errorf("turn record requires a conversation id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	conv, ok := m.conversations[rec.ConversationID]
	if !ok {
		conv = &model.Conversation{
			ID:           rec.ConversationID,
			ConnectionID: rec.Meta.ConnectionID,
			OwnerID:      rec.Meta.OwnerID,
			WebhookID:    rec.Meta.WebhookID,
			Channel:      rec.Meta.Channel,
			CreatedAt:    now,
		}
		m.conversations[rec.ConversationID] = conv
	}

	conv.Messages = MergeMessages(conv.Messages, rec.User, rec.Assistant)
	conv.MessageCount = len(conv.Messages)
	conv.FirstMessageAt = conv.Messages[0].Timestamp
	conv.LastMessageAt = conv.Messages[len(conv.Messages)-1].Timestamp
	conv.Sender = MergeSender(conv.Sender, rec.Sender)
	conv.UpdatedAt = now

	return cloneConversation(conv), nil
}

// GetConversation returns a live conversation by id.
func (m *Memory) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListConversations returns live conversations owned by ownerID.
func (m *Memory) ListConversations(ctx context.Context, ownerID, connectionID string, limit, offset int) ([]model.Conversation, int, error) {
	m.mu.RLock()
	var convs []model.Conversation
	for _, conv := range m.conversations {
		if conv.OwnerID != ownerID {
			continue
		}
		if connectionID != "" && conv.ConnectionID != connectionID {
			continue
		}
		convs = append(convs, *cloneConversation(conv))
	}
	m.mu.RUnlock()

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return convs[start:end], total, nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Messages = append([]model.Message(nil), c.Messages...)
	return &out
}
