package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

//go:embed scripts/schema.sql
var schemaFS embed.FS

const schemaVersion = 1

// Postgres implements every repository on PostgreSQL through the pgx driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pooled connection and applies the schema on first use.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables WHERE table_name = 'relay_meta'
		)`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}
	if exists {
		var applied bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM relay_meta WHERE version = $1)`, schemaVersion,
		).Scan(&applied); err != nil {
			return fmt.Errorf("meta version check failed: %w", err)
		}
		if applied {
			return nil
		}
	}

	script, err := schemaFS.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("read schema.sql: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec schema: %w", err)
	}
	return tx.Commit()
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetConnectionByWebhookID returns the active connection for webhookID.
func (p *Postgres) GetConnectionByWebhookID(ctx context.Context, webhookID string) (*model.Connection, error) {
	const q = `
		SELECT id, user_id, channel, webhook_id, webhook_secret, agent_id, active, created_at
		FROM connections
		WHERE webhook_id = $1 AND active
	`
	var (
		c       model.Connection
		channel string
	)
	err := p.db.QueryRowContext(ctx, q, webhookID).Scan(
		&c.ID, &c.UserID, &channel, &c.WebhookID, &c.WebhookSecret, &c.AgentID, &c.Active, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	c.Channel = connectionChannel(channel)
	return &c, nil
}

// GetAgent returns an agent by id.
func (p *Postgres) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	const q = `
		SELECT id, user_id, name, system_prompt, model, temperature, top_p, integrations, created_at, updated_at
		FROM agents
		WHERE id = $1
	`
	var (
		a            model.Agent
		integrations []byte
	)
	err := p.db.QueryRowContext(ctx, q, agentID).Scan(
		&a.ID, &a.UserID, &a.Name, &a.SystemPrompt, &a.Model, &a.Temperature, &a.TopP, &integrations, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if len(integrations) > 0 {
		if err := json.Unmarshal(integrations, &a.Integrations); err != nil {
			return nil, fmt.Errorf("decode agent integrations: %w", err)
		}
	}
	return &a, nil
}

// ListKnowledge returns the agent's documents, newest first.
func (p *Postgres) ListKnowledge(ctx context.Context, agentID string) ([]model.AgentKnowledge, error) {
	const q = `
		SELECT id, agent_id, file_name, source, text, created_at
		FROM agent_knowledge
		WHERE agent_id = $1
		ORDER BY created_at DESC, id ASC
	`
	rows, err := p.db.QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	var out []model.AgentKnowledge
	for rows.Next() {
		var k model.AgentKnowledge
		if err := rows.Scan(&k.ID, &k.AgentID, &k.FileName, &k.Source, &k.Text, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

const conversationColumns = `
	conversation_id, connection_id, owner_id, webhook_id, channel,
	sender_external_id, first_name, last_name, full_name, avatar_url, username, gender, locale, timezone,
	messages, message_count, first_message_at, last_message_at, created_at, updated_at, deleted
`

// upsertTurnSQL merges a turn in a single statement. The conflict target is
// the partial unique index on live documents, so concurrent writers for the
// same id serialize on the row instead of racing to insert.
const upsertTurnSQL = `
	INSERT INTO conversations (
		conversation_id, connection_id, owner_id, webhook_id, channel,
		sender_external_id, first_name, last_name, full_name, avatar_url, username, gender, locale, timezone,
		messages, message_count, first_message_at, last_message_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15::jsonb, jsonb_array_length($15::jsonb), $16, $17
	)
	ON CONFLICT (conversation_id) WHERE NOT deleted DO UPDATE SET
		messages = (
			SELECT COALESCE(jsonb_agg(d.m ORDER BY (d.m->>'timestamp')::timestamptz, d.m->>'id'), '[]'::jsonb)
			FROM (
				SELECT DISTINCT ON (m->>'id') m
				FROM jsonb_array_elements(conversations.messages || EXCLUDED.messages) AS m
			) AS d
		),
		message_count = (
			SELECT count(DISTINCT m->>'id')
			FROM jsonb_array_elements(conversations.messages || EXCLUDED.messages) AS m
		),
		first_message_at = LEAST(conversations.first_message_at, EXCLUDED.first_message_at),
		last_message_at  = GREATEST(conversations.last_message_at, EXCLUDED.last_message_at),
		first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), conversations.first_name),
		last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), conversations.last_name),
		full_name  = COALESCE(NULLIF(EXCLUDED.full_name, ''), conversations.full_name),
		avatar_url = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), conversations.avatar_url),
		username   = COALESCE(NULLIF(EXCLUDED.username, ''), conversations.username),
		gender     = COALESCE(NULLIF(EXCLUDED.gender, ''), conversations.gender),
		locale     = COALESCE(NULLIF(EXCLUDED.locale, ''), conversations.locale),
		timezone   = COALESCE(NULLIF(EXCLUDED.timezone, ''), conversations.timezone),
		updated_at = now()
	RETURNING ` + conversationColumns

// UpsertTurn merges one turn into the conversation.
func (p *Postgres) UpsertTurn(ctx context.Context, rec *model.TurnRecord) (*model.Conversation, error) {
	if rec == nil || rec.ConversationID == "" {
		return nil, errors.New("turn record requires a conversation id")
	}

	msgs := MergeMessages(nil, rec.User, rec.Assistant)
	payload, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	s := rec.Sender
	row := p.db.QueryRowContext(ctx, upsertTurnSQL,
		rec.ConversationID, rec.Meta.ConnectionID, rec.Meta.OwnerID, rec.Meta.WebhookID, string(rec.Meta.Channel),
		s.ExternalID, s.FirstName, s.LastName, s.FullName, s.AvatarURL, s.Username, s.Gender, s.Locale, s.Timezone,
		string(payload), msgs[0].Timestamp, msgs[len(msgs)-1].Timestamp,
	)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("upsert turn: %w", err)
	}
	return conv, nil
}

// GetConversation returns a live conversation by id.
func (p *Postgres) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE conversation_id = $1 AND NOT deleted`
	conv, err := scanConversation(p.db.QueryRowContext(ctx, q, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns live conversations owned by ownerID.
func (p *Postgres) ListConversations(ctx context.Context, ownerID, connectionID string, limit, offset int) ([]model.Conversation, int, error) {
	const where = ` FROM conversations WHERE owner_id = $1 AND ($2 = '' OR connection_id = $2) AND NOT deleted`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*)`+where, ownerID, connectionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	q := `SELECT ` + conversationColumns + where + ` ORDER BY last_message_at DESC LIMIT $3 OFFSET $4`
	rows, err := p.db.QueryContext(ctx, q, ownerID, connectionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *conv)
	}
	return out, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*model.Conversation, error) {
	var (
		c        model.Conversation
		channel  string
		messages []byte
	)
	err := r.Scan(
		&c.ID, &c.ConnectionID, &c.OwnerID, &c.WebhookID, &channel,
		&c.Sender.ExternalID, &c.Sender.FirstName, &c.Sender.LastName, &c.Sender.FullName, &c.Sender.AvatarURL,
		&c.Sender.Username, &c.Sender.Gender, &c.Sender.Locale, &c.Sender.Timezone,
		&messages, &c.MessageCount, &c.FirstMessageAt, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.Deleted,
	)
	if err != nil {
		return nil, err
	}
	c.Channel = model.ChannelType(channel)
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &c.Messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	}
	return &c, nil
}
