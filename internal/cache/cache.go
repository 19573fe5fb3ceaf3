// Package cache holds the short-term conversation context and the pending
// response slot used by polling channels.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/pkg/logger"
)

const (
	DefaultMaxTurns   = 10
	DefaultContextTTL = 30 * time.Minute
	DefaultPendingTTL = 5 * time.Minute
)

// Options bounds what the cache retains.
type Options struct {
	MaxTurns   int
	ContextTTL time.Duration
	PendingTTL time.Duration
}

// Cache is a Redis-backed context window. Turn lists are trimmed to the last
// MaxTurns entries and expire after ContextTTL of inactivity.
type Cache struct {
	rdb  redis.Cmdable
	opts Options
}

// New creates a cache over rdb, filling unset options with defaults.
func New(rdb redis.Cmdable, opts Options) *Cache {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.ContextTTL <= 0 {
		opts.ContextTTL = DefaultContextTTL
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	return &Cache{rdb: rdb, opts: opts}
}

func turnsKey(conversationID string) string {
	return fmt.Sprintf("ctx:%s:turns", conversationID)
}

func pendingKey(conversationID string) string {
	return fmt.Sprintf("ctx:%s:pending", conversationID)
}

// AppendTurn adds turns to the end of the window and refreshes its expiry.
func (c *Cache) AppendTurn(ctx context.Context, conversationID string, turns ...model.ContextTurn) error {
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, b)
	}

	key := turnsKey(conversationID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-c.opts.MaxTurns), -1)
		pipe.Expire(ctx, key, c.opts.ContextTTL)
		return nil
	})
	if err != nil {
		logger.Global().Error("failed to append context turn", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// GetHistory returns the retained turns, oldest first. An expired or unknown
// conversation yields an empty slice.
func (c *Cache) GetHistory(ctx context.Context, conversationID string) ([]model.ContextTurn, error) {
	key := turnsKey(conversationID)
	rows, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]model.ContextTurn, 0, len(rows))
	for i, s := range rows {
		var t model.ContextTurn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			logger.Global().Warn("skipping undecodable context turn", zap.String("key", key), zap.Int("index", i), zap.Error(err))
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// SetPendingResponse stores text for a later poll, replacing any earlier value.
func (c *Cache) SetPendingResponse(ctx context.Context, conversationID, text string) error {
	if err := c.rdb.Set(ctx, pendingKey(conversationID), text, c.opts.PendingTTL).Err(); err != nil {
		return fmt.Errorf("set pending response: %w", err)
	}
	return nil
}

// TakePendingResponse returns and clears the pending response. The second
// return value is false when no response is waiting.
func (c *Cache) TakePendingResponse(ctx context.Context, conversationID string) (string, bool, error) {
	text, err := c.rdb.GetDel(ctx, pendingKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take pending response: %w", err)
	}
	return text, true, nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
