package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-relay/internal/model"
)

// newTestPostgres connects to DATABASE_URL and removes the conversation ids
// the test used once it finishes.
func newTestPostgres(t *testing.T) (*Postgres, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	p, err := NewPostgres(ctx, url)
	require.NoError(t, err)

	convID := uuid.NewString()
	t.Cleanup(func() {
		_, _ = p.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, convID)
		_ = p.Close()
	})
	return p, convID
}

func TestPostgres_ConcurrentUpsertsProduceOneDocument(t *testing.T) {
	p, convID := newTestPostgres(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := p.UpsertTurn(ctx, turn(convID, n, model.Sender{ExternalID: "s1"}))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var rows int
	require.NoError(t, p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM conversations WHERE conversation_id = $1`, convID).Scan(&rows))
	assert.Equal(t, 1, rows)

	conv, err := p.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 2*writers, conv.MessageCount)
	require.Len(t, conv.Messages, 2*writers)
	for i := 1; i < len(conv.Messages); i++ {
		assert.False(t, conv.Messages[i].Timestamp.Before(conv.Messages[i-1].Timestamp),
			"message %d out of order", i)
	}
	assert.True(t, conv.FirstMessageAt.Equal(base))
	assert.True(t, conv.LastMessageAt.Equal(conv.Messages[len(conv.Messages)-1].Timestamp))
}

func TestPostgres_UpsertReplayAndProfileMerge(t *testing.T) {
	p, convID := newTestPostgres(t)
	ctx := context.Background()

	_, err := p.UpsertTurn(ctx, turn(convID, 0, model.Sender{ExternalID: "s1", FirstName: "Jane", Timezone: "America/Toronto"}))
	require.NoError(t, err)

	// Replaying the same turn must not duplicate messages.
	_, err = p.UpsertTurn(ctx, turn(convID, 0, model.Sender{ExternalID: "s1"}))
	require.NoError(t, err)

	conv, err := p.UpsertTurn(ctx, turn(convID, 1, model.Sender{ExternalID: "s1", Username: "jdoe"}))
	require.NoError(t, err)

	assert.Equal(t, 4, conv.MessageCount)
	assert.Equal(t, "Jane", conv.Sender.FirstName)
	assert.Equal(t, "America/Toronto", conv.Sender.Timezone)
	assert.Equal(t, "jdoe", conv.Sender.Username)
	assert.Equal(t, "owner-1", conv.OwnerID)
	assert.Equal(t, model.ChannelWebsiteWidget, conv.Channel)

	ids := make([]string, len(conv.Messages))
	for i, m := range conv.Messages {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"u-0", "a-0", "u-1", "a-1"}, ids)
}

func TestPostgres_ListConversationsByOwner(t *testing.T) {
	p, convID := newTestPostgres(t)
	ctx := context.Background()

	_, err := p.UpsertTurn(ctx, turn(convID, 0, model.Sender{ExternalID: "s1"}))
	require.NoError(t, err)

	convs, total, err := p.ListConversations(ctx, "owner-1", "conn-1", 100, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	found := false
	for _, c := range convs {
		found = found || c.ID == convID
	}
	assert.True(t, found)

	_, err = p.GetConversation(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
