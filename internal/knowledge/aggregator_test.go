package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/internal/store"
)

func seeded(docs ...model.AgentKnowledge) *store.Memory {
	m := store.NewMemory()
	for _, d := range docs {
		m.PutKnowledge(d)
	}
	return m
}

func TestAggregate_NewestFirstWithHeaders(t *testing.T) {
	now := time.Now()
	repo := seeded(
		model.AgentKnowledge{ID: "1", AgentID: "a", FileName: "hours.txt", Text: "Open 9-5", CreatedAt: now.Add(-time.Hour)},
		model.AgentKnowledge{ID: "2", AgentID: "a", FileName: "menu.pdf", Source: "upload", Text: "Soup", CreatedAt: now},
	)

	out, err := NewAggregator(repo, 0, 0).Aggregate(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, "--- menu.pdf (upload) ---\nSoup\n\n--- hours.txt ---\nOpen 9-5", out)
}

func TestAggregate_RespectsCeilings(t *testing.T) {
	now := time.Now()
	var docs []model.AgentKnowledge
	for i := 0; i < 6; i++ {
		docs = append(docs, model.AgentKnowledge{
			ID:        string(rune('a' + i)),
			AgentID:   "agent",
			FileName:  "doc.txt",
			Text:      strings.Repeat("x", 500),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}
	agg := NewAggregator(seeded(docs...), 100, 350)

	out, err := agg.Aggregate(context.Background(), "agent")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), 350)
	for _, section := range strings.Split(out, "\n\n") {
		body := section[strings.Index(section, "\n")+1:]
		assert.LessOrEqual(t, len(body), 100)
	}

	again, err := agg.Aggregate(context.Background(), "agent")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestAggregate_SkipsEmptyDocuments(t *testing.T) {
	repo := seeded(model.AgentKnowledge{ID: "1", AgentID: "a", FileName: "blank", Text: "   "})
	out, err := NewAggregator(repo, 0, 0).Aggregate(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAggregate_KeepsRunesWhole(t *testing.T) {
	repo := seeded(model.AgentKnowledge{ID: "1", AgentID: "a", FileName: "menu", Text: "crème brûlée"})
	out, err := NewAggregator(repo, 4, 0).Aggregate(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "crè")
	assert.NotContains(t, out, "crèm")
}

type failingRepo struct{}

func (failingRepo) ListKnowledge(context.Context, string) ([]model.AgentKnowledge, error) {
	return nil, errors.New("db down")
}

func TestAggregate_PropagatesRepositoryError(t *testing.T) {
	_, err := NewAggregator(failingRepo{}, 0, 0).Aggregate(context.Background(), "a")
	assert.Error(t, err)
}
