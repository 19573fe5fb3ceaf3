// Package knowledge assembles an agent's uploaded documents into one block of
// reference text for the system prompt.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/capitalize-ai/agent-relay/internal/model"
	"github.com/capitalize-ai/agent-relay/internal/store"
	"github.com/capitalize-ai/agent-relay/pkg/textutil"
)

const (
	DefaultDocLimit   = 8000
	DefaultTotalLimit = 24000
)

// Aggregator concatenates knowledge documents under per-document and total
// character ceilings.
type Aggregator struct {
	repo       store.KnowledgeRepository
	docLimit   int
	totalLimit int
}

// NewAggregator creates an aggregator. Non-positive limits use the defaults.
func NewAggregator(repo store.KnowledgeRepository, docLimit, totalLimit int) *Aggregator {
	if docLimit <= 0 {
		docLimit = DefaultDocLimit
	}
	if totalLimit <= 0 {
		totalLimit = DefaultTotalLimit
	}
	return &Aggregator{repo: repo, docLimit: docLimit, totalLimit: totalLimit}
}

// Aggregate returns the agent's knowledge, newest document first. The result
// never exceeds the total ceiling; documents that no longer fit are dropped.
func (a *Aggregator) Aggregate(ctx context.Context, agentID string) (string, error) {
	docs, err := a.repo.ListKnowledge(ctx, agentID)
	if err != nil {
		return "", fmt.Errorf("list knowledge: %w", err)
	}

	var b strings.Builder
	for _, doc := range docs {
		text := strings.TrimSpace(doc.Text)
		if text == "" {
			continue
		}
		text = textutil.Truncate(text, a.docLimit)

		var section string
		if b.Len() > 0 {
			section = "\n\n"
		}
		section += header(doc) + "\n" + text

		remaining := a.totalLimit - b.Len()
		if len(section) > remaining {
			// Keep a partial tail only when at least the header fits.
			if remaining > len(header(doc))+len("\n\n")+1 {
				b.WriteString(textutil.Truncate(section, remaining))
			}
			break
		}
		b.WriteString(section)
	}
	return b.String(), nil
}

func header(doc model.AgentKnowledge) string {
	name := doc.FileName
	if name == "" {
		name = doc.ID
	}
	if doc.Source != "" {
		return fmt.Sprintf("--- %s (%s) ---", name, doc.Source)
	}
	return fmt.Sprintf("--- %s ---", name)
}
