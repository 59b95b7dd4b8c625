package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/llm"
)

// SemanticMatcher matches free-form text to actions by embedding similarity.
// Action embeddings live in the store's vector table; the matcher only needs
// the backing database to support vector search (the postgres driver with
// pgvector).
type SemanticMatcher struct {
	store    *Store
	catalog  catalog.Catalog
	embedder llm.Embedder
	model    string
}

// NewSemanticMatcher creates a vector-search matcher. Confidence is derived
// from cosine distance: confidence = 1 - distance, clamped to [0, 1].
func NewSemanticMatcher(store *Store, cat catalog.Catalog, embedder llm.Embedder, model string) *SemanticMatcher {
	return &SemanticMatcher{
		store:    store,
		catalog:  cat,
		embedder: embedder,
		model:    model,
	}
}

var _ catalog.SemanticMatcher = (*SemanticMatcher)(nil)

// Match embeds the text and returns the closest enabled actions.
func (m *SemanticMatcher) Match(ctx context.Context, text string, _ map[string]any, limit int) ([]*catalog.Match, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	vector, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	hits, err := m.store.SearchActionEmbeddings(ctx, vector, m.model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "search action embeddings")
	}

	matches := make([]*catalog.Match, 0, len(hits))
	for _, hit := range hits {
		action, ok, err := m.catalog.GetAction(ctx, hit.ActionID)
		if err != nil || !ok || !action.Enabled {
			// Stale embedding for a removed or disabled action.
			continue
		}
		confidence := 1 - hit.Distance
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}
		matches = append(matches, &catalog.Match{
			Action:     action,
			Confidence: confidence,
			MatchType:  catalog.MatchTypeSemantic,
		})
	}
	return matches, nil
}

// IndexAction embeds an action's descriptive text and upserts its vector.
// The embedded document concatenates name, description, keywords and example
// utterances so paraphrased requests land near the action.
func (m *SemanticMatcher) IndexAction(ctx context.Context, action *catalog.ActionDefinition) error {
	doc := embeddingDocument(action)
	vector, err := m.embedder.Embed(ctx, doc)
	if err != nil {
		return errors.Wrapf(err, "embed action %s", action.ID)
	}
	embedding := &ActionEmbedding{
		ActionID:  action.ID,
		Model:     m.model,
		Embedding: vector,
		UpdatedTs: time.Now().Unix(),
	}
	if err := m.store.UpsertActionEmbedding(ctx, embedding); err != nil {
		return errors.Wrapf(err, "upsert embedding for %s", action.ID)
	}
	return nil
}

// IndexAll re-embeds every enabled action. Failures are logged and skipped so
// one bad action does not block the rest of the index.
func (m *SemanticMatcher) IndexAll(ctx context.Context) error {
	actions, err := m.catalog.ListActions(ctx)
	if err != nil {
		return errors.Wrap(err, "list actions")
	}
	for _, action := range actions {
		if err := m.IndexAction(ctx, action); err != nil {
			slog.Warn("skipping action embedding", "action_id", action.ID, "error", err)
		}
	}
	return nil
}

func embeddingDocument(action *catalog.ActionDefinition) string {
	parts := make([]string, 0, 4)
	parts = append(parts, action.Name)
	if action.Description != "" {
		parts = append(parts, action.Description)
	}
	if len(action.Keywords) > 0 {
		parts = append(parts, strings.Join(action.Keywords, " "))
	}
	if len(action.Examples) > 0 {
		parts = append(parts, strings.Join(action.Examples, " "))
	}
	return strings.Join(parts, "\n")
}
