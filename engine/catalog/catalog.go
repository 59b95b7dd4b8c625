package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Catalog supplies the registered action set and a semantic-match call.
// The routing layer depends only on this interface.
type Catalog interface {
	// ListActions returns all enabled actions.
	ListActions(ctx context.Context) ([]*ActionDefinition, error)

	// GetAction returns the enabled action with the given id.
	GetAction(ctx context.Context, id string) (*ActionDefinition, bool, error)

	// SemanticMatch returns ranked candidate matches for the input text,
	// highest confidence first. No matches is an empty slice, not an error.
	SemanticMatch(ctx context.Context, text string, contextVars map[string]any) ([]*Match, error)
}

// SemanticMatcher is the pluggable similarity-search collaborator. A nil
// matcher degrades to keyword-only routing.
type SemanticMatcher interface {
	Match(ctx context.Context, text string, contextVars map[string]any, limit int) ([]*Match, error)
}

// MemoryCatalog is an in-memory, concurrency-safe Catalog implementation.
// The semantic part is delegated to an optional SemanticMatcher.
type MemoryCatalog struct {
	mu      sync.RWMutex
	actions map[string]*ActionDefinition
	matcher SemanticMatcher
	limit   int
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		actions: make(map[string]*ActionDefinition),
		limit:   5,
	}
}

// SetSemanticMatcher installs the similarity-search collaborator.
func (c *MemoryCatalog) SetSemanticMatcher(m SemanticMatcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matcher = m
}

// Register adds or replaces an action definition.
func (c *MemoryCatalog) Register(action *ActionDefinition) error {
	if action == nil || action.ID == "" {
		return errors.New("action id required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions[action.ID] = action
	return nil
}

// Unregister removes an action. Returns whether it was present.
func (c *MemoryCatalog) Unregister(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.actions[id]; !ok {
		return false
	}
	delete(c.actions, id)
	return true
}

// ListActions returns all enabled actions sorted by descending priority,
// then id for a stable order.
func (c *MemoryCatalog) ListActions(_ context.Context) ([]*ActionDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]*ActionDefinition, 0, len(c.actions))
	for _, a := range c.actions {
		if a.Enabled {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// GetAction returns the enabled action with the given id.
func (c *MemoryCatalog) GetAction(_ context.Context, id string) (*ActionDefinition, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.actions[id]
	if !ok || !a.Enabled {
		return nil, false, nil
	}
	return a, true, nil
}

// SemanticMatch delegates to the installed matcher. Without a matcher it
// returns an empty result so callers degrade to keyword routing.
func (c *MemoryCatalog) SemanticMatch(ctx context.Context, text string, contextVars map[string]any) ([]*Match, error) {
	c.mu.RLock()
	matcher := c.matcher
	limit := c.limit
	c.mu.RUnlock()

	if matcher == nil {
		return []*Match{}, nil
	}
	return matcher.Match(ctx, text, contextVars, limit)
}

var _ Catalog = (*MemoryCatalog)(nil)
