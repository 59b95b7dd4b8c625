// Package routing combines the keyword pre-filter and the catalog's semantic
// match into a single best-match decision, classified into one of three
// confidence bands.
package routing

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/openassist/actionflow/engine/catalog"
	"github.com/openassist/actionflow/engine/keyword"
)

// Band is one of the three routing tiers derived from a match score.
type Band string

const (
	// BandDirect executes immediately without further confirmation.
	BandDirect Band = "direct"
	// BandHint proceeds to plan generation with parameter collection as
	// needed.
	BandHint Band = "hint"
	// BandIgnore takes no action; the caller falls through to its default
	// handling.
	BandIgnore Band = "ignore"
)

// Config contains the router thresholds and cache settings.
type Config struct {
	// DirectExecuteThreshold is the minimum confidence for BandDirect.
	DirectExecuteThreshold float64
	// HintThreshold is the minimum confidence for BandHint.
	HintThreshold float64
	// SemanticLimit caps the number of keyword candidates passed on.
	SemanticLimit int
	// EnableCache toggles the decision cache.
	EnableCache bool
	// OnCacheLookup, when set, observes every decision-cache lookup. Used
	// to feed the hit/miss counters of a metrics exporter.
	OnCacheLookup func(hit bool)
}

// DefaultConfig returns the default thresholds (0.95 / 0.70).
func DefaultConfig() Config {
	return Config{
		DirectExecuteThreshold: 0.95,
		HintThreshold:          0.70,
		SemanticLimit:          5,
		EnableCache:            true,
	}
}

// Decision is the outcome of routing one user turn.
type Decision struct {
	// Match is the best candidate, nil when Band is BandIgnore and no
	// candidate cleared the hint threshold.
	Match *catalog.Match
	Band  Band
	// Source records which layer produced the decision: cache, keyword or
	// semantic.
	Source string
}

// Router picks the best action match for a user input. Safe for concurrent
// use.
type Router struct {
	index   *keyword.Index
	catalog catalog.Catalog
	cfg     Config
	cache   *DecisionCache
	sf      singleflight.Group
}

// NewRouter creates a router over the given index and catalog.
func NewRouter(index *keyword.Index, cat catalog.Catalog, cfg Config) *Router {
	if cfg.DirectExecuteThreshold <= 0 {
		cfg.DirectExecuteThreshold = 0.95
	}
	if cfg.HintThreshold <= 0 {
		cfg.HintThreshold = 0.70
	}
	if cfg.SemanticLimit <= 0 {
		cfg.SemanticLimit = 5
	}

	r := &Router{
		index:   index,
		catalog: cat,
		cfg:     cfg,
	}
	if cfg.EnableCache {
		r.cache = NewDecisionCache(CacheConfig{})
	}
	return r
}

// Route classifies the input into a band and returns the best match with
// extracted parameters and the missing required-parameter set.
//
// Flow: keyword pre-filter -> keyword match -> semantic match (skipped when
// the pre-filter rejects the input, degraded to keyword-only on collaborator
// failure) -> band classification.
func (r *Router) Route(ctx context.Context, input string, contextVars map[string]any) (*Decision, error) {
	start := time.Now()

	input = strings.TrimSpace(input)
	if input == "" {
		return &Decision{Band: BandIgnore, Source: "empty"}, nil
	}

	if r.cache != nil {
		if cached, ok := r.cache.get(input); ok {
			if d := r.reviveDecision(ctx, input, cached); d != nil {
				r.observeCache(true)
				slog.Debug("route served from cache",
					"input", truncate(input, 50),
					"band", d.Band,
					"latency_ms", time.Since(start).Milliseconds())
				return d, nil
			}
		}
		// A hit whose action vanished counts as a miss: the route is
		// computed fresh either way.
		r.observeCache(false)
	}

	if !r.index.MayMatch(input) {
		slog.Debug("route pre-filter rejected input",
			"input", truncate(input, 50),
			"latency_ms", time.Since(start).Milliseconds())
		return &Decision{Band: BandIgnore, Source: "prefilter"}, nil
	}

	best, source := r.bestMatch(ctx, input, contextVars)
	if best == nil || best.Confidence < r.cfg.HintThreshold {
		slog.Debug("route below hint threshold",
			"input", truncate(input, 50),
			"latency_ms", time.Since(start).Milliseconds())
		return &Decision{Band: BandIgnore, Source: source}, nil
	}

	band := BandHint
	if best.Confidence >= r.cfg.DirectExecuteThreshold {
		band = BandDirect
	}

	r.extractParams(input, best)
	best.Missing = best.Action.MissingRequired(best.Params)

	if r.cache != nil {
		r.cache.put(input, cachedRoute{
			ActionID:   best.Action.ID,
			Confidence: best.Confidence,
			MatchType:  best.MatchType,
			Keyword:    best.MatchedKeyword,
			Band:       band,
			Source:     source,
		})
	}

	slog.Debug("route decided",
		"input", truncate(input, 50),
		"action", best.Action.ID,
		"confidence", best.Confidence,
		"band", band,
		"source", source,
		"missing", len(best.Missing),
		"latency_ms", time.Since(start).Milliseconds())

	return &Decision{Match: best, Band: band, Source: source}, nil
}

// bestMatch merges keyword and semantic candidates and returns the highest
// scored one. Concurrent semantic calls for the same input are deduplicated.
func (r *Router) bestMatch(ctx context.Context, input string, contextVars map[string]any) (*catalog.Match, string) {
	kwMatches := r.index.Match(input, r.cfg.SemanticLimit)

	var best *catalog.Match
	source := "keyword"
	if len(kwMatches) > 0 {
		best = kwMatches[0]
	}

	semMatches, err := r.semanticMatch(ctx, input, contextVars)
	if err != nil {
		// Semantic search is an optional enhancement; degrade to the
		// keyword result.
		slog.Warn("semantic match unavailable, degrading to keyword routing", "error", err)
	} else if len(semMatches) > 0 {
		top := semMatches[0]
		if best == nil || top.Confidence > best.Confidence {
			best = top
			source = "semantic"
		}
	}

	return best, source
}

// semanticMatch invokes the catalog collaborator through singleflight so that
// identical concurrent inputs share one call.
func (r *Router) semanticMatch(ctx context.Context, input string, contextVars map[string]any) ([]*catalog.Match, error) {
	v, err, _ := r.sf.Do(input, func() (any, error) {
		return r.catalog.SemanticMatch(ctx, input, contextVars)
	})
	if err != nil {
		return nil, err
	}
	matches, _ := v.([]*catalog.Match)
	return matches, nil
}

// reviveDecision rebuilds a full decision from a cache entry. Returns nil if
// the action vanished from the catalog, forcing a fresh route.
func (r *Router) reviveDecision(ctx context.Context, input string, cached cachedRoute) *Decision {
	if cached.Band == BandIgnore {
		return &Decision{Band: BandIgnore, Source: "cache"}
	}

	action, ok, err := r.catalog.GetAction(ctx, cached.ActionID)
	if err != nil || !ok {
		r.cache.Invalidate(input)
		return nil
	}

	match := &catalog.Match{
		Action:         action,
		Confidence:     cached.Confidence,
		MatchType:      cached.MatchType,
		MatchedKeyword: cached.Keyword,
	}
	r.extractParams(input, match)
	match.Missing = action.MissingRequired(match.Params)

	return &Decision{Match: match, Band: cached.Band, Source: "cache"}
}

// extractParams performs naive extraction: when a trigger keyword matched
// verbatim, the remaining text is assigned to the first required parameter
// without a value. Richer extraction belongs to the collection session.
func (r *Router) extractParams(input string, match *catalog.Match) {
	if match.Params == nil {
		match.Params = make(map[string]any)
	}
	if match.MatchedKeyword == "" {
		return
	}

	kwStart, kwEnd := foldIndex(input, match.MatchedKeyword)
	if kwStart < 0 {
		return
	}

	remainder := input[:kwStart] + input[kwEnd:]
	remainder = strings.TrimFunc(remainder, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if remainder == "" {
		return
	}

	for i := range match.Action.Parameters {
		p := &match.Action.Parameters[i]
		if !p.Required {
			continue
		}
		if _, ok := match.Params[p.Name]; ok {
			continue
		}
		match.Params[p.Name] = remainder
		return
	}
}

// observeCache reports one decision-cache lookup to the configured observer.
func (r *Router) observeCache(hit bool) {
	if r.cfg.OnCacheLookup != nil {
		r.cfg.OnCacheLookup(hit)
	}
}

// foldIndex locates substr in s under per-rune case folding and returns the
// byte offsets of the occurrence within s itself, or (-1, -1). Offsets into
// the original string stay valid even when lowering changes rune widths
// (e.g. U+212A KELVIN SIGN folds to a one-byte "k").
func foldIndex(s, substr string) (int, int) {
	if substr == "" {
		return -1, -1
	}
	for i := 0; i < len(s); {
		j, k := i, 0
		for k < len(substr) && j < len(s) {
			sr, sw := utf8.DecodeRuneInString(s[j:])
			tr, tw := utf8.DecodeRuneInString(substr[k:])
			if unicode.ToLower(sr) != unicode.ToLower(tr) {
				break
			}
			j += sw
			k += tw
		}
		if k == len(substr) {
			return i, j
		}
		_, w := utf8.DecodeRuneInString(s[i:])
		i += w
	}
	return -1, -1
}

// truncate shortens a string for log output.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
