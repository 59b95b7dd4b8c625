// Package keyword implements the in-memory inverted keyword index used as a
// cheap first-pass filter and fuzzy matcher before semantic routing.
package keyword

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/openassist/actionflow/engine/catalog"
)

// Index maps normalized tokens to candidate actions. It keeps a forward map
// (action id -> token set) and an inverted index (token -> action-id set).
// Registration is atomic per action: readers never observe a half-indexed
// action.
type Index struct {
	mu       sync.RWMutex
	forward  map[string]*indexedAction
	inverted map[string]map[string]struct{}
}

type indexedAction struct {
	action   *catalog.ActionDefinition
	tokens   map[string]struct{}
	keywords []string // trigger keywords + synonyms, for verbatim containment
}

// NewIndex creates an empty keyword index.
func NewIndex() *Index {
	return &Index{
		forward:  make(map[string]*indexedAction),
		inverted: make(map[string]map[string]struct{}),
	}
}

// Register tokenizes the action's trigger keywords, synonyms, example inputs
// and name, and indexes the action. Re-registering the same action is
// idempotent. Disabled actions are removed instead.
func (idx *Index) Register(action *catalog.ActionDefinition) {
	if action == nil || action.ID == "" {
		return
	}
	if !action.Enabled {
		idx.Remove(action.ID)
		return
	}

	tokens := make(map[string]struct{})
	addTokens(tokens, action.Name)
	for _, kw := range action.Keywords {
		addTokens(tokens, kw)
	}
	for _, syn := range action.Synonyms {
		addTokens(tokens, syn)
	}
	for _, ex := range action.Examples {
		addTokens(tokens, ex)
	}

	keywords := make([]string, 0, len(action.Keywords)+len(action.Synonyms))
	for _, kw := range action.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	for _, syn := range action.Synonyms {
		if syn = strings.ToLower(strings.TrimSpace(syn)); syn != "" {
			keywords = append(keywords, syn)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, ok := idx.forward[action.ID]; ok {
		idx.dropInverted(action.ID, prev.tokens)
	}
	idx.forward[action.ID] = &indexedAction{
		action:   action,
		tokens:   tokens,
		keywords: keywords,
	}
	for token := range tokens {
		set, ok := idx.inverted[token]
		if !ok {
			set = make(map[string]struct{})
			idx.inverted[token] = set
		}
		set[action.ID] = struct{}{}
	}
}

// addTokens merges the tokens of text into the set.
func addTokens(tokens map[string]struct{}, text string) {
	for token := range Tokenize(text) {
		tokens[token] = struct{}{}
	}
}

// Remove drops an action from both maps.
func (idx *Index) Remove(actionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, ok := idx.forward[actionID]
	if !ok {
		return
	}
	idx.dropInverted(actionID, prev.tokens)
	delete(idx.forward, actionID)
}

// dropInverted removes an action's tokens from the inverted index. Lock must
// be held.
func (idx *Index) dropInverted(actionID string, tokens map[string]struct{}) {
	for token := range tokens {
		if set, ok := idx.inverted[token]; ok {
			delete(set, actionID)
			if len(set) == 0 {
				delete(idx.inverted, token)
			}
		}
	}
}

// MayMatch reports whether any token of the input intersects the inverted
// index. It is the cheap pre-filter run before the semantic call.
func (idx *Index) MayMatch(text string) bool {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return false
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for token := range tokens {
		if _, ok := idx.inverted[token]; ok {
			return true
		}
	}
	return false
}

// Size returns the number of distinct tokens in the inverted index.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.inverted)
}

// Match scores every action sharing at least one token with the input and
// returns up to limit matches sorted by descending confidence.
//
// Scoring: +1 per shared token; +len(keyword)*0.5 when the lowercase input
// contains a trigger keyword verbatim (which also upgrades the match type to
// exact). The raw score is normalized by max(tokenCount*0.5, 3), boosted by
// priority*0.05, and capped at 1.0.
func (idx *Index) Match(text string, limit int) []*catalog.Match {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	candidates := make(map[string]struct{})
	for token := range tokens {
		for actionID := range idx.inverted[token] {
			candidates[actionID] = struct{}{}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	matches := make([]*catalog.Match, 0, len(candidates))
	for actionID := range candidates {
		ia := idx.forward[actionID]
		if ia == nil {
			continue
		}

		score := 0.0
		shared := 0
		for token := range tokens {
			if _, ok := ia.tokens[token]; ok {
				shared++
			}
		}
		score += float64(shared)

		matchType := catalog.MatchTypeFuzzyKeyword
		matchedKeyword := ""
		for _, kw := range ia.keywords {
			if strings.Contains(lower, kw) {
				score += float64(len([]rune(kw))) * 0.5
				matchType = catalog.MatchTypeExactKeyword
				if len(kw) > len(matchedKeyword) {
					matchedKeyword = kw
				}
			}
		}

		norm := float64(len(tokens)) * 0.5
		if norm < 3 {
			norm = 3
		}
		confidence := score/norm + float64(ia.action.Priority)*0.05
		if confidence > 1.0 {
			confidence = 1.0
		}

		matches = append(matches, &catalog.Match{
			Action:         ia.action,
			Confidence:     confidence,
			MatchType:      matchType,
			MatchedKeyword: matchedKeyword,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Tokenize normalizes text into the token set used by both registration and
// matching: lowercase whitespace/punctuation-delimited words, plus every
// contiguous CJK run and its 2-gram and 3-gram substrings (CJK text has no
// word boundaries).
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	lower := strings.ToLower(text)

	var word []rune
	var cjk []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens[string(word)] = struct{}{}
			word = word[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) > 0 {
			addCJKGrams(tokens, cjk)
			cjk = cjk[:0]
		}
	}

	for _, r := range lower {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()

	return tokens
}

// addCJKGrams indexes a contiguous CJK run as the full run plus its 2-gram
// and 3-gram substrings.
func addCJKGrams(tokens map[string]struct{}, run []rune) {
	tokens[string(run)] = struct{}{}
	for n := 2; n <= 3; n++ {
		if len(run) < n {
			break
		}
		for i := 0; i+n <= len(run); i++ {
			tokens[string(run[i:i+n])] = struct{}{}
		}
	}
}

// isCJK reports whether the rune is a CJK ideograph.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		(r >= 0x3040 && r <= 0x30FF) || // Hiragana, Katakana
		(r >= 0xAC00 && r <= 0xD7AF) // Hangul syllables
}
