// Package catalog defines the action catalog: the registry of parameterized
// actions the assistant can perform, and the matching contracts the routing
// layer consumes.
package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

// ParamType is the semantic type of an action parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeNumber  ParamType = "number"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeEnum    ParamType = "enum"
	ParamTypeDate    ParamType = "date"
	ParamTypeArray   ParamType = "array"
)

// ParamSource declares where a parameter value comes from.
type ParamSource string

const (
	// SourceUserInput resolves from the caller-supplied parameter map.
	SourceUserInput ParamSource = "USER_INPUT"
	// SourceDefault resolves from the parameter's declared default value.
	SourceDefault ParamSource = "DEFAULT"
	// SourceContext resolves lazily from the plan's session variable map.
	SourceContext ParamSource = "CONTEXT"
	// SourcePreviousStep resolves lazily from a prior step's recorded output.
	SourcePreviousStep ParamSource = "PREVIOUS_STEP"
)

// MatchType tags how an action match was produced.
type MatchType string

const (
	MatchTypeExactKeyword MatchType = "exact_keyword"
	MatchTypeFuzzyKeyword MatchType = "fuzzy_keyword"
	MatchTypeSemantic     MatchType = "semantic"
)

// ParamConstraints holds validation constraints for a parameter value.
type ParamConstraints struct {
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// ActionParameter describes one parameter of an action or of a step inside a
// multi-step action.
type ActionParameter struct {
	Name        string            `json:"name"`
	Label       string            `json:"label,omitempty"`
	Placeholder string            `json:"placeholder,omitempty"`
	Description string            `json:"description,omitempty"`
	Type        ParamType         `json:"type"`
	Required    bool              `json:"required"`
	Default     any               `json:"default,omitempty"`
	Constraints *ParamConstraints `json:"constraints,omitempty"`

	// Source declares where the value comes from. Empty is treated as
	// USER_INPUT.
	Source ParamSource `json:"source,omitempty"`

	// Ref names the producing step (for PREVIOUS_STEP) or the session
	// variable key (for CONTEXT).
	Ref string `json:"ref,omitempty"`

	// Extract is a dotted-path expression ($.a.b) applied to the referenced
	// step's output when Source is PREVIOUS_STEP.
	Extract string `json:"extract,omitempty"`
}

// Prompt returns the user-facing question text for this parameter, preferring
// label, then placeholder, then description, with a generic fallback.
func (p *ActionParameter) Prompt() string {
	switch {
	case p.Label != "":
		return fmt.Sprintf("请提供%s", p.Label)
	case p.Placeholder != "":
		return p.Placeholder
	case p.Description != "":
		return fmt.Sprintf("请提供%s", p.Description)
	default:
		return fmt.Sprintf("请提供参数 %s 的值", p.Name)
	}
}

// ValidateValue checks a candidate value against the parameter's declared
// constraints. Nil constraints accept everything.
func (p *ActionParameter) ValidateValue(value any) error {
	c := p.Constraints
	if c == nil {
		return nil
	}

	if s, ok := value.(string); ok {
		if c.MinLength != nil && len([]rune(s)) < *c.MinLength {
			return fmt.Errorf("parameter %s: value shorter than %d characters", p.Name, *c.MinLength)
		}
		if c.MaxLength != nil && len([]rune(s)) > *c.MaxLength {
			return fmt.Errorf("parameter %s: value longer than %d characters", p.Name, *c.MaxLength)
		}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return fmt.Errorf("parameter %s: invalid pattern %q: %w", p.Name, c.Pattern, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("parameter %s: value does not match pattern %q", p.Name, c.Pattern)
			}
		}
		if len(c.Enum) > 0 {
			for _, allowed := range c.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("parameter %s: value %q not in %v", p.Name, s, c.Enum)
		}
	}

	if n, ok := toFloat(value); ok {
		if c.Min != nil && n < *c.Min {
			return fmt.Errorf("parameter %s: value %v below minimum %v", p.Name, n, *c.Min)
		}
		if c.Max != nil && n > *c.Max {
			return fmt.Errorf("parameter %s: value %v above maximum %v", p.Name, n, *c.Max)
		}
	}

	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// StepDefinition declares one step of a multi-step action.
type StepDefinition struct {
	Name              string            `json:"name"`
	Type              string            `json:"type"`
	Order             int               `json:"order"`
	Parameters        []ActionParameter `json:"parameters,omitempty"`
	ContinueOnFailure bool              `json:"continue_on_failure,omitempty"`
	Prompt            string            `json:"prompt,omitempty"`
}

// ActionDefinition is an immutable catalog entry. The engine treats it as
// read-only after registration.
type ActionDefinition struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Parameters  []ActionParameter `json:"parameters,omitempty"`

	// Steps is set for multi-step actions. Single-step actions leave it
	// empty and carry the handler binding directly.
	Steps []StepDefinition `json:"steps,omitempty"`

	// Handler is the step-type binding used for the synthetic step of a
	// single-step action.
	Handler string `json:"handler,omitempty"`

	Keywords []string `json:"keywords,omitempty"`
	Synonyms []string `json:"synonyms,omitempty"`
	Examples []string `json:"examples,omitempty"`

	Priority       int  `json:"priority,omitempty"`
	Enabled        bool `json:"enabled"`
	TimeoutMinutes int  `json:"timeout_minutes,omitempty"`
}

// MissingRequired returns the names of required parameters that are absent or
// blank in the supplied value map, in declared order.
func (a *ActionDefinition) MissingRequired(params map[string]any) []string {
	var missing []string
	for i := range a.Parameters {
		p := &a.Parameters[i]
		if !p.Required {
			continue
		}
		if isBlank(params[p.Name]) {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// Parameter returns the parameter with the given name, or nil.
func (a *ActionDefinition) Parameter(name string) *ActionParameter {
	for i := range a.Parameters {
		if a.Parameters[i].Name == name {
			return &a.Parameters[i]
		}
	}
	return nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// Match is a candidate routing result for one user turn. Created fresh per
// turn, never persisted.
type Match struct {
	Action     *ActionDefinition `json:"action"`
	Confidence float64           `json:"confidence"`
	MatchType  MatchType         `json:"match_type"`

	// MatchedKeyword is the trigger keyword found verbatim in the input, if
	// any. Used for naive parameter extraction from the remaining text.
	MatchedKeyword string `json:"matched_keyword,omitempty"`

	// Params holds parameter values extracted so far, possibly partial.
	Params map[string]any `json:"params,omitempty"`

	// Missing lists required parameters still absent from Params.
	Missing []string `json:"missing,omitempty"`
}
