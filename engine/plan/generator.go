package plan

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/openassist/actionflow/engine/catalog"
)

// DefaultTimeout is the plan expiry applied when neither the action nor the
// generation context declares one.
const DefaultTimeout = 30 * time.Minute

// GenContext carries caller-side settings for plan generation.
type GenContext struct {
	SessionID string
	UserID    int32
	// TimeoutMinutes overrides the action-declared plan timeout when > 0.
	TimeoutMinutes int
	// Context seeds the plan's session variable map.
	Context map[string]any
}

// Generator materializes execution plans from matched actions.
type Generator struct{}

// NewGenerator creates a plan generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds a plan for the action with the supplied parameter values.
//
// Single-step actions get exactly one synthetic "execute" step carrying the
// action's handler binding and the parameters as input. Multi-step actions
// iterate the declared steps in order, resolving each declared input by
// source: USER_INPUT/unset from the parameter map, DEFAULT from the declared
// default, PREVIOUS_STEP/CONTEXT deferred to execution time.
func (g *Generator) Generate(action *catalog.ActionDefinition, params map[string]any, genCtx *GenContext) (*Plan, error) {
	if action == nil {
		return nil, fmt.Errorf("generate: action is nil")
	}
	if genCtx == nil {
		genCtx = &GenContext{}
	}

	p := NewPlan(uuid.NewString(), action.ID)
	p.ActionName = action.Name
	p.SessionID = genCtx.SessionID
	p.UserID = genCtx.UserID
	p.MergeContext(genCtx.Context)

	timeout := DefaultTimeout
	if action.TimeoutMinutes > 0 {
		timeout = time.Duration(action.TimeoutMinutes) * time.Minute
	}
	if genCtx.TimeoutMinutes > 0 {
		timeout = time.Duration(genCtx.TimeoutMinutes) * time.Minute
	}
	p.ExpireAt = p.CreatedAt.Add(timeout)

	if len(action.Steps) == 0 {
		p.Steps = []*Step{g.singleStep(action, params)}
		return p, nil
	}

	defs := make([]catalog.StepDefinition, len(action.Steps))
	copy(defs, action.Steps)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })

	// Step names map to generated ids so PREVIOUS_STEP refs can be resolved
	// against recorded outputs.
	idByName := make(map[string]string, len(defs))
	steps := make([]*Step, 0, len(defs))
	for i, def := range defs {
		step := &Step{
			ID:                "step-" + shortuuid.New(),
			Name:              def.Name,
			Type:              def.Type,
			Order:             i,
			Input:             make(map[string]any),
			Status:            StepPending,
			ContinueOnFailure: def.ContinueOnFailure,
			Prompt:            def.Prompt,
		}
		idByName[def.Name] = step.ID

		for _, param := range def.Parameters {
			switch param.Source {
			case catalog.SourceDefault:
				if param.Default != nil {
					step.Input[param.Name] = param.Default
				}
			case catalog.SourcePreviousStep:
				ref := param.Ref
				if id, ok := idByName[ref]; ok {
					ref = id
				}
				step.Bindings = append(step.Bindings, Binding{
					Name:    param.Name,
					Source:  catalog.SourcePreviousStep,
					Ref:     ref,
					Extract: param.Extract,
				})
			case catalog.SourceContext:
				step.Bindings = append(step.Bindings, Binding{
					Name:   param.Name,
					Source: catalog.SourceContext,
					Ref:    param.Ref,
				})
			default: // USER_INPUT or unset
				if v, ok := params[param.Name]; ok {
					step.Input[param.Name] = v
				} else if param.Default != nil {
					step.Input[param.Name] = param.Default
				}
			}
		}
		steps = append(steps, step)
	}
	p.Steps = steps
	return p, nil
}

// singleStep synthesizes the lone "execute" step of a single-step action.
func (g *Generator) singleStep(action *catalog.ActionDefinition, params map[string]any) *Step {
	input := make(map[string]any, len(params))
	for k, v := range params {
		input[k] = v
	}
	for i := range action.Parameters {
		param := &action.Parameters[i]
		if _, ok := input[param.Name]; !ok && param.Default != nil {
			input[param.Name] = param.Default
		}
	}

	stepType := action.Handler
	if stepType == "" {
		stepType = action.ID
	}
	return &Step{
		ID:     "step-" + shortuuid.New(),
		Name:   "execute",
		Type:   stepType,
		Order:  0,
		Input:  input,
		Status: StepPending,
	}
}

// Validate rejects plans that cannot be executed: zero steps, or a step
// without a type tag.
func (g *Generator) Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("validate: plan is nil")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("validate: plan %s has no steps", p.ID)
	}
	for _, step := range p.Steps {
		if step.Type == "" {
			return fmt.Errorf("validate: plan %s step %s has no type", p.ID, step.ID)
		}
	}
	return nil
}
