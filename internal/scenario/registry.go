package scenario

import (
	"sort"
	"time"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

type (
	// Scenario is a declarative dialog flow: steps with declared outgoing
	// transitions, not behavior. Handlers attach behavior by step id.
	Scenario struct {
		ID            string
		InitialStep   string
		Steps         map[string]*Step
		MaxDuration   time.Duration
		Interruptible bool
	}

	Step struct {
		ID            string
		NextSteps     []string
		RequiresInput bool
		Skippable     bool
		Validation    *ValidationRule
	}

	// Registry is the immutable-after-boot scenario catalog.
	Registry struct {
		scenarios map[string]*Scenario
	}
)

func (s *Step) CanTransitionTo(next string) bool {
	for _, id := range s.NextSteps {
		if id == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the step has no outgoing transitions.
func (s *Step) Terminal() bool {
	return len(s.NextSteps) == 0
}

func NewRegistry() *Registry {
	return &Registry{scenarios: map[string]*Scenario{}}
}

// Register validates and adds a scenario. Registration happens during boot
// only; lookups need no locking afterwards.
func (r *Registry) Register(sc *Scenario) error {
	if sc == nil || sc.ID == "" {
		return errs.New(errs.ErrConfig, "scenario must have an id")
	}
	if _, exists := r.scenarios[sc.ID]; exists {
		return errs.Newf(errs.ErrConfig, "scenario %q is already registered", sc.ID)
	}
	if sc.MaxDuration < 0 {
		return errs.Newf(errs.ErrConfig, "scenario %q has negative max duration", sc.ID)
	}
	if _, ok := sc.Steps[sc.InitialStep]; !ok {
		return errs.Newf(errs.ErrConfig, "scenario %q initial step %q does not exist", sc.ID, sc.InitialStep)
	}
	for id, step := range sc.Steps {
		if step == nil || step.ID != id {
			return errs.Newf(errs.ErrConfig, "scenario %q step %q is malformed", sc.ID, id)
		}
		for _, next := range step.NextSteps {
			if _, ok := sc.Steps[next]; !ok {
				return errs.Newf(errs.ErrConfig, "scenario %q step %q references unknown step %q", sc.ID, id, next)
			}
		}
		if step.Validation != nil {
			if err := step.Validation.compile(); err != nil {
				return errs.Wrapf(errs.ErrConfig, err, "scenario %q step %q validation", sc.ID, id)
			}
		}
	}
	if unreachable := sc.unreachableSteps(); len(unreachable) > 0 {
		return errs.Newf(errs.ErrConfig, "scenario %q has unreachable steps %v", sc.ID, unreachable)
	}
	r.scenarios[sc.ID] = sc
	return nil
}

func (sc *Scenario) unreachableSteps() []string {
	visited := map[string]bool{}
	queue := []string{sc.InitialStep}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		if step := sc.Steps[id]; step != nil {
			queue = append(queue, step.NextSteps...)
		}
	}
	var unreachable []string
	for id := range sc.Steps {
		if !visited[id] {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	return unreachable
}

// Get returns nil for unknown ids.
func (r *Registry) Get(id string) *Scenario {
	return r.scenarios[id]
}

func (r *Registry) List() []*Scenario {
	out := make([]*Scenario, 0, len(r.scenarios))
	for _, sc := range r.scenarios {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StepOf resolves the step a context currently sits on.
func (r *Registry) StepOf(c *Context) *Step {
	if c == nil || c.Idle() {
		return nil
	}
	sc := r.Get(c.Scenario)
	if sc == nil {
		return nil
	}
	return sc.Steps[c.Step]
}
