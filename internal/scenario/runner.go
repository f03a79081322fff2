package scenario

import (
	"context"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

// Runner applies transitions and persists the result. It deliberately does
// not send anything: callers run their side effects only after a Runner
// call returns, so a crash in between leaves a resumable context rather
// than a message pointing at state that was never written.
type Runner struct {
	store    *Store
	registry *Registry
}

// Mutator adjusts the context inside the same persistence step as a
// transition, typically to record a validated input.
type Mutator func(*Context) error

func NewRunner(store *Store, registry *Registry) *Runner {
	return &Runner{store: store, registry: registry}
}

func (r *Runner) Registry() *Registry {
	return r.registry
}

func (r *Runner) Store() *Store {
	return r.store
}

// Start enters scenarioID for the user. An active non-interruptible
// scenario refuses to be replaced; an interruptible one is cancelled.
func (r *Runner) Start(ctx context.Context, userID int64, scenarioID string) (*Context, error) {
	sc := r.registry.Get(scenarioID)
	if sc == nil {
		return nil, errs.Newf(errs.ErrInvalidTransition, "unknown scenario %q", scenarioID)
	}
	conv, err := r.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conv != nil && !conv.Idle() {
		if conv.Scenario == scenarioID {
			// Restart from the top.
		} else if active := r.registry.Get(conv.Scenario); active != nil && !active.Interruptible {
			return nil, errs.Newf(errs.ErrInvalidTransition, "scenario %q is active and not interruptible", conv.Scenario)
		}
	}
	conv = NewContext(userID)
	if err := conv.Start(sc); err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Advance moves the user's context to next, applying mutators first, and
// persists before returning.
func (r *Runner) Advance(ctx context.Context, userID int64, next string, mutators ...Mutator) (*Context, error) {
	conv, err := r.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.Idle() {
		return nil, errs.New(errs.ErrInvalidTransition, "no active scenario")
	}
	sc := r.registry.Get(conv.Scenario)
	if sc == nil {
		return nil, errs.Newf(errs.ErrInvalidTransition, "active scenario %q is not registered", conv.Scenario)
	}
	for _, mutate := range mutators {
		if err := mutate(conv); err != nil {
			return nil, err
		}
	}
	if err := conv.Advance(sc, next); err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Mutate persists data changes without a transition.
func (r *Runner) Mutate(ctx context.Context, userID int64, mutators ...Mutator) (*Context, error) {
	conv, err := r.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, errs.New(errs.ErrInvalidTransition, "no active scenario")
	}
	for _, mutate := range mutators {
		if err := mutate(conv); err != nil {
			return nil, err
		}
	}
	if err := r.store.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Complete finishes the active scenario and deletes the stored context.
// The returned value still carries the data bag for completion side
// effects.
func (r *Runner) Complete(ctx context.Context, userID int64) (*Context, error) {
	conv, err := r.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.Idle() {
		return nil, errs.New(errs.ErrInvalidTransition, "no active scenario")
	}
	conv.Complete()
	if err := r.store.Delete(ctx, userID); err != nil {
		return nil, err
	}
	return conv, nil
}

// Cancel clears the context without completion side effects. Cancelling an
// absent context is a no-op.
func (r *Runner) Cancel(ctx context.Context, userID int64) error {
	return r.store.Delete(ctx, userID)
}

// SetData is the Mutator that records a single value.
func SetData(key string, value any) Mutator {
	return func(conv *Context) error {
		return conv.SetData(key, value)
	}
}
