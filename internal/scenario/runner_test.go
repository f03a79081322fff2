package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swingbuddy/swingbuddy/internal/errs"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(testScenario()); err != nil {
		t.Fatalf("register quiz: %v", err)
	}
	if err := registry.Register(&Scenario{
		ID:            "survey",
		InitialStep:   "intro",
		MaxDuration:   time.Hour,
		Interruptible: true,
		Steps: map[string]*Step{
			"intro": {ID: "intro", NextSteps: []string{"done"}},
			"done":  {ID: "done"},
		},
	}); err != nil {
		t.Fatalf("register survey: %v", err)
	}
	return NewRunner(newTestStore(t), registry)
}

func TestRunnerStartAdvanceComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRunner(t)

	conv, err := r.Start(ctx, 1, "quiz")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !conv.At("quiz", "question") {
		t.Fatalf("unexpected position %s/%s", conv.Scenario, conv.Step)
	}

	conv, err = r.Advance(ctx, 1, "answer", SetData("choice", "b"))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if conv.Step != "answer" {
		t.Fatalf("expected step answer, got %s", conv.Step)
	}

	done, err := r.Complete(ctx, 1)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got, _ := done.GetString("choice"); got != "b" {
		t.Fatal("completion should still expose accumulated data")
	}
	if exists, _ := r.Store().Exists(ctx, 1); exists {
		t.Fatal("completed context should be deleted from the store")
	}
}

func TestRunnerStartUnknownScenario(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t)
	_, err := r.Start(context.Background(), 1, "ghost")
	if !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRunnerNonInterruptibleRefusesReplacement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRunner(t)
	if _, err := r.Start(ctx, 1, "quiz"); err != nil {
		t.Fatalf("start quiz: %v", err)
	}
	// quiz is not interruptible, survey must not displace it.
	_, err := r.Start(ctx, 1, "survey")
	if !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("expected refusal, got %v", err)
	}
	conv, err := r.Store().Load(ctx, 1)
	if err != nil || conv == nil || conv.Scenario != "quiz" {
		t.Fatalf("quiz should still be active: %+v %v", conv, err)
	}
}

func TestRunnerInterruptibleIsReplaced(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRunner(t)
	if _, err := r.Start(ctx, 2, "survey"); err != nil {
		t.Fatalf("start survey: %v", err)
	}
	conv, err := r.Start(ctx, 2, "quiz")
	if err != nil {
		t.Fatalf("quiz should displace interruptible survey: %v", err)
	}
	if !conv.At("quiz", "question") {
		t.Fatalf("unexpected position %s/%s", conv.Scenario, conv.Step)
	}
}

func TestRunnerRestartSameScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRunner(t)
	if _, err := r.Start(ctx, 3, "quiz"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Advance(ctx, 3, "answer", SetData("leftover", true)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	conv, err := r.Start(ctx, 3, "quiz")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if conv.Step != "question" {
		t.Fatalf("restart should go back to the first step, got %s", conv.Step)
	}
	if _, ok := conv.GetString("leftover"); ok {
		t.Fatal("restart should begin with a fresh data bag")
	}
}

func TestRunnerAdvanceWithoutScenario(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t)
	_, err := r.Advance(context.Background(), 4, "answer")
	if !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRunnerInvalidTransitionDoesNotPersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRunner(t)
	if _, err := r.Start(ctx, 5, "quiz"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Advance(ctx, 5, "question"); err == nil {
		t.Fatal("undeclared transition should fail")
	}
	conv, err := r.Store().Load(ctx, 5)
	if err != nil || conv == nil {
		t.Fatalf("load: %v", err)
	}
	if conv.Step != "question" {
		t.Fatalf("failed transition should leave the step untouched, got %s", conv.Step)
	}
}

func TestRunnerCancelAbsentIsNoop(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t)
	if err := r.Cancel(context.Background(), 999); err != nil {
		t.Fatalf("cancel of absent context should be a no-op: %v", err)
	}
}

func TestRunnerMutatePersistsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRunner(t)
	if _, err := r.Start(ctx, 6, "quiz"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.Mutate(ctx, 6, SetData("note", "hi")); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	conv, err := r.Store().Load(ctx, 6)
	if err != nil || conv == nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := conv.GetString("note"); got != "hi" {
		t.Fatalf("mutation not persisted: %q", got)
	}
}
