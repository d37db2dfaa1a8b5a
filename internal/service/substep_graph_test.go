package service

import (
	"errors"
	"testing"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

func newTestGraph(t *testing.T) *SubStepGraph {
	t.Helper()
	graph, err := NewSubStepGraph(catalog.Default(), nil)
	if err != nil {
		t.Fatalf("NewSubStepGraph() error = %v", err)
	}
	return graph
}

func jobWithSubSteps(t *testing.T, graph *SubStepGraph) *domain.Job {
	t.Helper()
	job := &domain.Job{ID: "job-1", BatchID: "batch-1", RestaurantID: "rest-1"}
	graph.Initialize(job)
	return job
}

func completeSubStep(t *testing.T, graph *SubStepGraph, job *domain.Job, key string) {
	t.Helper()
	if err := graph.SetStatus(job, key, domain.SubStepStatusInProgress); err != nil {
		t.Fatalf("SetStatus(%s, IN_PROGRESS) error = %v", key, err)
	}
	if err := graph.SetStatus(job, key, domain.SubStepStatusCompleted); err != nil {
		t.Fatalf("SetStatus(%s, COMPLETED) error = %v", key, err)
	}
}

func TestInitializePopulatesAllSubSteps(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	if len(job.SubSteps) != 6 {
		t.Fatalf("sub-step count = %d, want 6", len(job.SubSteps))
	}
	for key, state := range job.SubSteps {
		if state.Status != domain.SubStepStatusPending {
			t.Fatalf("sub-step %s status = %s, want PENDING", key, state.Status)
		}
	}
}

func TestCompleteBlockedByUnfinishedDependency(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	err := graph.SetStatus(job, "create_restaurant", domain.SubStepStatusCompleted)
	if !errors.Is(err, domain.ErrDependencyBlocked) {
		t.Fatalf("SetStatus() error = %v, want ErrDependencyBlocked", err)
	}

	var blocked *domain.DependencyBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("SetStatus() error type = %T, want DependencyBlockedError", err)
	}
	if len(blocked.Blocking) != 1 || blocked.Blocking[0] != "create_account" {
		t.Fatalf("blocking = %v, want [create_account]", blocked.Blocking)
	}
}

func TestCompleteAllowedOnceDependenciesDone(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	completeSubStep(t, graph, job, "create_account")
	completeSubStep(t, graph, job, "create_restaurant")

	state, _ := job.SubStep("create_restaurant")
	if state.Status != domain.SubStepStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", state.Status)
	}
}

func TestSkippedDependencySatisfiesDependents(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	completeSubStep(t, graph, job, "create_account")
	if err := graph.SetStatus(job, "create_restaurant", domain.SubStepStatusSkipped); err != nil {
		t.Fatalf("SetStatus(SKIPPED) error = %v", err)
	}

	completeSubStep(t, graph, job, "upload_menu")
}

func TestRecordFailureKeepsError(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	if err := graph.RecordFailure(job, "create_account", errors.New("duplicate email")); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	state, _ := job.SubStep("create_account")
	if state.Status != domain.SubStepStatusFailed {
		t.Fatalf("status = %s, want FAILED", state.Status)
	}
	if state.LastError == nil || *state.LastError != "duplicate email" {
		t.Fatalf("last error = %v, want duplicate email", state.LastError)
	}

	// FAILED -> RETRYING -> IN_PROGRESS is the recovery path.
	if err := graph.SetStatus(job, "create_account", domain.SubStepStatusRetrying); err != nil {
		t.Fatalf("SetStatus(RETRYING) error = %v", err)
	}
	if err := graph.SetStatus(job, "create_account", domain.SubStepStatusInProgress); err != nil {
		t.Fatalf("SetStatus(IN_PROGRESS) error = %v", err)
	}
}

func TestResetWithCascadeResetsTransitiveDependents(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	completeSubStep(t, graph, job, "create_account")
	completeSubStep(t, graph, job, "create_restaurant")
	completeSubStep(t, graph, job, "upload_menu")
	completeSubStep(t, graph, job, "configure_website")
	completeSubStep(t, graph, job, "configure_payments")
	completeSubStep(t, graph, job, "publish")

	if err := graph.Reset(job, "create_restaurant", true); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	for _, key := range []string{"create_restaurant", "upload_menu", "configure_website", "publish"} {
		state, _ := job.SubStep(key)
		if state.Status != domain.SubStepStatusPending {
			t.Fatalf("sub-step %s status = %s, want PENDING", key, state.Status)
		}
	}

	// Untouched branches keep their status.
	for _, key := range []string{"create_account", "configure_payments"} {
		state, _ := job.SubStep(key)
		if state.Status != domain.SubStepStatusCompleted {
			t.Fatalf("sub-step %s status = %s, want COMPLETED", key, state.Status)
		}
	}
}

func TestResetWithoutCascadeMarksCompletedDependentsStale(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	completeSubStep(t, graph, job, "create_account")
	completeSubStep(t, graph, job, "create_restaurant")
	completeSubStep(t, graph, job, "upload_menu")

	if err := graph.Reset(job, "create_restaurant", false); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	reset, _ := job.SubStep("create_restaurant")
	if reset.Status != domain.SubStepStatusPending {
		t.Fatalf("create_restaurant status = %s, want PENDING", reset.Status)
	}

	stale, _ := job.SubStep("upload_menu")
	if stale.Status != domain.SubStepStatusStale {
		t.Fatalf("upload_menu status = %s, want STALE", stale.Status)
	}

	// Dependents that never completed are untouched.
	pending, _ := job.SubStep("configure_website")
	if pending.Status != domain.SubStepStatusPending {
		t.Fatalf("configure_website status = %s, want PENDING", pending.Status)
	}
}

func TestBlockingDependencies(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	blocking, err := graph.BlockingDependencies(job, "publish")
	if err != nil {
		t.Fatalf("BlockingDependencies() error = %v", err)
	}
	if len(blocking) != 3 {
		t.Fatalf("blocking = %v, want 3 entries", blocking)
	}

	completeSubStep(t, graph, job, "create_account")
	completeSubStep(t, graph, job, "create_restaurant")
	completeSubStep(t, graph, job, "upload_menu")
	completeSubStep(t, graph, job, "configure_website")
	completeSubStep(t, graph, job, "configure_payments")

	blocking, err = graph.BlockingDependencies(job, "publish")
	if err != nil {
		t.Fatalf("BlockingDependencies() error = %v", err)
	}
	if len(blocking) != 0 {
		t.Fatalf("blocking = %v, want empty", blocking)
	}
}

func TestSetStatusUnknownKey(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	err := graph.SetStatus(job, "no_such_step", domain.SubStepStatusInProgress)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetStatus() error = %v, want ErrNotFound", err)
	}
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	t.Parallel()

	graph := newTestGraph(t)
	job := jobWithSubSteps(t, graph)

	// PENDING -> RETRYING is not a legal edge.
	err := graph.SetStatus(job, "create_account", domain.SubStepStatusRetrying)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("SetStatus() error = %v, want ErrConflict", err)
	}
}
