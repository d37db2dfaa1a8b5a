package service

import (
	"fmt"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"go.uber.org/zap"
)

// SubStepGraph enforces dependency-consistent status transitions over the
// automated-setup sub-steps of one job, and supports cascading resets.
type SubStepGraph struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
}

func NewSubStepGraph(cat *catalog.Catalog, logger *zap.Logger) (*SubStepGraph, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubStepGraph{catalog: cat, logger: logger}, nil
}

// Initialize populates the job's sub-step map from the catalog, all pending.
// Dependency lists are copied once here and never change afterwards.
func (g *SubStepGraph) Initialize(job *domain.Job) {
	defs := g.catalog.SubSteps()
	job.SubSteps = make(map[string]*domain.SubStepState, len(defs))
	for _, def := range defs {
		job.SubSteps[def.Key] = &domain.SubStepState{
			Key:       def.Key,
			Status:    domain.SubStepStatusPending,
			DependsOn: append([]string(nil), def.DependsOn...),
		}
	}
}

// SetStatus transitions one sub-step. COMPLETED and SKIPPED require every
// dependency to be done; violations return a DependencyBlockedError naming
// the blocking keys.
func (g *SubStepGraph) SetStatus(job *domain.Job, key string, status domain.SubStepStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid sub-step status %q", domain.ErrValidation, status)
	}
	state, err := job.SubStep(key)
	if err != nil {
		return err
	}

	if status == domain.SubStepStatusCompleted || status == domain.SubStepStatusSkipped {
		if blocking := g.blocking(job, state); len(blocking) > 0 {
			return &domain.DependencyBlockedError{Key: key, Blocking: blocking}
		}
	}

	if !allowedSubStepTransition(state.Status, status) {
		return fmt.Errorf("%w: sub-step %q cannot go from %s to %s", domain.ErrConflict, key, state.Status, status)
	}

	state.Status = status
	if status != domain.SubStepStatusFailed {
		state.LastError = nil
	}
	return nil
}

// RecordFailure marks a sub-step failed and keeps the error for display.
func (g *SubStepGraph) RecordFailure(job *domain.Job, key string, cause error) error {
	state, err := job.SubStep(key)
	if err != nil {
		return err
	}
	if !allowedSubStepTransition(state.Status, domain.SubStepStatusFailed) {
		return fmt.Errorf("%w: sub-step %q cannot fail from %s", domain.ErrConflict, key, state.Status)
	}
	state.Status = domain.SubStepStatusFailed
	if cause != nil {
		msg := cause.Error()
		state.LastError = &msg
	}
	return nil
}

// Reset sets a sub-step back to PENDING. With cascade, every transitive
// dependent is reset as well. Without cascade, dependents that had already
// completed against the old result are marked STALE rather than left
// silently inconsistent.
func (g *SubStepGraph) Reset(job *domain.Job, key string, cascade bool) error {
	state, err := job.SubStep(key)
	if err != nil {
		return err
	}
	state.Status = domain.SubStepStatusPending
	state.LastError = nil

	dependents := g.catalog.TransitiveDependents(key)
	for _, dep := range dependents {
		depState, err := job.SubStep(dep)
		if err != nil {
			return err
		}
		if cascade {
			depState.Status = domain.SubStepStatusPending
			depState.LastError = nil
			continue
		}
		if depState.Status == domain.SubStepStatusCompleted {
			depState.Status = domain.SubStepStatusStale
		}
	}

	g.logger.Info("sub-step reset",
		zap.String("jobId", job.ID),
		zap.String("key", key),
		zap.Bool("cascade", cascade),
	)
	return nil
}

// BlockingDependencies returns the subset of key's dependencies not yet
// done, so operator tooling can explain a disallowed transition before
// attempting it.
func (g *SubStepGraph) BlockingDependencies(job *domain.Job, key string) ([]string, error) {
	state, err := job.SubStep(key)
	if err != nil {
		return nil, err
	}
	return g.blocking(job, state), nil
}

func (g *SubStepGraph) blocking(job *domain.Job, state *domain.SubStepState) []string {
	var blocking []string
	for _, dep := range state.DependsOn {
		depState, ok := job.SubSteps[dep]
		if !ok || !depState.Status.Done() {
			blocking = append(blocking, dep)
		}
	}
	return blocking
}

// allowedSubStepTransition encodes the per-node state machine; dependency
// checks happen separately in SetStatus.
func allowedSubStepTransition(from, to domain.SubStepStatus) bool {
	if from == to {
		return false
	}
	switch to {
	case domain.SubStepStatusInProgress:
		return from == domain.SubStepStatusPending ||
			from == domain.SubStepStatusRetrying ||
			from == domain.SubStepStatusStale
	case domain.SubStepStatusCompleted, domain.SubStepStatusSkipped:
		return from != domain.SubStepStatusCompleted && from != domain.SubStepStatusSkipped
	case domain.SubStepStatusFailed:
		// Reachable from any non-terminal status.
		return !from.Done()
	case domain.SubStepStatusRetrying:
		return from == domain.SubStepStatusFailed
	case domain.SubStepStatusPending:
		// Only Reset moves a sub-step back to pending.
		return false
	case domain.SubStepStatusStale:
		// Only a non-cascading reset of a dependency marks a node stale.
		return false
	}
	return false
}
