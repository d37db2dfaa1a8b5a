package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/registry"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"go.uber.org/zap"
)

// JobService is the persistence-aware facade the operator API talks to. It
// loads a job, applies one command through the core services, saves the
// result, and keeps the batch counters fresh.
type JobService struct {
	jobs        repository.JobRepository
	resolver    *CompanyResolver
	bundler     *ConfigurationBundler
	graph       *SubStepGraph
	coordinator *BatchCoordinator
	logger      *zap.Logger
}

func NewJobService(
	jobs repository.JobRepository,
	resolver *CompanyResolver,
	bundler *ConfigurationBundler,
	graph *SubStepGraph,
	coordinator *BatchCoordinator,
	logger *zap.Logger,
) (*JobService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("company resolver is required")
	}
	if bundler == nil {
		return nil, fmt.Errorf("configuration bundler is required")
	}
	if graph == nil {
		return nil, fmt.Errorf("sub-step graph is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("batch coordinator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{
		jobs:        jobs,
		resolver:    resolver,
		bundler:     bundler,
		graph:       graph,
		coordinator: coordinator,
		logger:      logger,
	}, nil
}

func (s *JobService) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// SuggestedSearchParams returns the pre-filled registry search for a job.
func (s *JobService) SuggestedSearchParams(ctx context.Context, jobID string) (registry.SearchParams, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return registry.SearchParams{}, err
	}
	return DefaultSearchParams(job), nil
}

// SearchCompany runs a registry search for the job and persists the new
// candidate list. Empty params fall back to the suggested defaults.
func (s *JobService) SearchCompany(ctx context.Context, jobID string, params registry.SearchParams) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if params.Name == "" && params.Street == "" && params.City == "" {
		params = DefaultSearchParams(job)
	}

	if _, err := s.resolver.Search(ctx, job, params); err != nil {
		return nil, err
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SelectCompany records an operator company choice and advances the job.
func (s *JobService) SelectCompany(ctx context.Context, jobID, companyNumber string) (*domain.Job, error) {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		return s.resolver.Select(job, companyNumber)
	})
}

// ConfirmCompany accepts the pre-selected single candidate.
func (s *JobService) ConfirmCompany(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		return s.resolver.Confirm(job)
	})
}

// ConfirmAllCompanies accepts the selected candidate on every listed job.
// The jobs must belong to one batch; the whole call is rejected while any of
// them remains unresolved.
func (s *JobService) ConfirmAllCompanies(ctx context.Context, jobIDs []string) ([]*domain.Job, error) {
	if len(jobIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one job is required", domain.ErrValidation)
	}

	jobs := make([]*domain.Job, 0, len(jobIDs))
	batchID := ""
	for _, id := range jobIDs {
		job, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if batchID == "" {
			batchID = job.BatchID
		} else if job.BatchID != batchID {
			return nil, fmt.Errorf("%w: jobs span multiple batches", domain.ErrValidation)
		}
		jobs = append(jobs, job)
	}

	if err := s.resolver.ConfirmAll(jobs); err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if err := s.jobs.Update(ctx, job); err != nil {
			return nil, err
		}
	}
	if _, err := s.coordinator.RefreshCounts(ctx, batchID); err != nil {
		s.logger.Error("failed to refresh batch counts",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
	}
	return jobs, nil
}

// SkipWithManualEntry bypasses company resolution with manual details.
func (s *JobService) SkipWithManualEntry(ctx context.Context, jobID string, details *domain.ManualEntryDetails) (*domain.Job, error) {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		return s.resolver.SkipWithManualEntry(job, details)
	})
}

// InitializeConfig builds the default configuration draft for a job.
func (s *JobService) InitializeConfig(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.bundler.Initialize(job)
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SaveConfig replaces the job's configuration draft.
func (s *JobService) SaveConfig(ctx context.Context, jobID string, config *domain.SetupConfiguration) (*domain.Job, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", domain.ErrValidation)
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Config = config.Clone()
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ConfigChanged reports whether a draft differs from the job's saved
// configuration. Gates whether the operator must save before executing.
func (s *JobService) ConfigChanged(ctx context.Context, jobID string, draft *domain.SetupConfiguration) (bool, error) {
	if draft == nil {
		return false, fmt.Errorf("%w: configuration draft is required", domain.ErrValidation)
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	return s.bundler.HasUnsavedChanges(draft, job.Config), nil
}

// CloneConfig fans one job's configuration out to sibling jobs of the same
// batch and persists every modified target.
func (s *JobService) CloneConfig(ctx context.Context, sourceJobID string, targetJobIDs []string) ([]*domain.Job, error) {
	if len(targetJobIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one target job is required", domain.ErrValidation)
	}

	source, err := s.jobs.GetByID(ctx, sourceJobID)
	if err != nil {
		return nil, err
	}

	targets := make([]*domain.Job, 0, len(targetJobIDs))
	for _, id := range targetJobIDs {
		target, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if target.BatchID != source.BatchID {
			return nil, fmt.Errorf("%w: job %s belongs to another batch", domain.ErrValidation, id)
		}
		targets = append(targets, target)
	}

	if err := s.bundler.CloneTo(source, targets); err != nil {
		return nil, err
	}
	for _, target := range targets {
		if target.ID == source.ID {
			continue
		}
		if err := s.jobs.Update(ctx, target); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// ExecuteSetup dispatches the automated setup for the selected jobs. Each
// job succeeds or fails on its own; the per-job outcomes are all returned.
func (s *JobService) ExecuteSetup(ctx context.Context, jobIDs []string) ([]ExecuteResult, error) {
	if len(jobIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one job is required", domain.ErrValidation)
	}

	jobs := make([]*domain.Job, 0, len(jobIDs))
	batchID := ""
	for _, id := range jobIDs {
		job, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if batchID == "" {
			batchID = job.BatchID
		} else if job.BatchID != batchID {
			return nil, fmt.Errorf("%w: jobs span multiple batches", domain.ErrValidation)
		}
		jobs = append(jobs, job)
	}

	results := s.bundler.Execute(ctx, jobs)

	for i, job := range jobs {
		if results[i].Err != nil && job.Status == domain.JobStatusPending {
			// Nothing changed for this job; skip the write.
			continue
		}
		if err := s.jobs.Update(ctx, job); err != nil {
			s.logger.Error("failed to persist job after execute",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
		}
	}

	if batchID != "" {
		if _, err := s.coordinator.RefreshCounts(ctx, batchID); err != nil {
			s.logger.Error("failed to refresh batch counts",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
		}
	}
	return results, nil
}

// SetSubStepStatus applies one dependency-checked sub-step transition.
func (s *JobService) SetSubStepStatus(ctx context.Context, jobID, key string, status domain.SubStepStatus) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.graph.SetStatus(job, key, status); err != nil {
		return nil, err
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ResetSubStep moves a sub-step back to pending, optionally cascading.
func (s *JobService) ResetSubStep(ctx context.Context, jobID, key string, cascade bool) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.graph.Reset(job, key, cascade); err != nil {
		return nil, err
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// BlockingDependencies lists the not-yet-done dependencies of a sub-step.
func (s *JobService) BlockingDependencies(ctx context.Context, jobID, key string) ([]string, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.graph.BlockingDependencies(job, key)
}

// mutate runs one command against a loaded job, persists it, and refreshes
// the owning batch's counters.
func (s *JobService) mutate(ctx context.Context, jobID string, fn func(job *domain.Job) error) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	if _, err := s.coordinator.RefreshCounts(ctx, job.BatchID); err != nil {
		s.logger.Error("failed to refresh batch counts",
			zap.String("batchId", job.BatchID),
			zap.Error(err),
		)
	}
	return job, nil
}
