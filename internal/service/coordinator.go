package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"go.uber.org/zap"
)

const maxBatchSize = 500

// RestaurantSeed is the known data one job is created from.
type RestaurantSeed struct {
	RestaurantID string
	Name         string
	Address      string
	ContactEmail string
	ContactPhone string
	MenuIDs      []string
}

// BatchCoordinator owns a collection of jobs: it creates them, starts and
// cancels them as a unit, and aggregates their states into batch counters.
type BatchCoordinator struct {
	batches   repository.BatchRepository
	jobs      repository.JobRepository
	machine   *JobStepMachine
	publisher queue.Publisher
	catalog   *catalog.Catalog
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func (c *BatchCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

func NewBatchCoordinator(
	batches repository.BatchRepository,
	jobs repository.JobRepository,
	machine *JobStepMachine,
	publisher queue.Publisher,
	cat *catalog.Catalog,
	logger *zap.Logger,
) (*BatchCoordinator, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("step machine is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchCoordinator{
		batches:   batches,
		jobs:      jobs,
		machine:   machine,
		publisher: publisher,
		catalog:   cat,
		logger:    logger,
	}, nil
}

// Create instantiates one pending job per restaurant and persists the batch.
func (c *BatchCoordinator) Create(ctx context.Context, name string, seeds []RestaurantSeed, failFast bool) (*domain.Batch, []*domain.Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(seeds) == 0 {
		return nil, nil, fmt.Errorf("%w: batch must include at least one restaurant", domain.ErrValidation)
	}
	if len(seeds) > maxBatchSize {
		return nil, nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()

	jobs := make([]*domain.Job, 0, len(seeds))
	jobIDs := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if strings.TrimSpace(seed.RestaurantID) == "" {
			return nil, nil, fmt.Errorf("%w: restaurant id is required", domain.ErrValidation)
		}

		job := &domain.Job{
			ID:             uuid.NewString(),
			BatchID:        batchID,
			RestaurantID:   strings.TrimSpace(seed.RestaurantID),
			RestaurantName: strings.TrimSpace(seed.Name),
			Address:        strings.TrimSpace(seed.Address),
			ContactEmail:   strings.TrimSpace(seed.ContactEmail),
			ContactPhone:   strings.TrimSpace(seed.ContactPhone),
			MenuIDs:        append([]string(nil), seed.MenuIDs...),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		c.machine.InitializeSteps(job)
		jobs = append(jobs, job)
		jobIDs = append(jobIDs, job.ID)
	}

	batch := &domain.Batch{
		ID:               batchID,
		Name:             strings.TrimSpace(name),
		Status:           domain.BatchStatusPending,
		TotalRestaurants: len(seeds),
		CurrentStep:      1,
		TotalSteps:       c.catalog.TotalSteps(),
		FailFast:         failFast,
		JobIDs:           jobIDs,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.batches.Create(ctx, batch); err != nil {
		return nil, nil, err
	}
	if err := c.jobs.CreateBatch(ctx, jobs); err != nil {
		return nil, nil, err
	}

	c.logger.Info("batch created",
		zap.String("batchId", batch.ID),
		zap.Int("restaurants", len(seeds)),
	)
	return batch, jobs, nil
}

// Start moves every job onto its first step and the batch into progress.
// Each job's first automatic operation is dispatched onto the provisioning
// queue; the provisioning worker reports its outcome through the step
// machine. A job whose dispatch fails is failed immediately, without
// blocking its siblings.
func (c *BatchCoordinator) Start(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != domain.BatchStatusPending {
		return nil, fmt.Errorf("%w: batch %s is %s, cannot start", domain.ErrConflict, batchID, batch.Status)
	}

	jobs, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	dispatchFailed := 0
	for _, job := range jobs {
		if err := c.machine.Begin(job); err != nil {
			return nil, err
		}

		msg := queue.JobMessage{JobID: job.ID, BatchID: job.BatchID}
		if err := c.publisher.Publish(ctx, queue.ProvisionQueueName, msg); err != nil {
			c.logger.Error("failed to dispatch provisioning",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			if advErr := c.machine.Advance(job, ExternalResult{Err: err}); advErr != nil {
				return nil, advErr
			}
			dispatchFailed++
		}

		if err := c.jobs.Update(ctx, job); err != nil {
			return nil, err
		}
	}

	batch.Status = domain.BatchStatusInProgress
	if err := c.batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.IncBatchStarted()
	}
	c.logger.Info("batch started",
		zap.String("batchId", batch.ID),
		zap.Int("jobs", len(jobs)),
	)

	if dispatchFailed > 0 {
		return c.RefreshCounts(ctx, batchID)
	}
	return batch, nil
}

// Cancel marks every non-terminal job cancelled. Cancellation is
// cooperative: operations already dispatched to external services are not
// aborted, but their results are discarded when they arrive.
func (c *BatchCoordinator) Cancel(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Terminal() {
		return nil, fmt.Errorf("%w: batch %s is already %s", domain.ErrConflict, batchID, batch.Status)
	}

	jobs, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		c.machine.Cancel(job)
		if err := c.jobs.Update(ctx, job); err != nil {
			return nil, err
		}
	}

	batch.Status = domain.BatchStatusCancelled
	if err := c.batches.Update(ctx, batch); err != nil {
		return nil, err
	}

	c.logger.Info("batch cancelled", zap.String("batchId", batch.ID))
	return batch, nil
}

// RefreshCounts recomputes the batch aggregates from the current job states.
// Counters are recomputed rather than incrementally maintained so partial
// updates can never make them drift.
func (c *BatchCoordinator) RefreshCounts(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	jobs, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	completed, failed := 0, 0
	allTerminal := true
	minStep := 0
	for _, job := range jobs {
		switch job.Status {
		case domain.JobStatusCompleted:
			completed++
		case domain.JobStatusFailed:
			failed++
		case domain.JobStatusCancelled:
		default:
			allTerminal = false
			if minStep == 0 || job.CurrentStep < minStep {
				minStep = job.CurrentStep
			}
		}
	}

	batch.CompletedRestaurants = completed
	batch.FailedRestaurants = failed
	if minStep > 0 {
		// The displayed step reflects the least-advanced still-active job.
		batch.CurrentStep = minStep
	}

	if !batch.Terminal() {
		switch {
		case batch.FailFast && failed > 0:
			batch.Status = domain.BatchStatusFailed
		case allTerminal && len(jobs) > 0:
			batch.Status = domain.BatchStatusCompleted
		}
	}

	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := c.batches.Update(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// GetBatch returns the batch with its job IDs attached.
func (c *BatchCoordinator) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Job, error) {
	batch, err := c.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	batch.JobIDs = make([]string, 0, len(jobs))
	for _, job := range jobs {
		batch.JobIDs = append(batch.JobIDs, job.ID)
	}
	return batch, jobs, nil
}
