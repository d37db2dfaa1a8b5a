package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/platform"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProvisionExecutor consumes dispatched provisioning runs and executes the
// automatic account and restaurant creation steps for one job. It keeps
// advancing through consecutive automatic steps until the job reaches an
// operator decision, completes, or fails.
type ProvisionExecutor struct {
	jobs        repository.JobRepository
	coordinator *BatchCoordinator
	machine     *JobStepMachine
	client      platform.Client
	consumer    queue.Consumer
	catalog     *catalog.Catalog
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewProvisionExecutor(
	jobs repository.JobRepository,
	coordinator *BatchCoordinator,
	machine *JobStepMachine,
	client platform.Client,
	consumer queue.Consumer,
	cat *catalog.Catalog,
	concurrency int,
	logger *zap.Logger,
) (*ProvisionExecutor, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("step machine is required")
	}
	if client == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if concurrency < minExecutorConcurrency {
		concurrency = minExecutorConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProvisionExecutor{
		jobs:        jobs,
		coordinator: coordinator,
		machine:     machine,
		client:      client,
		consumer:    consumer,
		catalog:     cat,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (e *ProvisionExecutor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Start consumes the provisioning queue until context cancellation.
func (e *ProvisionExecutor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < e.concurrency; i++ {
		executorID := i + 1

		g.Go(func() error {
			e.logger.Info("provision executor started", zap.Int("executorId", executorID))

			err := e.consumer.Consume(groupCtx, queue.ProvisionQueueName, e.processMessage)
			if err != nil {
				e.logger.Error("provision executor stopped with error",
					zap.Int("executorId", executorID),
					zap.Error(err),
				)
				return err
			}

			e.logger.Info("provision executor stopped", zap.Int("executorId", executorID))
			return nil
		})
	}

	return g.Wait()
}

func (e *ProvisionExecutor) processMessage(ctx context.Context, msg queue.JobMessage) error {
	job, err := e.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("job not found for provisioning run, skipping",
				zap.String("jobId", msg.JobID),
			)
			return nil
		}
		return fmt.Errorf("failed to load job for provisioning run: %w", err)
	}

	// Cancelled or already-terminal jobs discard the dispatched run.
	if job.Status != domain.JobStatusInProgress {
		e.logger.Info("discarding provisioning run for inactive job",
			zap.String("jobId", job.ID),
			zap.String("status", job.Status.String()),
		)
		return nil
	}

	for {
		record, err := job.CurrentStepRecord()
		if err != nil {
			return err
		}
		if record.Status != domain.StepStatusInProgress {
			break
		}

		def, err := e.catalog.Step(record.StepNumber)
		if err != nil {
			return err
		}
		op := e.operation(def.Name)
		if op == nil {
			// Automatic steps past provisioning run on their own queue.
			break
		}

		release, err := e.machine.BeginOperation(job.ID, record.StepNumber)
		if err != nil {
			if errors.Is(err, domain.ErrConcurrency) {
				// Duplicate delivery: the in-flight run owns the outcome.
				e.logger.Info("discarding duplicate provisioning run",
					zap.String("jobId", job.ID),
					zap.Int("step", record.StepNumber),
				)
				return nil
			}
			return err
		}

		opStart := e.now()
		opErr := op(ctx, job)
		if e.metrics != nil {
			e.metrics.ObserveProvisionDuration(e.now().Sub(opStart))
		}

		advErr := e.machine.Advance(job, ExternalResult{Err: opErr})
		release()
		if advErr != nil {
			return fmt.Errorf("failed to record provisioning outcome: %w", advErr)
		}
		if err := e.jobs.Update(ctx, job); err != nil {
			return fmt.Errorf("failed to persist job after provisioning: %w", err)
		}

		if e.metrics != nil {
			if opErr != nil {
				e.metrics.IncProvisionFailed()
			} else {
				e.metrics.IncProvisionCompleted()
			}
		}
		if opErr != nil {
			break
		}
	}

	if _, err := e.coordinator.RefreshCounts(ctx, job.BatchID); err != nil {
		e.logger.Error("failed to refresh batch counts after provisioning",
			zap.String("batchId", job.BatchID),
			zap.Error(err),
		)
	}
	if e.metrics != nil && job.Status.Terminal() {
		e.metrics.IncJobFinished(job.Status.String())
	}
	return nil
}

func (e *ProvisionExecutor) operation(stepName string) func(context.Context, *domain.Job) error {
	switch stepName {
	case catalog.StepAccountCreation:
		return e.client.CreateAccount
	case catalog.StepRestaurantCreation:
		return e.client.CreateRestaurant
	}
	return nil
}
