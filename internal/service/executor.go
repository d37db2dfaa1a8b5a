package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"github.com/kursadbilgin/onboard-engine/internal/setup"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minExecutorConcurrency = 1

// SetupExecutor consumes dispatched setup runs and executes each job's
// sub-steps in dependency order. Jobs never share state, so runs proceed in
// parallel without coordination.
type SetupExecutor struct {
	jobs        repository.JobRepository
	coordinator *BatchCoordinator
	machine     *JobStepMachine
	graph       *SubStepGraph
	runner      setup.Runner
	consumer    queue.Consumer
	catalog     *catalog.Catalog
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewSetupExecutor(
	jobs repository.JobRepository,
	coordinator *BatchCoordinator,
	machine *JobStepMachine,
	graph *SubStepGraph,
	runner setup.Runner,
	consumer queue.Consumer,
	cat *catalog.Catalog,
	concurrency int,
	logger *zap.Logger,
) (*SetupExecutor, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("step machine is required")
	}
	if graph == nil {
		return nil, fmt.Errorf("sub-step graph is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("setup runner is required")
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

	return &SetupExecutor{
		jobs:        jobs,
		coordinator: coordinator,
		machine:     machine,
		graph:       graph,
		runner:      runner,
		consumer:    consumer,
		catalog:     cat,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (e *SetupExecutor) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Start consumes the setup queue until context cancellation.
func (e *SetupExecutor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < e.concurrency; i++ {
		executorID := i + 1

		g.Go(func() error {
			e.logger.Info("setup executor started", zap.Int("executorId", executorID))

			err := e.consumer.Consume(groupCtx, queue.SetupQueueName, e.processMessage)
			if err != nil {
				e.logger.Error("setup executor stopped with error",
					zap.Int("executorId", executorID),
					zap.Error(err),
				)
				return err
			}

			e.logger.Info("setup executor stopped", zap.Int("executorId", executorID))
			return nil
		})
	}

	return g.Wait()
}

func (e *SetupExecutor) processMessage(ctx context.Context, msg queue.JobMessage) error {
	job, err := e.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("job not found for setup run, skipping",
				zap.String("jobId", msg.JobID),
			)
			return nil
		}
		return fmt.Errorf("failed to load job for setup run: %w", err)
	}

	// Cancelled or already-terminal jobs discard the dispatched run.
	if job.Status != domain.JobStatusInProgress {
		e.logger.Info("discarding setup run for inactive job",
			zap.String("jobId", job.ID),
			zap.String("status", job.Status.String()),
		)
		return nil
	}

	record, err := job.CurrentStepRecord()
	if err != nil || record.Status != domain.StepStatusInProgress {
		e.logger.Info("discarding setup run: job is not on an in-progress step",
			zap.String("jobId", job.ID),
		)
		return nil
	}

	if e.metrics != nil {
		e.metrics.IncExecutorInFlight()
		defer e.metrics.DecExecutorInFlight()
	}

	runStart := e.now()
	runErr := e.runSubSteps(ctx, job)
	if e.metrics != nil {
		e.metrics.ObserveSetupRunDuration(e.now().Sub(runStart))
	}

	if err := e.machine.Advance(job, ExternalResult{Err: runErr}); err != nil {
		return fmt.Errorf("failed to record setup outcome: %w", err)
	}
	if err := e.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job after setup run: %w", err)
	}

	if _, err := e.coordinator.RefreshCounts(ctx, job.BatchID); err != nil {
		e.logger.Error("failed to refresh batch counts after setup run",
			zap.String("batchId", job.BatchID),
			zap.Error(err),
		)
	}

	if e.metrics != nil {
		if runErr != nil {
			e.metrics.IncSetupRunFailed()
		} else {
			e.metrics.IncSetupRunCompleted()
		}
		if job.Status.Terminal() {
			e.metrics.IncJobFinished(job.Status.String())
		}
	}
	return nil
}

// runSubSteps walks the sub-steps in catalog (topological) order. The first
// failure stops the run: there is no implicit retry, recovery is an
// operator-initiated reset.
func (e *SetupExecutor) runSubSteps(ctx context.Context, job *domain.Job) error {
	for _, def := range e.catalog.SubSteps() {
		state, err := job.SubStep(def.Key)
		if err != nil {
			return err
		}
		if state.Status.Done() {
			continue
		}

		if err := e.graph.SetStatus(job, def.Key, domain.SubStepStatusInProgress); err != nil {
			return err
		}

		if err := e.runner.RunSubStep(ctx, job.ID, def.Key, job.Config); err != nil {
			if recordErr := e.graph.RecordFailure(job, def.Key, err); recordErr != nil {
				return recordErr
			}
			e.logger.Warn("setup sub-step failed",
				zap.String("jobId", job.ID),
				zap.String("subStep", def.Key),
				zap.Error(err),
			)
			return err
		}

		if err := e.graph.SetStatus(job, def.Key, domain.SubStepStatusCompleted); err != nil {
			return err
		}
	}
	return nil
}
