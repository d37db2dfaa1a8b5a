package service

import (
	"fmt"
	"sync"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"go.uber.org/zap"
)

// ExternalResult is the outcome of the external operation backing the
// current step. A nil Err means the operation succeeded.
type ExternalResult struct {
	Err error
}

// JobStepMachine drives one job through the pipeline steps. All transitions
// are synchronous; only the external operations they consume may block.
type JobStepMachine struct {
	catalog *catalog.Catalog
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewJobStepMachine(cat *catalog.Catalog, logger *zap.Logger) (*JobStepMachine, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStepMachine{
		catalog:  cat,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}, nil
}

// BeginOperation claims the per-(job, step) exclusivity token. A second
// request observing an already-claimed token is rejected with ErrConcurrency
// rather than queued. The returned release function must be called when the
// operation finishes.
func (m *JobStepMachine) BeginOperation(jobID string, step int) (func(), error) {
	key := fmt.Sprintf("%s/%d", jobID, step)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.inflight[key]; busy {
		return nil, fmt.Errorf("%w: job %s step %d", domain.ErrConcurrency, jobID, step)
	}
	m.inflight[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.inflight, key)
			m.mu.Unlock()
		})
	}
	return release, nil
}

// InitializeSteps populates a fresh job with one pending record per catalog
// step. Step types are copied from the catalog at creation.
func (m *JobStepMachine) InitializeSteps(job *domain.Job) {
	steps := m.catalog.Steps()
	job.Steps = make([]domain.StepRecord, len(steps))
	for i, def := range steps {
		job.Steps[i] = domain.StepRecord{
			StepNumber: def.Number,
			Status:     domain.StepStatusPending,
			StepType:   def.Type,
		}
	}
	job.CurrentStep = 1
	job.Status = domain.JobStatusPending
}

// Begin moves a pending job onto its first step.
func (m *JobStepMachine) Begin(job *domain.Job) error {
	if job.Status != domain.JobStatusPending {
		return fmt.Errorf("%w: job %s is %s, cannot start", domain.ErrConflict, job.ID, job.Status)
	}
	job.Status = domain.JobStatusInProgress
	return m.startStep(job, 1)
}

// Advance consumes the outcome of the current automatic step's external
// operation. Success completes the step and moves on; failure is terminal
// for the job. There are no implicit retries: recovery is always an
// operator decision.
func (m *JobStepMachine) Advance(job *domain.Job, result ExternalResult) error {
	if err := m.guardActive(job); err != nil {
		return err
	}

	record, err := job.CurrentStepRecord()
	if err != nil {
		return err
	}
	if record.StepType != domain.StepTypeAutomatic {
		return fmt.Errorf("%w: step %d of job %s requires an operator decision", domain.ErrConflict, record.StepNumber, job.ID)
	}
	if record.Status != domain.StepStatusInProgress {
		return fmt.Errorf("%w: step %d of job %s is %s, not in progress", domain.ErrConflict, record.StepNumber, job.ID, record.Status)
	}

	if result.Err != nil {
		record.Status = domain.StepStatusFailed
		job.Status = domain.JobStatusFailed
		m.logger.Warn("automatic step failed",
			zap.String("jobId", job.ID),
			zap.Int("step", record.StepNumber),
			zap.Error(result.Err),
		)
		return nil
	}

	record.Status = domain.StepStatusCompleted
	return m.moveToNext(job)
}

// Accept completes an action-required step with the operator's decision
// already applied to the job, and advances.
func (m *JobStepMachine) Accept(job *domain.Job) error {
	record, err := m.guardActionRequired(job)
	if err != nil {
		return err
	}
	record.Status = domain.StepStatusCompleted
	return m.moveToNext(job)
}

// Retry keeps an action-required step where it is; re-invoking the external
// operation with edited parameters is the caller's responsibility.
func (m *JobStepMachine) Retry(job *domain.Job) error {
	_, err := m.guardActionRequired(job)
	return err
}

// MarkFailed records an external failure on an action-required step. The
// step stays ACTION_REQUIRED so the operator can retry with different
// parameters.
func (m *JobStepMachine) MarkFailed(job *domain.Job, cause error) error {
	record, err := m.guardActionRequired(job)
	if err != nil {
		return err
	}
	m.logger.Warn("action-required step operation failed",
		zap.String("jobId", job.ID),
		zap.Int("step", record.StepNumber),
		zap.Error(cause),
	)
	return nil
}

// SkipCompanySteps applies a manual-entry override: the current step and
// every subsequent step that exists solely to act on a resolved company are
// marked SKIPPED, and the job jumps to the next step that does not depend on
// company resolution.
func (m *JobStepMachine) SkipCompanySteps(job *domain.Job) error {
	record, err := m.guardActionRequired(job)
	if err != nil {
		return err
	}
	record.Status = domain.StepStatusSkipped

	for n := record.StepNumber + 1; n <= len(job.Steps); n++ {
		def, err := m.catalog.Step(n)
		if err != nil {
			return err
		}
		if !def.RequiresCompany {
			break
		}
		next, err := job.Step(n)
		if err != nil {
			return err
		}
		next.Status = domain.StepStatusSkipped
	}

	target := m.catalog.NextStepWithoutCompany(record.StepNumber)
	if target == 0 {
		job.CurrentStep = len(job.Steps)
		job.Status = domain.JobStatusCompleted
		return nil
	}
	return m.startStep(job, target)
}

// Cancel marks a non-terminal job cancelled. Results of operations already
// in flight are discarded when they arrive (guardActive rejects them).
func (m *JobStepMachine) Cancel(job *domain.Job) {
	if job.Status.Terminal() {
		return
	}
	job.Status = domain.JobStatusCancelled
}

func (m *JobStepMachine) startStep(job *domain.Job, number int) error {
	def, err := m.catalog.Step(number)
	if err != nil {
		return err
	}
	record, err := job.Step(number)
	if err != nil {
		return err
	}

	job.CurrentStep = number
	if def.Type == domain.StepTypeActionRequired {
		record.Status = domain.StepStatusActionRequired
	} else {
		record.Status = domain.StepStatusInProgress
	}
	return nil
}

func (m *JobStepMachine) moveToNext(job *domain.Job) error {
	next := job.CurrentStep + 1
	if next > len(job.Steps) {
		job.Status = domain.JobStatusCompleted
		m.logger.Info("job completed", zap.String("jobId", job.ID))
		return nil
	}
	return m.startStep(job, next)
}

func (m *JobStepMachine) guardActive(job *domain.Job) error {
	if job.Status == domain.JobStatusCancelled {
		return fmt.Errorf("%w: job %s is cancelled, result discarded", domain.ErrConflict, job.ID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrConflict, job.ID, job.Status)
	}
	return nil
}

func (m *JobStepMachine) guardActionRequired(job *domain.Job) (*domain.StepRecord, error) {
	if err := m.guardActive(job); err != nil {
		return nil, err
	}
	record, err := job.CurrentStepRecord()
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StepStatusActionRequired {
		return nil, fmt.Errorf("%w: step %d of job %s is %s, not awaiting a decision", domain.ErrConflict, record.StepNumber, job.ID, record.Status)
	}
	return record, nil
}
