package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
)

func newTestCoordinator(t *testing.T) (*BatchCoordinator, *JobStepMachine, *fakeBatchRepo, *fakeJobRepo) {
	t.Helper()
	coordinator, machine, batches, jobs := newTestCoordinatorWithPublisher(t, &fakePublisher{})
	return coordinator, machine, batches, jobs
}

func newTestCoordinatorWithPublisher(t *testing.T, publisher queue.Publisher) (*BatchCoordinator, *JobStepMachine, *fakeBatchRepo, *fakeJobRepo) {
	t.Helper()
	machine := newTestMachine(t)
	batches := newFakeBatchRepo()
	jobs := newFakeJobRepo()

	coordinator, err := NewBatchCoordinator(batches, jobs, machine, publisher, catalog.Default(), nil)
	if err != nil {
		t.Fatalf("NewBatchCoordinator() error = %v", err)
	}
	return coordinator, machine, batches, jobs
}

func testSeeds(n int) []RestaurantSeed {
	seeds := make([]RestaurantSeed, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		seeds = append(seeds, RestaurantSeed{
			RestaurantID: "rest-" + id,
			Name:         "Restaurant " + id,
			Address:      "12 King Street, Newtown",
			ContactEmail: id + "@example.com",
		})
	}
	return seeds
}

func TestCreateBatchInitializesJobs(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := newTestCoordinator(t)

	batch, jobs, err := coordinator.Create(context.Background(), "launch wave 1", testSeeds(3), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if batch.Status != domain.BatchStatusPending {
		t.Fatalf("batch status = %s, want PENDING", batch.Status)
	}
	if batch.TotalRestaurants != 3 || len(batch.JobIDs) != 3 {
		t.Fatalf("batch totals = %d/%d job ids, want 3/3", batch.TotalRestaurants, len(batch.JobIDs))
	}
	if batch.TotalSteps != 6 {
		t.Fatalf("total steps = %d, want 6", batch.TotalSteps)
	}

	for _, job := range jobs {
		if job.Status != domain.JobStatusPending {
			t.Fatalf("job status = %s, want PENDING", job.Status)
		}
		if len(job.Steps) != 6 || job.CurrentStep != 1 {
			t.Fatalf("job steps = %d current = %d, want 6/1", len(job.Steps), job.CurrentStep)
		}
	}
}

func TestCreateBatchRejectsEmptyAndOversized(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := newTestCoordinator(t)

	if _, _, err := coordinator.Create(context.Background(), "", nil, false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create(empty) error = %v, want ErrValidation", err)
	}

	seeds := make([]RestaurantSeed, maxBatchSize+1)
	for i := range seeds {
		seeds[i] = RestaurantSeed{RestaurantID: "r"}
	}
	if _, _, err := coordinator.Create(context.Background(), "", seeds, false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create(oversized) error = %v, want ErrValidation", err)
	}
}

func TestStartMovesEveryJobOntoFirstStep(t *testing.T) {
	t.Parallel()

	coordinator, _, _, jobRepo := newTestCoordinator(t)
	batch, _, err := coordinator.Create(context.Background(), "wave", testSeeds(2), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	started, err := coordinator.Start(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if started.Status != domain.BatchStatusInProgress {
		t.Fatalf("batch status = %s, want IN_PROGRESS", started.Status)
	}

	stored, _ := jobRepo.ListByBatch(context.Background(), batch.ID)
	for _, job := range stored {
		if job.Status != domain.JobStatusInProgress || job.CurrentStep != 1 {
			t.Fatalf("job = %s step %d, want IN_PROGRESS step 1", job.Status, job.CurrentStep)
		}
	}

	// Starting twice conflicts.
	if _, err := coordinator.Start(context.Background(), batch.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Start() error = %v, want ErrConflict", err)
	}
}

func TestStartDispatchesProvisioningPerJob(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	coordinator, _, _, _ := newTestCoordinatorWithPublisher(t, publisher)
	batch, created, err := coordinator.Create(context.Background(), "wave", testSeeds(2), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := coordinator.Start(context.Background(), batch.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(publisher.published) != 2 {
		t.Fatalf("published = %d messages, want 2", len(publisher.published))
	}
	for i, msg := range publisher.published {
		if publisher.queues[i] != queue.ProvisionQueueName {
			t.Fatalf("queue = %q, want %q", publisher.queues[i], queue.ProvisionQueueName)
		}
		if msg.JobID != created[i].ID || msg.BatchID != batch.ID {
			t.Fatalf("message = %+v, want job %s of batch %s", msg, created[i].ID, batch.ID)
		}
	}
}

func TestStartDispatchFailureFailsJobWithoutBlockingSiblings(t *testing.T) {
	t.Parallel()

	calls := 0
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			calls++
			if calls == 1 {
				return errors.New("broker unavailable")
			}
			return nil
		},
	}
	coordinator, _, _, jobRepo := newTestCoordinatorWithPublisher(t, publisher)
	batch, created, err := coordinator.Create(context.Background(), "wave", testSeeds(2), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	started, err := coordinator.Start(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	failed, _ := jobRepo.GetByID(context.Background(), created[0].ID)
	if failed.Status != domain.JobStatusFailed {
		t.Fatalf("undispatched job status = %s, want FAILED", failed.Status)
	}
	sibling, _ := jobRepo.GetByID(context.Background(), created[1].ID)
	if sibling.Status != domain.JobStatusInProgress {
		t.Fatalf("sibling status = %s, want IN_PROGRESS", sibling.Status)
	}
	if started.FailedRestaurants != 1 {
		t.Fatalf("failed restaurants = %d, want 1", started.FailedRestaurants)
	}
}

func TestCancelMarksNonTerminalJobsCancelled(t *testing.T) {
	t.Parallel()

	coordinator, machine, _, jobRepo := newTestCoordinator(t)
	batch, created, err := coordinator.Create(context.Background(), "wave", testSeeds(2), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := coordinator.Start(context.Background(), batch.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Complete one job end to end before cancelling.
	done, _ := jobRepo.GetByID(context.Background(), created[0].ID)
	advanceToStep(t, machine, done, 6)
	if err := machine.Advance(done, ExternalResult{}); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := jobRepo.Update(context.Background(), done); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	cancelled, err := coordinator.Cancel(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != domain.BatchStatusCancelled {
		t.Fatalf("batch status = %s, want CANCELLED", cancelled.Status)
	}

	stored, _ := jobRepo.ListByBatch(context.Background(), batch.ID)
	if stored[0].Status != domain.JobStatusCompleted {
		t.Fatalf("completed job status = %s, want COMPLETED", stored[0].Status)
	}
	if stored[1].Status != domain.JobStatusCancelled {
		t.Fatalf("active job status = %s, want CANCELLED", stored[1].Status)
	}

	if _, err := coordinator.Cancel(context.Background(), batch.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Cancel() error = %v, want ErrConflict", err)
	}
}

func TestRefreshCountsAggregatesJobStates(t *testing.T) {
	t.Parallel()

	coordinator, machine, _, jobRepo := newTestCoordinator(t)
	batch, created, err := coordinator.Create(context.Background(), "wave", testSeeds(3), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := coordinator.Start(context.Background(), batch.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// First job completes, second fails on step 1, third reaches step 3.
	first, _ := jobRepo.GetByID(context.Background(), created[0].ID)
	advanceToStep(t, machine, first, 6)
	if err := machine.Advance(first, ExternalResult{}); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	second, _ := jobRepo.GetByID(context.Background(), created[1].ID)
	if err := machine.Advance(second, ExternalResult{Err: errors.New("account exists")}); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	third, _ := jobRepo.GetByID(context.Background(), created[2].ID)
	advanceToStep(t, machine, third, 3)

	for _, job := range []*domain.Job{first, second, third} {
		if err := jobRepo.Update(context.Background(), job); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	refreshed, err := coordinator.RefreshCounts(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("RefreshCounts() error = %v", err)
	}

	if refreshed.CompletedRestaurants != 1 || refreshed.FailedRestaurants != 1 {
		t.Fatalf("counts = %d completed %d failed, want 1/1", refreshed.CompletedRestaurants, refreshed.FailedRestaurants)
	}
	if refreshed.CompletedRestaurants+refreshed.FailedRestaurants > refreshed.TotalRestaurants {
		t.Fatal("counter invariant violated")
	}
	// Display step is the least-advanced still-active job.
	if refreshed.CurrentStep != 3 {
		t.Fatalf("current step = %d, want 3", refreshed.CurrentStep)
	}
	// Best-effort default: one failure does not fail the batch.
	if refreshed.Status != domain.BatchStatusInProgress {
		t.Fatalf("batch status = %s, want IN_PROGRESS", refreshed.Status)
	}
}

func TestRefreshCountsCompletesBatchWhenAllTerminal(t *testing.T) {
	t.Parallel()

	coordinator, machine, _, jobRepo := newTestCoordinator(t)
	batch, created, err := coordinator.Create(context.Background(), "wave", testSeeds(2), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := coordinator.Start(context.Background(), batch.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, c := range created {
		job, _ := jobRepo.GetByID(context.Background(), c.ID)
		advanceToStep(t, machine, job, 6)
		if err := machine.Advance(job, ExternalResult{}); err != nil {
			t.Fatalf("Advance() error = %v", err)
		}
		if err := jobRepo.Update(context.Background(), job); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	refreshed, err := coordinator.RefreshCounts(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("RefreshCounts() error = %v", err)
	}
	if refreshed.Status != domain.BatchStatusCompleted {
		t.Fatalf("batch status = %s, want COMPLETED", refreshed.Status)
	}
	if refreshed.CompletedRestaurants != 2 {
		t.Fatalf("completed = %d, want 2", refreshed.CompletedRestaurants)
	}
}

func TestRefreshCountsFailFastFailsBatch(t *testing.T) {
	t.Parallel()

	coordinator, machine, _, jobRepo := newTestCoordinator(t)
	batch, created, err := coordinator.Create(context.Background(), "wave", testSeeds(2), true)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := coordinator.Start(context.Background(), batch.ID); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job, _ := jobRepo.GetByID(context.Background(), created[0].ID)
	if err := machine.Advance(job, ExternalResult{Err: errors.New("boom")}); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := jobRepo.Update(context.Background(), job); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	refreshed, err := coordinator.RefreshCounts(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("RefreshCounts() error = %v", err)
	}
	if refreshed.Status != domain.BatchStatusFailed {
		t.Fatalf("batch status = %s, want FAILED", refreshed.Status)
	}
}

func TestGetBatchAttachesJobIDs(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := newTestCoordinator(t)
	batch, _, err := coordinator.Create(context.Background(), "wave", testSeeds(2), false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, jobs, err := coordinator.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if len(got.JobIDs) != 2 || len(jobs) != 2 {
		t.Fatalf("GetBatch() = %d ids %d jobs, want 2/2", len(got.JobIDs), len(jobs))
	}
}

func TestGetBatchNotFound(t *testing.T) {
	t.Parallel()

	coordinator, _, _, _ := newTestCoordinator(t)
	_, _, err := coordinator.GetBatch(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetBatch() error = %v, want ErrNotFound", err)
	}
}

type fakeBatchRepo struct {
	batches map[string]*domain.Batch

	createFn  func(ctx context.Context, b *domain.Batch) error
	getByIDFn func(ctx context.Context, id string) (*domain.Batch, error)
	updateFn  func(ctx context.Context, b *domain.Batch) error
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: make(map[string]*domain.Batch)}
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if f.createFn != nil {
		return f.createFn(ctx, b)
	}
	clone := *b
	f.batches[b.ID] = &clone
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	stored, ok := f.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *stored
	return &clone, nil
}

func (f *fakeBatchRepo) Update(ctx context.Context, b *domain.Batch) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, b)
	}
	if _, ok := f.batches[b.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *b
	f.batches[b.ID] = &clone
	return nil
}

type fakeJobRepo struct {
	jobs  map[string]*domain.Job
	order []string

	createBatchFn func(ctx context.Context, jobs []*domain.Job) error
	getByIDFn     func(ctx context.Context, id string) (*domain.Job, error)
	updateFn      func(ctx context.Context, j *domain.Job) error
	listByBatchFn func(ctx context.Context, batchID string) ([]*domain.Job, error)
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*domain.Job)}
}

func cloneJob(j *domain.Job) *domain.Job {
	clone := *j
	clone.Steps = append([]domain.StepRecord(nil), j.Steps...)
	clone.MenuIDs = append([]string(nil), j.MenuIDs...)
	clone.Candidates = append([]domain.CompanyCandidate(nil), j.Candidates...)
	if j.SubSteps != nil {
		clone.SubSteps = make(map[string]*domain.SubStepState, len(j.SubSteps))
		for key, state := range j.SubSteps {
			stateClone := *state
			stateClone.DependsOn = append([]string(nil), state.DependsOn...)
			clone.SubSteps[key] = &stateClone
		}
	}
	clone.Config = j.Config.Clone()
	return &clone
}

func (f *fakeJobRepo) CreateBatch(ctx context.Context, jobs []*domain.Job) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, jobs)
	}
	for _, j := range jobs {
		f.jobs[j.ID] = cloneJob(j)
		f.order = append(f.order, j.ID)
	}
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	stored, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(stored), nil
}

func (f *fakeJobRepo) Update(ctx context.Context, j *domain.Job) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, j)
	}
	if _, ok := f.jobs[j.ID]; !ok {
		return domain.ErrNotFound
	}
	f.jobs[j.ID] = cloneJob(j)
	return nil
}

func (f *fakeJobRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.Job, error) {
	if f.listByBatchFn != nil {
		return f.listByBatchFn(ctx, batchID)
	}
	out := make([]*domain.Job, 0)
	for _, id := range f.order {
		if f.jobs[id].BatchID == batchID {
			out = append(out, cloneJob(f.jobs[id]))
		}
	}
	return out, nil
}
