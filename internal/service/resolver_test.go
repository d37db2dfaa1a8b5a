package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/registry"
)

func newTestResolver(t *testing.T, client registry.Client) (*CompanyResolver, *JobStepMachine) {
	t.Helper()
	machine := newTestMachine(t)
	resolver, err := NewCompanyResolver(client, machine, &fakeRateLimiter{}, nil)
	if err != nil {
		t.Fatalf("NewCompanyResolver() error = %v", err)
	}
	return resolver, machine
}

func jobAtResolution(t *testing.T, machine *JobStepMachine) *domain.Job {
	t.Helper()
	job := startedJob(t, machine)
	advanceToStep(t, machine, job, 3)
	return job
}

func TestSearchReplacesCandidates(t *testing.T) {
	t.Parallel()

	client := &fakeRegistryClient{
		searchFn: func(ctx context.Context, params registry.SearchParams) ([]domain.CompanyCandidate, error) {
			return []domain.CompanyCandidate{
				{CompanyNumber: "111", CompanyName: "Pizza Palace Pty Ltd", Status: "active"},
				{CompanyNumber: "222", CompanyName: "Palace Pizza Holdings", Status: "active"},
			}, nil
		},
	}
	resolver, machine := newTestResolver(t, client)
	job := jobAtResolution(t, machine)
	job.Candidates = []domain.CompanyCandidate{{CompanyNumber: "999"}}

	candidates, err := resolver.Search(context.Background(), job, registry.SearchParams{Name: "Pizza Palace"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(candidates))
	}
	if len(job.Candidates) != 2 || job.Candidates[0].CompanyNumber != "111" {
		t.Fatalf("job candidates = %v, want replaced list", job.Candidates)
	}
	// Multiple candidates: no pre-selection, step keeps waiting.
	if job.SelectedCompany != nil {
		t.Fatalf("selected company = %v, want nil", *job.SelectedCompany)
	}
	record, _ := job.CurrentStepRecord()
	if record.Status != domain.StepStatusActionRequired {
		t.Fatalf("step status = %s, want ACTION_REQUIRED", record.Status)
	}
}

func TestSearchSingleCandidatePreSelects(t *testing.T) {
	t.Parallel()

	client := &fakeRegistryClient{
		searchFn: func(ctx context.Context, params registry.SearchParams) ([]domain.CompanyCandidate, error) {
			return []domain.CompanyCandidate{{CompanyNumber: "111", CompanyName: "Pizza Palace Pty Ltd"}}, nil
		},
	}
	resolver, machine := newTestResolver(t, client)
	job := jobAtResolution(t, machine)

	if _, err := resolver.Search(context.Background(), job, registry.SearchParams{Name: "Pizza Palace"}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if job.SelectedCompany == nil || *job.SelectedCompany != "111" {
		t.Fatalf("selected company = %v, want 111", job.SelectedCompany)
	}
	// Pre-selection still needs operator confirmation.
	record, _ := job.CurrentStepRecord()
	if record.Status != domain.StepStatusActionRequired {
		t.Fatalf("step status = %s, want ACTION_REQUIRED", record.Status)
	}

	if err := resolver.Confirm(job); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if job.CurrentStep != 4 {
		t.Fatalf("current step = %d, want 4", job.CurrentStep)
	}
}

func TestSearchFailureKeepsStepActionRequired(t *testing.T) {
	t.Parallel()

	client := &fakeRegistryClient{
		searchFn: func(ctx context.Context, params registry.SearchParams) ([]domain.CompanyCandidate, error) {
			return nil, errors.New("registry timeout")
		},
	}
	resolver, machine := newTestResolver(t, client)
	job := jobAtResolution(t, machine)

	_, err := resolver.Search(context.Background(), job, registry.SearchParams{Name: "Pizza Palace"})
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("Search() error = %v, want ErrExternalService", err)
	}

	record, _ := job.CurrentStepRecord()
	if record.Status != domain.StepStatusActionRequired {
		t.Fatalf("step status = %s, want ACTION_REQUIRED", record.Status)
	}
	if job.Status != domain.JobStatusInProgress {
		t.Fatalf("job status = %s, want IN_PROGRESS", job.Status)
	}
}

func TestSearchFailureHintsRetryForTransientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantHint bool
	}{
		{
			name:     "transient registry outage",
			err:      &registry.RegistryError{StatusCode: 503, Message: "registry returned status 503", Transient: true},
			wantHint: true,
		},
		{
			name:     "permanent rejection",
			err:      &registry.RegistryError{StatusCode: 400, Message: "registry returned status 400", Transient: false},
			wantHint: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &fakeRegistryClient{
				searchFn: func(ctx context.Context, params registry.SearchParams) ([]domain.CompanyCandidate, error) {
					return nil, tt.err
				},
			}
			resolver, machine := newTestResolver(t, client)
			job := jobAtResolution(t, machine)

			_, err := resolver.Search(context.Background(), job, registry.SearchParams{Name: "Pizza Palace"})
			if !errors.Is(err, domain.ErrExternalService) {
				t.Fatalf("Search() error = %v, want ErrExternalService", err)
			}
			gotHint := strings.Contains(err.Error(), "retry the search")
			if gotHint != tt.wantHint {
				t.Fatalf("retry hint = %v (%v), want %v", gotHint, err, tt.wantHint)
			}
		})
	}
}

func TestSearchRequiresName(t *testing.T) {
	t.Parallel()

	resolver, machine := newTestResolver(t, &fakeRegistryClient{})
	job := jobAtResolution(t, machine)

	_, err := resolver.Search(context.Background(), job, registry.SearchParams{Street: "King St"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Search() error = %v, want ErrValidation", err)
	}
}

func TestSelectRequiresKnownCandidate(t *testing.T) {
	t.Parallel()

	resolver, machine := newTestResolver(t, &fakeRegistryClient{})
	job := jobAtResolution(t, machine)
	job.Candidates = []domain.CompanyCandidate{{CompanyNumber: "111"}}

	if err := resolver.Select(job, "999"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Select() error = %v, want ErrValidation", err)
	}

	if err := resolver.Select(job, "111"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if job.SelectedCompany == nil || *job.SelectedCompany != "111" {
		t.Fatalf("selected company = %v, want 111", job.SelectedCompany)
	}
	if job.CurrentStep != 4 {
		t.Fatalf("current step = %d, want 4", job.CurrentStep)
	}
}

func TestConfirmWithoutSelectionConflicts(t *testing.T) {
	t.Parallel()

	resolver, machine := newTestResolver(t, &fakeRegistryClient{})
	job := jobAtResolution(t, machine)

	if err := resolver.Confirm(job); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Confirm() error = %v, want ErrConflict", err)
	}
}

func TestConfirmAllRejectsWhileAnyJobUnresolved(t *testing.T) {
	t.Parallel()

	resolver, machine := newTestResolver(t, &fakeRegistryClient{})

	single := jobAtResolution(t, machine)
	single.ID = "job-single"
	number := "111"
	single.Candidates = []domain.CompanyCandidate{{CompanyNumber: "111", CompanyName: "Pizza Palace Pty Ltd"}}
	single.SelectedCompany = &number

	empty := jobAtResolution(t, machine)
	empty.ID = "job-empty"

	many := jobAtResolution(t, machine)
	many.ID = "job-many"
	many.Candidates = []domain.CompanyCandidate{
		{CompanyNumber: "331", CompanyName: "Burger Barn Pty Ltd"},
		{CompanyNumber: "332", CompanyName: "Burger Barn Holdings"},
		{CompanyNumber: "333", CompanyName: "B Barn Group"},
	}

	jobs := []*domain.Job{single, empty, many}

	err := resolver.ConfirmAll(jobs)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ConfirmAll() error = %v, want ErrConflict", err)
	}

	// Nothing moved, including the confirmable job.
	for _, job := range jobs {
		if job.CurrentStep != 3 {
			t.Fatalf("job %s current step = %d, want 3", job.ID, job.CurrentStep)
		}
	}

	// Resolve the stragglers: skip one, select on the other.
	if err := resolver.SkipWithManualEntry(empty, &domain.ManualEntryDetails{ContactName: "Ada Owner"}); err != nil {
		t.Fatalf("SkipWithManualEntry() error = %v", err)
	}
	if err := resolver.Select(many, "333"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if err := resolver.ConfirmAll(jobs); err != nil {
		t.Fatalf("ConfirmAll() after resolving error = %v", err)
	}
	if single.CurrentStep != 4 {
		t.Fatalf("single-candidate job current step = %d, want 4", single.CurrentStep)
	}
	// Jobs already past resolution are untouched.
	if many.CurrentStep != 4 {
		t.Fatalf("selected job current step = %d, want 4", many.CurrentStep)
	}
	if empty.CurrentStep != 5 {
		t.Fatalf("skipped job current step = %d, want 5", empty.CurrentStep)
	}
}

func TestSkipWithManualEntryRequiresContactName(t *testing.T) {
	t.Parallel()

	resolver, machine := newTestResolver(t, &fakeRegistryClient{})
	job := jobAtResolution(t, machine)

	err := resolver.SkipWithManualEntry(job, &domain.ManualEntryDetails{CompanyName: "No Contact Pty"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SkipWithManualEntry() error = %v, want ErrValidation", err)
	}

	// Validation failure leaves the job untouched.
	if job.ManualEntry != nil {
		t.Fatal("manual entry should not be set after validation failure")
	}
	if job.CurrentStep != 3 {
		t.Fatalf("current step = %d, want 3", job.CurrentStep)
	}
	record, _ := job.CurrentStepRecord()
	if record.Status != domain.StepStatusActionRequired {
		t.Fatalf("step status = %s, want ACTION_REQUIRED", record.Status)
	}
}

func TestSkipWithManualEntrySkipsCompanySteps(t *testing.T) {
	t.Parallel()

	resolver, machine := newTestResolver(t, &fakeRegistryClient{})
	job := jobAtResolution(t, machine)

	err := resolver.SkipWithManualEntry(job, &domain.ManualEntryDetails{
		ContactName: "Ada Owner",
		CompanyName: "Pizza Palace Pty Ltd",
	})
	if err != nil {
		t.Fatalf("SkipWithManualEntry() error = %v", err)
	}

	if job.ManualEntry == nil || job.ManualEntry.ContactName != "Ada Owner" {
		t.Fatalf("manual entry = %+v, want contact name recorded", job.ManualEntry)
	}
	if job.CurrentStep != 5 {
		t.Fatalf("current step = %d, want 5", job.CurrentStep)
	}
}

func TestDefaultSearchParams(t *testing.T) {
	t.Parallel()

	job := &domain.Job{
		RestaurantName: "Pizza Palace (Newtown)",
		Address:        "12 King Street, Newtown, NSW 2042",
	}

	params := DefaultSearchParams(job)
	if params.Name != "Pizza Palace" {
		t.Fatalf("name = %q, want Pizza Palace", params.Name)
	}
	if params.Street != "12 King Street" {
		t.Fatalf("street = %q, want 12 King Street", params.Street)
	}
	if params.City != "Newtown" {
		t.Fatalf("city = %q, want Newtown", params.City)
	}
}

func TestNormalizeRestaurantName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"round brackets", "Pizza Palace (Newtown)", "Pizza Palace"},
		{"square brackets", "Burger Barn [CBD]", "Burger Barn"},
		{"no suffix", "Noodle House", "Noodle House"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeRestaurantName(tt.in); got != tt.want {
				t.Fatalf("NormalizeRestaurantName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractStreet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"street suffix", "12 King Street, Newtown", "12 King Street"},
		{"abbreviated", "5 George St, Sydney", "5 George St"},
		{"no suffix falls back to three tokens", "Shop 4 Central Plaza Building", "Shop 4 Central"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractStreet(tt.in); got != tt.want {
				t.Fatalf("ExtractStreet(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type fakeRegistryClient struct {
	searchFn func(ctx context.Context, params registry.SearchParams) ([]domain.CompanyCandidate, error)
}

func (f *fakeRegistryClient) Search(ctx context.Context, params registry.SearchParams) ([]domain.CompanyCandidate, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, params)
	}
	return nil, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}
