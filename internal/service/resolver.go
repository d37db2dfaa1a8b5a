package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/ratelimit"
	"github.com/kursadbilgin/onboard-engine/internal/registry"
	"go.uber.org/zap"
)

// CompanyResolver runs the company-resolution protocol for one job:
// search the external registry, then accept, retry with edited parameters,
// or skip with manual entry.
type CompanyResolver struct {
	client      registry.Client
	machine     *JobStepMachine
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewCompanyResolver(
	client registry.Client,
	machine *JobStepMachine,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
) (*CompanyResolver, error) {
	if client == nil {
		return nil, fmt.Errorf("registry client is required")
	}
	if machine == nil {
		return nil, fmt.Errorf("step machine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompanyResolver{
		client:      client,
		machine:     machine,
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (r *CompanyResolver) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Search calls the external registry and replaces the job's candidate list.
// The step stays ACTION_REQUIRED regardless of the result count; a single
// candidate is pre-selected but still needs operator confirmation.
func (r *CompanyResolver) Search(ctx context.Context, job *domain.Job, params registry.SearchParams) ([]domain.CompanyCandidate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	release, err := r.machine.BeginOperation(job.ID, job.CurrentStep)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := r.machine.Retry(job); err != nil {
		return nil, err
	}

	if r.rateLimiter != nil {
		if err := r.rateLimiter.Wait(ctx, "registry"); err != nil {
			return nil, err
		}
	}

	searchStart := r.now()
	candidates, err := r.client.Search(ctx, params)
	if r.metrics != nil {
		r.metrics.ObserveRegistrySearchDuration(r.now().Sub(searchStart))
	}
	if err != nil {
		// The step keeps waiting on the operator, who can retry with
		// different parameters or skip.
		if markErr := r.machine.MarkFailed(job, err); markErr != nil {
			return nil, markErr
		}
		if registry.IsTransient(err) {
			return nil, fmt.Errorf("%w: registry temporarily unavailable, retry the search: %v", domain.ErrExternalService, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalService, err)
	}

	job.Candidates = candidates
	job.SelectedCompany = nil
	if len(candidates) == 1 {
		number := candidates[0].CompanyNumber
		job.SelectedCompany = &number
	}

	r.logger.Info("registry search completed",
		zap.String("jobId", job.ID),
		zap.String("name", params.Name),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// Select records the operator's company choice and completes the
// resolution step. The company must be one of the current candidates.
func (r *CompanyResolver) Select(job *domain.Job, companyNumber string) error {
	companyNumber = strings.TrimSpace(companyNumber)
	if companyNumber == "" {
		return fmt.Errorf("%w: company number is required", domain.ErrValidation)
	}

	found := false
	for _, candidate := range job.Candidates {
		if candidate.CompanyNumber == companyNumber {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: company %s is not among the current candidates", domain.ErrValidation, companyNumber)
	}

	job.SelectedCompany = &companyNumber
	return r.machine.Accept(job)
}

// Confirm accepts the pre-selected candidate. Only valid when exactly one
// candidate is selected; zero or multiple candidates require an explicit
// retry, select, or skip.
func (r *CompanyResolver) Confirm(job *domain.Job) error {
	if job.SelectedCompany == nil {
		return fmt.Errorf("%w: job %s has no selected company", domain.ErrConflict, job.ID)
	}
	return r.machine.Accept(job)
}

// ConfirmAll accepts the selection on every job still waiting at company
// resolution. The call is all-or-nothing: if any job has neither a selected
// company nor a manual entry, nothing is confirmed and the unresolved job ids
// are reported. Jobs already past resolution are left untouched.
func (r *CompanyResolver) ConfirmAll(jobs []*domain.Job) error {
	var unresolved []string
	confirmable := make([]*domain.Job, 0, len(jobs))
	for _, job := range jobs {
		if !r.atResolutionStep(job) {
			continue
		}
		if job.SelectedCompany == nil {
			unresolved = append(unresolved, job.ID)
			continue
		}
		confirmable = append(confirmable, job)
	}

	if len(unresolved) > 0 {
		return fmt.Errorf("%w: jobs without a resolved company: %s", domain.ErrConflict, strings.Join(unresolved, ", "))
	}

	for _, job := range confirmable {
		if err := r.machine.Accept(job); err != nil {
			return err
		}
	}
	return nil
}

func (r *CompanyResolver) atResolutionStep(job *domain.Job) bool {
	step, err := r.machine.catalog.Step(job.CurrentStep)
	if err != nil {
		return false
	}
	return step.Name == catalog.StepCompanyResolution && !job.Status.Terminal()
}

// SkipWithManualEntry bypasses company resolution entirely. The resolution
// step and every company-dependent step are marked SKIPPED and the job jumps
// to the next step that does not depend on a resolved company.
func (r *CompanyResolver) SkipWithManualEntry(job *domain.Job, details *domain.ManualEntryDetails) error {
	if err := details.Validate(); err != nil {
		return err
	}

	release, err := r.machine.BeginOperation(job.ID, job.CurrentStep)
	if err != nil {
		return err
	}
	defer release()

	entry := *details
	if err := r.machine.SkipCompanySteps(job); err != nil {
		return err
	}
	job.ManualEntry = &entry

	r.logger.Info("company resolution skipped with manual entry",
		zap.String("jobId", job.ID),
		zap.String("contactName", entry.ContactName),
	)
	return nil
}

// DefaultSearchParams pre-fills registry search parameters from the
// restaurant's known data. Advisory only; the operator may edit the result
// before retrying.
func DefaultSearchParams(job *domain.Job) registry.SearchParams {
	return registry.SearchParams{
		Name:   NormalizeRestaurantName(job.RestaurantName),
		Street: ExtractStreet(job.Address),
		City:   extractCity(job.Address),
	}
}

// bracketSuffix matches platform-appended store identifiers such as
// "Pizza Palace (Newtown)".
var bracketSuffix = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]\s*$`)

// NormalizeRestaurantName strips bracketed location suffixes the platform
// appends to distinguish stores.
func NormalizeRestaurantName(name string) string {
	return strings.TrimSpace(bracketSuffix.ReplaceAllString(name, ""))
}

var streetSuffixes = map[string]bool{
	"street": true, "st": true,
	"road": true, "rd": true,
	"avenue": true, "ave": true,
	"drive": true, "dr": true,
	"lane": true, "ln": true,
	"boulevard": true, "blvd": true,
	"highway": true, "hwy": true,
	"court": true, "ct": true,
	"crescent": true, "cres": true,
	"parade": true, "pde": true,
	"terrace": true, "tce": true,
	"place": true, "pl": true,
	"way": true,
}

// ExtractStreet pulls the likely street token out of a full address by
// locating the first known street-type suffix word, falling back to the
// first three address tokens when no suffix is found.
func ExtractStreet(address string) string {
	tokens := strings.Fields(strings.ReplaceAll(address, ",", " "))
	if len(tokens) == 0 {
		return ""
	}

	for i, token := range tokens {
		cleaned := strings.ToLower(strings.Trim(token, ".,"))
		if streetSuffixes[cleaned] {
			return strings.Join(tokens[:i+1], " ")
		}
	}

	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	return strings.Join(tokens, " ")
}

func extractCity(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
