package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"go.uber.org/zap"
)

const (
	// defaultPasswordSuffix is appended to the cleaned restaurant name when
	// no credential hint exists for the account.
	defaultPasswordSuffix = "123!"

	defaultTimezone        = "Australia/Sydney"
	defaultPaymentProvider = "stripe"
	defaultSettlementDays  = 2
	defaultPrimaryColor    = "#1f2937"
	defaultSecondaryColor  = "#f59e0b"
)

// ExecuteResult reports the dispatch outcome for one job in a bulk execute.
type ExecuteResult struct {
	JobID string
	Err   error
}

// ConfigurationBundler builds, clones, and executes the per-restaurant setup
// configuration used by the automated-setup step.
type ConfigurationBundler struct {
	machine   *JobStepMachine
	graph     *SubStepGraph
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewConfigurationBundler(
	machine *JobStepMachine,
	graph *SubStepGraph,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*ConfigurationBundler, error) {
	if machine == nil {
		return nil, fmt.Errorf("step machine is required")
	}
	if graph == nil {
		return nil, fmt.Errorf("sub-step graph is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigurationBundler{
		machine:   machine,
		graph:     graph,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Initialize builds the default configuration draft seeded from the
// restaurant's known data. An existing password on the draft is treated as a
// credential hint and kept.
func (b *ConfigurationBundler) Initialize(job *domain.Job) *domain.SetupConfiguration {
	password := DefaultPassword(job.RestaurantName)
	if job.Config != nil && job.Config.Account.Password != "" {
		password = job.Config.Account.Password
	}

	contactName := ""
	if job.ManualEntry != nil {
		contactName = job.ManualEntry.ContactName
	}

	selectedMenu := ""
	if len(job.MenuIDs) > 0 {
		selectedMenu = job.MenuIDs[0]
	}

	config := &domain.SetupConfiguration{
		Account: domain.AccountConfig{
			Email:       job.ContactEmail,
			Password:    password,
			ContactName: contactName,
			Phone:       job.ContactPhone,
		},
		Restaurant: domain.RestaurantConfig{
			Name:     NormalizeRestaurantName(job.RestaurantName),
			Address:  job.Address,
			Timezone: defaultTimezone,
		},
		Menu: domain.MenuConfig{
			SelectedMenuID: selectedMenu,
			AvailableMenus: append([]string(nil), job.MenuIDs...),
			ImportImages:   true,
		},
		Website: domain.WebsiteConfig{
			Subdomain:      Subdomain(job.RestaurantName),
			PrimaryColor:   defaultPrimaryColor,
			SecondaryColor: defaultSecondaryColor,
			ShowGallery:    true,
		},
		Payment: domain.PaymentConfig{
			Provider:       defaultPaymentProvider,
			AcceptsOnline:  true,
			SettlementDays: defaultSettlementDays,
		},
		Onboarding: domain.OnboardingConfig{
			SendWelcomeEmail: true,
		},
	}

	job.Config = config
	return config
}

// CloneTo fans the source job's configuration out to the targets. Fields
// that must stay unique per restaurant are regenerated from each target's
// own data: password, subdomain, contact email/phone, and selected menu.
func (b *ConfigurationBundler) CloneTo(source *domain.Job, targets []*domain.Job) error {
	if source == nil || source.Config == nil {
		return fmt.Errorf("%w: source job has no configuration to clone", domain.ErrValidation)
	}

	for _, target := range targets {
		if target.ID == source.ID {
			continue
		}

		clone := source.Config.Clone()

		clone.Account.Password = DefaultPassword(target.RestaurantName)
		if target.ContactEmail != "" {
			clone.Account.Email = target.ContactEmail
		}
		if target.ContactPhone != "" {
			clone.Account.Phone = target.ContactPhone
		}

		clone.Restaurant.Name = NormalizeRestaurantName(target.RestaurantName)
		clone.Restaurant.Address = target.Address
		clone.Website.Subdomain = Subdomain(target.RestaurantName)

		clone.Menu.AvailableMenus = append([]string(nil), target.MenuIDs...)
		clone.Menu.SelectedMenuID = ""
		if len(target.MenuIDs) > 0 {
			clone.Menu.SelectedMenuID = target.MenuIDs[0]
		}

		target.Config = clone
	}

	b.logger.Info("configuration cloned",
		zap.String("sourceJobId", source.ID),
		zap.Int("targets", len(targets)),
	)
	return nil
}

// HasUnsavedChanges compares the in-memory draft against the last persisted
// record, field by field. Used to gate whether a save is needed before
// execution.
func (b *ConfigurationBundler) HasUnsavedChanges(draft, persisted *domain.SetupConfiguration) bool {
	return !draft.Equal(persisted)
}

// Configured reports whether a job's draft is eligible for execution.
func (b *ConfigurationBundler) Configured(job *domain.Job) bool {
	return job != nil && job.Config.Configured()
}

// SelectConfigured returns the IDs of jobs eligible for a bulk execute.
// Incomplete drafts are excluded rather than rejected.
func (b *ConfigurationBundler) SelectConfigured(jobs []*domain.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if b.Configured(job) {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

// Execute moves exactly the selected jobs onto the automated-setup step and
// dispatches one setup run per job. Jobs fail or succeed independently; a
// failure never blocks or rolls back a sibling, and unselected jobs are not
// touched at all.
func (b *ConfigurationBundler) Execute(ctx context.Context, jobs []*domain.Job) []ExecuteResult {
	results := make([]ExecuteResult, 0, len(jobs))

	for _, job := range jobs {
		results = append(results, ExecuteResult{
			JobID: job.ID,
			Err:   b.executeOne(ctx, job),
		})
	}
	return results
}

func (b *ConfigurationBundler) executeOne(ctx context.Context, job *domain.Job) error {
	if !b.Configured(job) {
		return fmt.Errorf("%w: job %s is not configured", domain.ErrValidation, job.ID)
	}

	release, err := b.machine.BeginOperation(job.ID, job.CurrentStep)
	if err != nil {
		return err
	}
	defer release()

	// Completing the configuration step lands the job on the automated-setup
	// step, which starts in progress.
	if err := b.machine.Accept(job); err != nil {
		return err
	}
	b.graph.Initialize(job)

	msg := queue.JobMessage{JobID: job.ID, BatchID: job.BatchID}
	if err := b.publisher.Publish(ctx, queue.SetupQueueName, msg); err != nil {
		b.logger.Error("failed to dispatch setup run",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		if advErr := b.machine.Advance(job, ExternalResult{Err: err}); advErr != nil {
			return advErr
		}
		return fmt.Errorf("%w: failed to dispatch setup run: %v", domain.ErrExternalService, err)
	}

	b.logger.Info("setup run dispatched", zap.String("jobId", job.ID))
	return nil
}

// DefaultPassword derives the deterministic default credential from the
// restaurant name: letters only, first letter capitalized, fixed suffix.
func DefaultPassword(name string) string {
	var letters []rune
	for _, r := range name {
		if unicode.IsLetter(r) {
			letters = append(letters, unicode.ToLower(r))
		}
	}
	if len(letters) == 0 {
		return ""
	}
	letters[0] = unicode.ToUpper(letters[0])
	return string(letters) + defaultPasswordSuffix
}

// Subdomain derives a URL-safe subdomain from the restaurant name.
func Subdomain(name string) string {
	name = strings.ToLower(NormalizeRestaurantName(name))
	var out []rune
	lastHyphen := true
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out = append(out, r)
			lastHyphen = false
		case !lastHyphen:
			out = append(out, '-')
			lastHyphen = true
		}
	}
	return strings.Trim(string(out), "-")
}
