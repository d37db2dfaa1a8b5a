package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the overall state of one restaurant's registration.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the job can no longer progress.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the state of one pipeline step within a job.
type StepStatus string

const (
	StepStatusPending        StepStatus = "PENDING"
	StepStatusInProgress     StepStatus = "IN_PROGRESS"
	StepStatusActionRequired StepStatus = "ACTION_REQUIRED"
	StepStatusCompleted      StepStatus = "COMPLETED"
	StepStatusFailed         StepStatus = "FAILED"
	StepStatusSkipped        StepStatus = "SKIPPED"
)

func (s StepStatus) String() string { return string(s) }

func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusActionRequired,
		StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether the step has reached a final status.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// StepType distinguishes steps that complete on their own from steps that
// pause the pipeline for an operator decision.
type StepType string

const (
	StepTypeAutomatic      StepType = "AUTOMATIC"
	StepTypeActionRequired StepType = "ACTION_REQUIRED"
)

func (t StepType) String() string { return string(t) }

func (t StepType) IsValid() bool {
	return t == StepTypeAutomatic || t == StepTypeActionRequired
}

// StepRecord tracks one pipeline step for one job. StepType is copied from
// the catalog when the job is created.
type StepRecord struct {
	StepNumber int        `json:"stepNumber"`
	Status     StepStatus `json:"status"`
	StepType   StepType   `json:"stepType"`
}

// SubStepStatus represents the state of one automated-setup sub-step.
type SubStepStatus string

const (
	SubStepStatusPending    SubStepStatus = "PENDING"
	SubStepStatusInProgress SubStepStatus = "IN_PROGRESS"
	SubStepStatusCompleted  SubStepStatus = "COMPLETED"
	SubStepStatusFailed     SubStepStatus = "FAILED"
	SubStepStatusSkipped    SubStepStatus = "SKIPPED"
	SubStepStatusRetrying   SubStepStatus = "RETRYING"
	// SubStepStatusStale marks a sub-step that completed against a dependency
	// which has since been reset without cascading.
	SubStepStatusStale SubStepStatus = "STALE"
)

func (s SubStepStatus) String() string { return string(s) }

func (s SubStepStatus) IsValid() bool {
	switch s {
	case SubStepStatusPending, SubStepStatusInProgress, SubStepStatusCompleted,
		SubStepStatusFailed, SubStepStatusSkipped, SubStepStatusRetrying,
		SubStepStatusStale:
		return true
	}
	return false
}

// Done reports whether the sub-step counts as done for dependents.
// STALE does not: it flags a completion whose inputs were invalidated.
func (s SubStepStatus) Done() bool {
	return s == SubStepStatusCompleted || s == SubStepStatusSkipped
}

func ParseSubStepStatusFromString(s string) (SubStepStatus, error) {
	st := SubStepStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid sub-step status %q", ErrValidation, s)
	}
	return st, nil
}

// SubStepState tracks one sub-step of the automated-setup step for one job.
// DependsOn is immutable and copied from the catalog.
type SubStepState struct {
	Key       string        `json:"key"`
	Status    SubStepStatus `json:"status"`
	DependsOn []string      `json:"dependsOn,omitempty"`
	LastError *string       `json:"lastError,omitempty"`
}

// CompanyCandidate is a read-only company-registry record proposed as a
// match for a restaurant. Never mutated locally.
type CompanyCandidate struct {
	CompanyNumber string `json:"companyNumber"`
	CompanyName   string `json:"companyName"`
	Status        string `json:"status"`
	MatchSource   string `json:"matchSource"`
}

// ManualEntryDetails bypasses company resolution entirely. Only ContactName
// is required.
type ManualEntryDetails struct {
	ContactName    string `json:"contactName"`
	FullLegalName  string `json:"fullLegalName,omitempty"`
	ContactEmail   string `json:"contactEmail,omitempty"`
	ContactPhone   string `json:"contactPhone,omitempty"`
	CompanyName    string `json:"companyName,omitempty"`
	CompanyNumber  string `json:"companyNumber,omitempty"`
	GSTNumber      string `json:"gstNumber,omitempty"`
	BusinessNumber string `json:"businessNumber,omitempty"`
}

func (d *ManualEntryDetails) Validate() error {
	if d == nil || strings.TrimSpace(d.ContactName) == "" {
		return fmt.Errorf("%w: contact name is required", ErrValidation)
	}
	return nil
}

// Job is one restaurant's progress through the registration pipeline. Owned
// exclusively by its batch and mutated only by the step machine.
type Job struct {
	ID             string
	BatchID        string
	RestaurantID   string
	RestaurantName string
	Address        string
	ContactEmail   string
	ContactPhone   string
	MenuIDs        []string

	Status          JobStatus
	CurrentStep     int
	Steps           []StepRecord
	Candidates      []CompanyCandidate
	SelectedCompany *string
	ManualEntry     *ManualEntryDetails
	SubSteps        map[string]*SubStepState
	Config          *SetupConfiguration

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step returns the record for a 1-based step number.
func (j *Job) Step(number int) (*StepRecord, error) {
	if number < 1 || number > len(j.Steps) {
		return nil, fmt.Errorf("%w: step %d out of range (job has %d steps)", ErrNotFound, number, len(j.Steps))
	}
	return &j.Steps[number-1], nil
}

// CurrentStepRecord returns the record the job is currently on.
func (j *Job) CurrentStepRecord() (*StepRecord, error) {
	return j.Step(j.CurrentStep)
}

// SubStep returns the state for a sub-step key.
func (j *Job) SubStep(key string) (*SubStepState, error) {
	state, ok := j.SubSteps[key]
	if !ok {
		return nil, fmt.Errorf("%w: sub-step %q", ErrNotFound, key)
	}
	return state, nil
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.RestaurantID) == "" {
		return fmt.Errorf("%w: restaurant id is required", ErrValidation)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid job status %q", ErrValidation, j.Status)
	}
	if len(j.Steps) > 0 && (j.CurrentStep < 1 || j.CurrentStep > len(j.Steps)) {
		return fmt.Errorf("%w: current step %d out of range", ErrValidation, j.CurrentStep)
	}
	return nil
}
