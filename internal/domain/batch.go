package domain

import (
	"fmt"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a registration batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusInProgress BatchStatus = "IN_PROGRESS"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusCancelled  BatchStatus = "CANCELLED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusInProgress, BatchStatusCompleted,
		BatchStatusCancelled, BatchStatusFailed:
		return true
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// Batch groups restaurant registration jobs started and tracked together.
type Batch struct {
	ID                   string
	Name                 string
	Status               BatchStatus
	TotalRestaurants     int
	CompletedRestaurants int
	FailedRestaurants    int
	CurrentStep          int
	TotalSteps           int
	FailFast             bool
	JobIDs               []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (b *Batch) Validate() error {
	if b.TotalRestaurants <= 0 {
		return fmt.Errorf("%w: batch must include at least one restaurant", ErrValidation)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid batch status %q", ErrValidation, b.Status)
	}
	if b.CompletedRestaurants+b.FailedRestaurants > b.TotalRestaurants {
		return fmt.Errorf("%w: completed (%d) + failed (%d) exceeds total (%d)",
			ErrValidation, b.CompletedRestaurants, b.FailedRestaurants, b.TotalRestaurants)
	}
	return nil
}

// Terminal reports whether the batch has reached a final status.
func (b *Batch) Terminal() bool {
	switch b.Status {
	case BatchStatusCompleted, BatchStatusCancelled, BatchStatusFailed:
		return true
	}
	return false
}
