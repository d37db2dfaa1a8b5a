package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID                   string             `gorm:"type:uuid;primaryKey"`
	Name                 string             `gorm:"type:varchar(255);not null"`
	Status               domain.BatchStatus `gorm:"type:varchar(20);not null"`
	TotalRestaurants     int                `gorm:"not null"`
	CompletedRestaurants int                `gorm:"not null;default:0"`
	FailedRestaurants    int                `gorm:"not null;default:0"`
	CurrentStep          int                `gorm:"not null;default:1"`
	TotalSteps           int                `gorm:"not null"`
	FailFast             bool               `gorm:"not null;default:false"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// JobModel is the persistence model for the jobs table. Step records,
// candidates, sub-step states, and the configuration draft are stored as
// jsonb documents: they are always read and written as a unit with the job.
type JobModel struct {
	ID              string           `gorm:"type:uuid;primaryKey"`
	BatchID         string           `gorm:"type:uuid;not null;index"`
	RestaurantID    string           `gorm:"type:varchar(64);not null"`
	RestaurantName  string           `gorm:"type:varchar(255);not null"`
	Address         string           `gorm:"type:text"`
	ContactEmail    string           `gorm:"type:varchar(255)"`
	ContactPhone    string           `gorm:"type:varchar(64)"`
	MenuIDs         json.RawMessage  `gorm:"type:jsonb"`
	Status          domain.JobStatus `gorm:"type:varchar(20);not null"`
	CurrentStep     int              `gorm:"not null;default:1"`
	Steps           json.RawMessage  `gorm:"type:jsonb;not null"`
	Candidates      json.RawMessage  `gorm:"type:jsonb"`
	SelectedCompany *string          `gorm:"type:varchar(64)"`
	ManualEntry     json.RawMessage  `gorm:"type:jsonb"`
	SubSteps        json.RawMessage  `gorm:"type:jsonb"`
	Config          json.RawMessage  `gorm:"type:jsonb"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (JobModel) TableName() string {
	return "jobs"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:                   b.ID,
		Name:                 b.Name,
		Status:               b.Status,
		TotalRestaurants:     b.TotalRestaurants,
		CompletedRestaurants: b.CompletedRestaurants,
		FailedRestaurants:    b.FailedRestaurants,
		CurrentStep:          b.CurrentStep,
		TotalSteps:           b.TotalSteps,
		FailFast:             b.FailFast,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:                   m.ID,
		Name:                 m.Name,
		Status:               m.Status,
		TotalRestaurants:     m.TotalRestaurants,
		CompletedRestaurants: m.CompletedRestaurants,
		FailedRestaurants:    m.FailedRestaurants,
		CurrentStep:          m.CurrentStep,
		TotalSteps:           m.TotalSteps,
		FailFast:             m.FailFast,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func jobModelFromDomain(j *domain.Job) (*JobModel, error) {
	if j == nil {
		return nil, nil
	}

	menuIDs, err := marshalJSON(j.MenuIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode menu ids: %w", err)
	}
	steps, err := marshalJSON(j.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode step records: %w", err)
	}
	candidates, err := marshalJSON(j.Candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}
	manualEntry, err := marshalOptionalJSON(j.ManualEntry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manual entry: %w", err)
	}
	subSteps, err := marshalJSON(j.SubSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sub-steps: %w", err)
	}
	config, err := marshalOptionalJSON(j.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}

	return &JobModel{
		ID:              j.ID,
		BatchID:         j.BatchID,
		RestaurantID:    j.RestaurantID,
		RestaurantName:  j.RestaurantName,
		Address:         j.Address,
		ContactEmail:    j.ContactEmail,
		ContactPhone:    j.ContactPhone,
		MenuIDs:         menuIDs,
		Status:          j.Status,
		CurrentStep:     j.CurrentStep,
		Steps:           steps,
		Candidates:      candidates,
		SelectedCompany: j.SelectedCompany,
		ManualEntry:     manualEntry,
		SubSteps:        subSteps,
		Config:          config,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}, nil
}

func jobModelToDomain(m *JobModel) (*domain.Job, error) {
	if m == nil {
		return nil, nil
	}

	j := &domain.Job{
		ID:              m.ID,
		BatchID:         m.BatchID,
		RestaurantID:    m.RestaurantID,
		RestaurantName:  m.RestaurantName,
		Address:         m.Address,
		ContactEmail:    m.ContactEmail,
		ContactPhone:    m.ContactPhone,
		Status:          m.Status,
		CurrentStep:     m.CurrentStep,
		SelectedCompany: m.SelectedCompany,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}

	if err := unmarshalJSON(m.MenuIDs, &j.MenuIDs); err != nil {
		return nil, fmt.Errorf("failed to decode menu ids: %w", err)
	}
	if err := unmarshalJSON(m.Steps, &j.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode step records: %w", err)
	}
	if err := unmarshalJSON(m.Candidates, &j.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	if err := unmarshalJSON(m.ManualEntry, &j.ManualEntry); err != nil {
		return nil, fmt.Errorf("failed to decode manual entry: %w", err)
	}
	if err := unmarshalJSON(m.SubSteps, &j.SubSteps); err != nil {
		return nil, fmt.Errorf("failed to decode sub-steps: %w", err)
	}
	if err := unmarshalJSON(m.Config, &j.Config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return j, nil
}

func marshalJSON(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func marshalOptionalJSON[T any](v *T) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSON(v)
}

func unmarshalJSON(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, target)
}
