package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
	"gorm.io/gorm"
)

type JobRepository interface {
	CreateBatch(ctx context.Context, jobs []*domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	Update(ctx context.Context, j *domain.Job) error
	ListByBatch(ctx context.Context, batchID string) ([]*domain.Job, error)
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) CreateBatch(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	models := make([]JobModel, 0, len(jobs))
	for _, j := range jobs {
		model, err := jobModelFromDomain(j)
		if err != nil {
			return err
		}
		if model != nil {
			models = append(models, *model)
		}
	}

	return r.db.WithContext(ctx).CreateInBatches(&models, 100).Error
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model)
}

func (r *GormJobRepo) Update(ctx context.Context, j *domain.Job) error {
	model, err := jobModelFromDomain(j)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"status":           model.Status,
			"current_step":     model.CurrentStep,
			"steps":            model.Steps,
			"candidates":       model.Candidates,
			"selected_company": model.SelectedCompany,
			"manual_entry":     model.ManualEntry,
			"sub_steps":        model.SubSteps,
			"config":           model.Config,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) ListByBatch(ctx context.Context, batchID string) ([]*domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(models))
	for i := range models {
		j, err := jobModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
