package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"gorm.io/gorm"
)

func createJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs (batch_id)`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_restaurant_id ON jobs (restaurant_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobModel{})
		},
	}
}
