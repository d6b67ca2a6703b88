package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRequestOwners = "2026-06-12_backfill_request_owners"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRequestOwners, apply: backfillRequestOwners},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillRequestOwners copies the impulse owner onto rows written before
// join_requests carried the denormalized owner column. Requests whose impulse
// is already gone stay as they are; resolution against them is impossible
// anyway.
func backfillRequestOwners(db *gorm.DB) error {
	const statement = `
UPDATE join_requests
SET owner = (SELECT impulses.owner FROM impulses WHERE impulses.impulse_id = join_requests.impulse_id)
WHERE (owner IS NULL OR owner = '')
  AND EXISTS (SELECT 1 FROM impulses WHERE impulses.impulse_id = join_requests.impulse_id);`
	return db.Exec(statement).Error
}
