package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/request"
)

func TestApplyMigrationsBackfillsRequestOwners(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&impulse.Impulse{}, &request.JoinRequest{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	record := impulse.Impulse{
		ImpulseID:        "impulse-1",
		Owner:            "owner-1",
		Message:          "Coffee?",
		Lat:              55.75,
		Lng:              37.61,
		CreatedAtSeconds: 1700000000,
	}
	if err := database.Create(&record).Error; err != nil {
		testContext.Fatalf("failed to insert impulse: %v", err)
	}

	legacy := request.JoinRequest{
		RequestID:        "request-1",
		ImpulseID:        "impulse-1",
		Requester:        "viewer-1",
		Status:           request.StatusPending,
		CreatedAtSeconds: 1700000100,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert request: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored request.JoinRequest
	if err := database.Where("request_id = ?", legacy.RequestID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload request: %v", err)
	}
	if stored.Owner != "owner-1" {
		testContext.Fatalf("expected owner backfill, got %q", stored.Owner)
	}

	var applied migrationRecord
	if err := database.Where("name = ?", migrationBackfillRequestOwners).Take(&applied).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if applied.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&impulse.Impulse{}, &request.JoinRequest{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first apply failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected a single migration record, got %d", count)
	}
}
