package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/mohammadpnp/roster-import/internal/infrastructure/db/migrations"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func integrationDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	if err := migrations.Up(context.Background(), sqlDB); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db, dsn
}
