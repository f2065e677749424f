package main

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/waxlog/internal/config"
	"github.com/MarcoPoloResearchLab/waxlog/internal/database"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "app.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return db
}

func TestAssembleApplicationClosesStoreOnServiceFailure(t *testing.T) {
	db := openTestStore(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access pool: %v", err)
	}

	app, err := assembleApplication(config.AppConfig{}, zap.NewNop(), db, nil)
	if err == nil {
		t.Fatalf("expected missing id provider to fail")
	}
	if app != nil {
		t.Fatalf("expected no application on failure")
	}
	if pingErr := sqlDB.Ping(); pingErr == nil {
		t.Fatalf("expected database pool to be closed after failure")
	}
}

func TestAssembleApplicationBuildsServices(t *testing.T) {
	db := openTestStore(t)

	app, err := assembleApplication(config.AppConfig{StrictRanks: true}, zap.NewNop(), db, ids.NewSequence("app"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if app.users == nil || app.albums == nil || app.ratings == nil || app.favorites == nil || app.lists == nil || app.stats == nil {
		t.Fatalf("expected every service to be built")
	}
	sqlDB := app.sqlDB
	app.Close()
	if pingErr := sqlDB.Ping(); pingErr == nil {
		t.Fatalf("expected close to release the pool")
	}
}
