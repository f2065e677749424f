package database

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func TestApplyMigrationsRepairsAlbums(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&albums.Album{}, &ratings.Log{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	album := albums.Album{
		AlbumID:       "album-1",
		CatalogID:     "alb-1",
		Name:          "Blue",
		ReleaseDate:   "1971-06",
		AverageRating: 1.5,
		TotalLogs:     9,
	}
	if err := database.Create(&album).Error; err != nil {
		testContext.Fatalf("failed to insert album: %v", err)
	}
	for index, rating := range []int{5, 4, 4} {
		entry := ratings.Log{
			LogID:      "log-" + string(rune('a'+index)),
			UserID:     "user-" + string(rune('a'+index)),
			AlbumID:    album.AlbumID,
			Rating:     rating,
			ListenDate: "",
		}
		if err := database.Create(&entry).Error; err != nil {
			testContext.Fatalf("failed to insert log: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored albums.Album
	if err := database.Where("album_id = ?", album.AlbumID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload album: %v", err)
	}
	if stored.ReleaseDate != "1971-06-01" {
		testContext.Fatalf("expected normalized release date, got %s", stored.ReleaseDate)
	}
	if stored.TotalLogs != 3 || stored.AverageRating != 4.33 {
		testContext.Fatalf("expected aggregates 4.33/3, got %.2f/%d", stored.AverageRating, stored.TotalLogs)
	}

	for _, name := range []string{migrationNormalizeReleaseDates, migrationBackfillAlbumAggregates} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-applying migrations must be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	database, err := Open(Options{Driver: "sqlite", Path: filepath.Join(testContext.TempDir(), "open.db")}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, model := range Models() {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}
	if _, err := Open(Options{Driver: "oracle"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
}

// MySQL rejects DEFAULT on TEXT and BLOB columns, so AutoMigrate would fail there.
func TestModelsKeepLargeColumnsWithoutDefaults(testContext *testing.T) {
	cache := &sync.Map{}
	for _, model := range Models() {
		parsed, err := schema.Parse(model, cache, schema.NamingStrategy{})
		if err != nil {
			testContext.Fatalf("failed to parse %T: %v", model, err)
		}
		for _, field := range parsed.Fields {
			dataType := strings.ToLower(string(field.DataType))
			if !strings.Contains(dataType, "text") && !strings.Contains(dataType, "blob") {
				continue
			}
			if field.HasDefaultValue || field.DefaultValue != "" {
				testContext.Fatalf("%s.%s is %s with default %q", parsed.Table, field.DBName, dataType, field.DefaultValue)
			}
		}
	}
}
