package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeReleaseDates   = "2026-03-01_normalize_release_dates"
	migrationBackfillAlbumAggregates = "2026-03-02_backfill_album_aggregates"
)

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
		{name: migrationNormalizeReleaseDates, apply: normalizeReleaseDates},
		{name: migrationBackfillAlbumAggregates, apply: backfillAlbumAggregates},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeReleaseDates expands year and year-month precision dates stored before
// catalog payloads were normalized.
func normalizeReleaseDates(db *gorm.DB) error {
	var rows []albums.Album
	if err := db.Select("album_id", "release_date").
		Where("release_date <> '' AND LENGTH(release_date) < 10").
		Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		normalized := albums.NormalizeReleaseDate(row.ReleaseDate)
		if normalized == row.ReleaseDate {
			continue
		}
		if err := db.Model(&albums.Album{}).
			Where("album_id = ?", row.AlbumID).
			Update("release_date", normalized).Error; err != nil {
			return err
		}
	}
	return nil
}

// backfillAlbumAggregates rebuilds average_rating and total_logs from rating_logs.
func backfillAlbumAggregates(db *gorm.DB) error {
	return db.Exec(`UPDATE albums SET
		total_logs = (SELECT COUNT(*) FROM rating_logs WHERE rating_logs.album_id = albums.album_id),
		average_rating = COALESCE((SELECT ROUND(AVG(rating), 2) FROM rating_logs WHERE rating_logs.album_id = albums.album_id), 0)`).Error
}
