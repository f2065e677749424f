package ratings

import (
	"math"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/metrics"
	"gorm.io/gorm"
)

const (
	opRecompute = "ratings.recompute_aggregates"
	opPurgeUser = "ratings.purge_user"
)

type aggregateRow struct {
	Total   int64
	Average float64
}

// RoundRating rounds a mean rating to two fractional digits.
func RoundRating(value float64) float64 {
	return math.Round(value*100) / 100
}

// recomputeAggregates rebuilds average_rating and total_logs for albumID from the full
// set of its rating events. It must run inside the transaction that mutated the events,
// after the album row has been locked, so readers never observe a half-applied update.
func recomputeAggregates(tx *gorm.DB, albumID string, nowSeconds int64) (albums.Album, error) {
	album, err := albums.LockInTx(tx, albumID)
	if err != nil {
		return albums.Album{}, err
	}

	var row aggregateRow
	if err := tx.Model(&Log{}).
		Select("COUNT(*) AS total, COALESCE(AVG(rating), 0) AS average").
		Where(queryAlbumID, albumID).
		Scan(&row).Error; err != nil {
		return albums.Album{}, apperr.Internal(opRecompute, "aggregate_query_failed", err)
	}

	average := 0.0
	if row.Total > 0 {
		average = RoundRating(row.Average)
	}
	if err := tx.Model(&albums.Album{}).
		Where(queryAlbumID, albumID).
		Updates(map[string]any{
			"average_rating": average,
			"total_logs":     row.Total,
			"updated_at_s":   nowSeconds,
		}).Error; err != nil {
		return albums.Album{}, apperr.Internal(opRecompute, "album_update_failed", err)
	}

	metrics.AggregateRecomputes.Inc()
	album.AverageRating = average
	album.TotalLogs = row.Total
	album.UpdatedAtSeconds = nowSeconds
	return album, nil
}

// PurgeUserInTx deletes every rating event of userID and recomputes the aggregates of
// each album those events touched. It runs in the caller's transaction.
func PurgeUserInTx(tx *gorm.DB, userID string, nowSeconds int64) (int, error) {
	var albumIDs []string
	if err := tx.Model(&Log{}).
		Where("user_id = ?", userID).
		Distinct(fieldAlbumID).
		Order(fieldAlbumID).
		Pluck(fieldAlbumID, &albumIDs).Error; err != nil {
		return 0, apperr.Internal(opPurgeUser, "album_query_failed", err)
	}
	if err := tx.Where("user_id = ?", userID).Delete(&Log{}).Error; err != nil {
		return 0, apperr.Internal(opPurgeUser, "log_delete_failed", err)
	}
	for _, albumID := range albumIDs {
		if _, err := recomputeAggregates(tx, albumID, nowSeconds); err != nil {
			return 0, err
		}
	}
	return len(albumIDs), nil
}
