// Package stats derives a user's listening report from their rating events.
package stats

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NoneYet labels an empty top artist or genre.
const NoneYet = "None yet"

const (
	opServiceNew = "stats.service.new"
	opReport     = "stats.report"
	recentWindow = 30 * 24 * time.Hour
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// Report summarizes a user's rating events.
type Report struct {
	TotalAlbums         int64
	AverageRating       float64
	TotalRelistens      int64
	RatingsDistribution map[int]int64
	Last30Days          int64
	TopArtist           string
	TopGenre            string
}

// ServiceConfig describes the dependencies of the stats reporter.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service computes reports on demand; nothing is cached.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates dependencies and builds the reporter.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

type eventRow struct {
	LogID            string `gorm:"column:log_id"`
	Rating           int    `gorm:"column:rating"`
	Relisten         bool   `gorm:"column:relisten"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s"`
	Artist           string `gorm:"column:artist"`
	Genres           string `gorm:"column:genres"`
}

// Report builds the stats report for userID.
func (s *Service) Report(ctx context.Context, userID string) (Report, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Table(ratings.Log{}.TableName()+" AS l").
		Select("l.log_id, l.rating, l.relisten, l.created_at_s, a.artist, a.genres").
		Joins("JOIN "+albums.Album{}.TableName()+" AS a ON a.album_id = l.album_id").
		Where("l.user_id = ?", userID).
		Order("l.created_at_s ASC, l.log_id ASC").
		Scan(&rows).Error
	if err != nil {
		s.logger.Error("stats service error",
			zap.String("operation", opReport),
			zap.String("reason", "query_failed"),
			zap.String("user_id", userID),
			zap.Error(err))
		return Report{}, apperr.Internal(opReport, "query_failed", err)
	}
	return summarize(rows, s.clock().UTC()), nil
}

func summarize(rows []eventRow, now time.Time) Report {
	report := Report{
		RatingsDistribution: map[int]int64{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		TopArtist:           NoneYet,
		TopGenre:            NoneYet,
	}
	if len(rows) == 0 {
		return report
	}

	cutoff := now.Add(-recentWindow).Unix()
	artists := newTally()
	genres := newTally()
	sum := 0
	for _, row := range rows {
		report.TotalAlbums++
		sum += row.Rating
		if row.Relisten {
			report.TotalRelistens++
		}
		if row.Rating >= ratings.MinRating && row.Rating <= ratings.MaxRating {
			report.RatingsDistribution[row.Rating]++
		}
		if row.CreatedAtSeconds >= cutoff {
			report.Last30Days++
		}
		if artist := strings.TrimSpace(row.Artist); artist != "" {
			artists.add(artist)
		}
		counted := make(map[string]struct{})
		for _, genre := range albums.SplitGenres(row.Genres) {
			key := strings.ToLower(genre)
			if _, seen := counted[key]; seen {
				continue
			}
			counted[key] = struct{}{}
			genres.add(genre)
		}
	}
	report.AverageRating = ratings.RoundRating(float64(sum) / float64(len(rows)))
	if top, ok := artists.top(); ok {
		report.TopArtist = top
	}
	if top, ok := genres.top(); ok {
		report.TopGenre = top
	}
	return report
}

// tally counts labels case-insensitively and remembers first appearance for ties.
type tally struct {
	entries map[string]*tallyEntry
	next    int
}

type tallyEntry struct {
	label string
	count int
	first int
}

func newTally() *tally {
	return &tally{entries: make(map[string]*tallyEntry)}
}

func (t *tally) add(label string) {
	key := strings.ToLower(label)
	entry, ok := t.entries[key]
	if !ok {
		entry = &tallyEntry{label: label, first: t.next}
		t.entries[key] = entry
		t.next++
	}
	entry.count++
}

func (t *tally) top() (string, bool) {
	var best *tallyEntry
	for _, entry := range t.entries {
		if best == nil || entry.count > best.count || (entry.count == best.count && entry.first < best.first) {
			best = entry
		}
	}
	if best == nil {
		return "", false
	}
	return best.label, true
}
