package ratings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "ratings.service.new"
	opSubmit          = "ratings.submit"
	opUpdate          = "ratings.update"
	opDelete          = "ratings.delete"
	opGet             = "ratings.get"
	opListForUser     = "ratings.list_for_user"
	opRecomputeAll    = "ratings.recompute_all"
	fieldUserID       = "user_id"
	fieldLogID        = "log_id"
	fieldAlbumID      = "album_id"
	queryLogID        = fieldLogID + " = ?"
	queryAlbumID      = fieldAlbumID + " = ?"
	queryUserID       = fieldUserID + " = ?"
	queryAlbumIDIn    = fieldAlbumID + " IN ?"
	queryLogKey       = "user_id = ? AND album_id = ? AND listen_date = ?"
	queryLogKeyOthers = queryLogKey + " AND log_id <> ?"
	orderNewestFirst  = "created_at_s DESC, log_id DESC"
	maxReviewLength   = 10000
	maxTrackLength    = 512
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the rating engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service records rating events and keeps album aggregates consistent with them.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService validates dependencies and builds the rating engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Submit stores a new rating event and recomputes the album aggregates in the same
// transaction.
func (s *Service) Submit(ctx context.Context, request SubmitRequest) (LogView, error) {
	if s.db == nil {
		return LogView{}, apperr.Internal(opSubmit, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(request.UserID) == "" {
		return LogView{}, apperr.Internal(opSubmit, "missing_user_id", errMissingUserID)
	}
	rating, err := NewRating(request.Rating)
	if err != nil {
		return LogView{}, apperr.Validation(opSubmit, "invalid_rating", "rating must be between 1 and 5").
			WithDetails(map[string]string{"rating": "must be between 1 and 5"})
	}
	listenDate, err := NewListenDate(request.ListenDate)
	if err != nil {
		return LogView{}, apperr.Validation(opSubmit, "invalid_listen_date", "listen date must be YYYY-MM-DD").
			WithDetails(map[string]string{"listen_date": "must be a YYYY-MM-DD date"})
	}
	if fieldErr := validateText(opSubmit, request.Review, request.FavoriteTrack); fieldErr != nil {
		return LogView{}, fieldErr
	}

	var view LogView
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		album, err := albums.FindInTx(tx, request.CatalogID)
		if err != nil {
			return err
		}
		if _, err := albums.LockInTx(tx, album.AlbumID); err != nil {
			return err
		}

		duplicate, err := s.keyTaken(tx, request.UserID, album.AlbumID, listenDate, "")
		if err != nil {
			s.logError(opSubmit, "duplicate_check_failed", err, zap.String(fieldUserID, request.UserID))
			return apperr.Internal(opSubmit, "duplicate_check_failed", err)
		}
		if duplicate {
			return duplicateLogError(opSubmit)
		}

		logID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSubmit, "id_generation_failed", err, zap.String(fieldUserID, request.UserID))
			return apperr.Internal(opSubmit, "id_generation_failed", err)
		}
		nowSeconds := s.clock().UTC().Unix()
		model := Log{
			LogID:            logID,
			UserID:           request.UserID,
			AlbumID:          album.AlbumID,
			ListenDate:       listenDate.String(),
			Rating:           rating.Int(),
			Review:           strings.TrimSpace(request.Review),
			FavoriteTrack:    strings.TrimSpace(request.FavoriteTrack),
			Relisten:         request.Relisten,
			CreatedAtSeconds: nowSeconds,
			UpdatedAtSeconds: nowSeconds,
		}
		createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if createResult.Error != nil {
			s.logError(opSubmit, "log_insert_failed", createResult.Error, zap.String(fieldUserID, request.UserID))
			return apperr.Internal(opSubmit, "log_insert_failed", createResult.Error)
		}
		if createResult.RowsAffected == 0 {
			return duplicateLogError(opSubmit)
		}

		updatedAlbum, err := recomputeAggregates(tx, album.AlbumID, nowSeconds)
		if err != nil {
			s.logError(opSubmit, "recompute_failed", err, zap.String(fieldAlbumID, album.AlbumID))
			return err
		}
		view = LogView{Log: model, Album: updatedAlbum}
		return nil
	})
	if transactionError != nil {
		return LogView{}, transactionError
	}
	return view, nil
}

// Update applies changes to an owned rating event. A rating change recomputes the
// album aggregates before the transaction commits.
func (s *Service) Update(ctx context.Context, logID, ownerID string, changes Changes) (LogView, error) {
	if s.db == nil {
		return LogView{}, apperr.Internal(opUpdate, "missing_database", errMissingDatabase)
	}
	var rating *Rating
	if changes.Rating != nil {
		value, err := NewRating(*changes.Rating)
		if err != nil {
			return LogView{}, apperr.Validation(opUpdate, "invalid_rating", "rating must be between 1 and 5").
				WithDetails(map[string]string{"rating": "must be between 1 and 5"})
		}
		rating = &value
	}
	var listenDate *ListenDate
	if changes.ListenDate != nil {
		value, err := NewListenDate(*changes.ListenDate)
		if err != nil {
			return LogView{}, apperr.Validation(opUpdate, "invalid_listen_date", "listen date must be YYYY-MM-DD").
				WithDetails(map[string]string{"listen_date": "must be a YYYY-MM-DD date"})
		}
		listenDate = &value
	}
	if fieldErr := validateText(opUpdate, deref(changes.Review), deref(changes.FavoriteTrack)); fieldErr != nil {
		return LogView{}, fieldErr
	}

	var view LogView
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.loadOwned(tx, opUpdate, logID, ownerID)
		if err != nil {
			return err
		}

		updated := stored
		if rating != nil {
			updated.Rating = rating.Int()
		}
		if changes.Review != nil {
			updated.Review = strings.TrimSpace(*changes.Review)
		}
		if changes.FavoriteTrack != nil {
			updated.FavoriteTrack = strings.TrimSpace(*changes.FavoriteTrack)
		}
		if changes.Relisten != nil {
			updated.Relisten = *changes.Relisten
		}
		if listenDate != nil && listenDate.String() != stored.ListenDate {
			taken, err := s.keyTaken(tx, stored.UserID, stored.AlbumID, *listenDate, stored.LogID)
			if err != nil {
				s.logError(opUpdate, "duplicate_check_failed", err, zap.String(fieldLogID, logID))
				return apperr.Internal(opUpdate, "duplicate_check_failed", err)
			}
			if taken {
				return duplicateLogError(opUpdate)
			}
			updated.ListenDate = listenDate.String()
		}

		nowSeconds := s.clock().UTC().Unix()
		if nowSeconds < stored.UpdatedAtSeconds {
			nowSeconds = stored.UpdatedAtSeconds
		}
		updated.UpdatedAtSeconds = nowSeconds
		if err := tx.Save(&updated).Error; err != nil {
			s.logError(opUpdate, "log_save_failed", err, zap.String(fieldLogID, logID))
			return apperr.Internal(opUpdate, "log_save_failed", err)
		}

		var album albums.Album
		if updated.Rating != stored.Rating {
			album, err = recomputeAggregates(tx, updated.AlbumID, nowSeconds)
			if err != nil {
				s.logError(opUpdate, "recompute_failed", err, zap.String(fieldAlbumID, updated.AlbumID))
				return err
			}
		} else if err := tx.Where(queryAlbumID, updated.AlbumID).Take(&album).Error; err != nil {
			s.logError(opUpdate, "album_select_failed", err, zap.String(fieldAlbumID, updated.AlbumID))
			return apperr.Internal(opUpdate, "album_select_failed", err)
		}
		view = LogView{Log: updated, Album: album}
		return nil
	})
	if transactionError != nil {
		return LogView{}, transactionError
	}
	return view, nil
}

// Delete removes an owned rating event and recomputes the album aggregates. The album
// row is retained even when no events remain.
func (s *Service) Delete(ctx context.Context, logID, ownerID string) error {
	if s.db == nil {
		return apperr.Internal(opDelete, "missing_database", errMissingDatabase)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.loadOwned(tx, opDelete, logID, ownerID)
		if err != nil {
			return err
		}
		if err := tx.Where(queryLogID, stored.LogID).Delete(&Log{}).Error; err != nil {
			s.logError(opDelete, "log_delete_failed", err, zap.String(fieldLogID, logID))
			return apperr.Internal(opDelete, "log_delete_failed", err)
		}
		if _, err := recomputeAggregates(tx, stored.AlbumID, s.clock().UTC().Unix()); err != nil {
			s.logError(opDelete, "recompute_failed", err, zap.String(fieldAlbumID, stored.AlbumID))
			return err
		}
		return nil
	})
}

// Get returns one owned rating event.
func (s *Service) Get(ctx context.Context, logID, ownerID string) (LogView, error) {
	if s.db == nil {
		return LogView{}, apperr.Internal(opGet, "missing_database", errMissingDatabase)
	}
	db := s.db.WithContext(ctx)
	stored, err := s.loadOwned(db, opGet, logID, ownerID)
	if err != nil {
		return LogView{}, err
	}
	var album albums.Album
	if err := db.Where(queryAlbumID, stored.AlbumID).Take(&album).Error; err != nil {
		s.logError(opGet, "album_select_failed", err, zap.String(fieldAlbumID, stored.AlbumID))
		return LogView{}, apperr.Internal(opGet, "album_select_failed", err)
	}
	return LogView{Log: stored, Album: album}, nil
}

// ListForUser returns the user's rating events, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]LogView, error) {
	if s.db == nil {
		return nil, apperr.Internal(opListForUser, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Internal(opListForUser, "missing_user_id", errMissingUserID)
	}
	db := s.db.WithContext(ctx)

	var logs []Log
	if err := db.Where(queryUserID, userID).Order(orderNewestFirst).Find(&logs).Error; err != nil {
		s.logError(opListForUser, "query_failed", err, zap.String(fieldUserID, userID))
		return nil, apperr.Internal(opListForUser, "query_failed", err)
	}
	albumsByID, err := loadAlbums(db, logs)
	if err != nil {
		s.logError(opListForUser, "album_query_failed", err, zap.String(fieldUserID, userID))
		return nil, apperr.Internal(opListForUser, "album_query_failed", err)
	}

	views := make([]LogView, 0, len(logs))
	for _, log := range logs {
		views = append(views, LogView{Log: log, Album: albumsByID[log.AlbumID]})
	}
	return views, nil
}

// RecomputeAll rebuilds the aggregates of every album, one transaction per album.
// It repairs rows written before aggregates were maintained transactionally.
func (s *Service) RecomputeAll(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, apperr.Internal(opRecomputeAll, "missing_database", errMissingDatabase)
	}
	var albumIDs []string
	if err := s.db.WithContext(ctx).Model(&albums.Album{}).Order(fieldAlbumID).Pluck(fieldAlbumID, &albumIDs).Error; err != nil {
		s.logError(opRecomputeAll, "query_failed", err)
		return 0, apperr.Internal(opRecomputeAll, "query_failed", err)
	}
	for index, albumID := range albumIDs {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			_, recomputeErr := recomputeAggregates(tx, albumID, s.clock().UTC().Unix())
			return recomputeErr
		})
		if err != nil {
			s.logError(opRecomputeAll, "recompute_failed", err, zap.String(fieldAlbumID, albumID))
			return index, err
		}
	}
	return len(albumIDs), nil
}

func (s *Service) loadOwned(tx *gorm.DB, operation, logID, ownerID string) (Log, error) {
	var stored Log
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryLogID, logID).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Log{}, apperr.NotFound(operation, "log_missing", "rating not found")
	}
	if err != nil {
		s.logError(operation, "log_select_failed", err, zap.String(fieldLogID, logID))
		return Log{}, apperr.Internal(operation, "log_select_failed", err)
	}
	if stored.UserID != ownerID {
		return Log{}, apperr.Forbidden(operation, "not_owner", "rating belongs to another user")
	}
	return stored, nil
}

func (s *Service) keyTaken(tx *gorm.DB, userID, albumID string, listenDate ListenDate, excludeLogID string) (bool, error) {
	query := tx.Model(&Log{})
	if excludeLogID == "" {
		query = query.Where(queryLogKey, userID, albumID, listenDate.String())
	} else {
		query = query.Where(queryLogKeyOthers, userID, albumID, listenDate.String(), excludeLogID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func loadAlbums(db *gorm.DB, logs []Log) (map[string]albums.Album, error) {
	albumsByID := make(map[string]albums.Album)
	if len(logs) == 0 {
		return albumsByID, nil
	}
	albumIDs := make([]string, 0, len(logs))
	for _, log := range logs {
		albumIDs = append(albumIDs, log.AlbumID)
	}
	var rows []albums.Album
	if err := db.Where(queryAlbumIDIn, albumIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		albumsByID[row.AlbumID] = row
	}
	return albumsByID, nil
}

func duplicateLogError(operation string) error {
	return apperr.Conflict(operation, "duplicate_log", "album already logged for this listen date").
		WithDetails(map[string]string{"listen_date": "already logged on this date"})
}

func validateText(operation, review, favoriteTrack string) error {
	details := map[string]string{}
	if len(review) > maxReviewLength {
		details["review"] = "must not exceed 10000 characters"
	}
	if len(favoriteTrack) > maxTrackLength {
		details["favorite_track"] = "must not exceed 512 characters"
	}
	if len(details) == 0 {
		return nil
	}
	return apperr.Validation(operation, "invalid_text", "validation failed").WithDetails(details)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ratings service error", attrs...)
}
