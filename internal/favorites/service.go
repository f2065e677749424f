// Package favorites enforces the fixed-capacity favorite album set of each user.
package favorites

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Capacity is the maximum number of favorite albums per user.
const Capacity = 4

const (
	opServiceNew    = "favorites.service.new"
	opAdd           = "favorites.add"
	opRemove        = "favorites.remove"
	opList          = "favorites.list"
	opPurge         = "favorites.purge_orphaned"
	fieldUserID     = "user_id"
	fieldCatalogID  = "catalog_id"
	queryUserID     = "user_id = ?"
	queryUserAlbum  = "user_id = ? AND album_id = ?"
	orderAddedFirst = "added_at_s ASC, favorite_id ASC"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingAlbumService = errors.New("album service is required")
	errMissingIDProvider   = errors.New("id provider is required")
	noOpLogger             = zap.NewNop()
)

// Favorite pairs a user with one album.
type Favorite struct {
	FavoriteID     string `gorm:"column:favorite_id;primaryKey;size:190;not null"`
	UserID         string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_favorites_user_album,priority:1"`
	AlbumID        string `gorm:"column:album_id;size:190;not null;uniqueIndex:idx_favorites_user_album,priority:2"`
	AddedAtSeconds int64  `gorm:"column:added_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Favorite) TableName() string {
	return "favorites"
}

// View pairs a favorite with its album.
type View struct {
	Favorite Favorite
	Album    albums.Album
}

// ServiceConfig describes the dependencies of the favorites guard.
type ServiceConfig struct {
	Database   *gorm.DB
	Albums     *albums.Service
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages favorites.
type Service struct {
	db         *gorm.DB
	albums     *albums.Service
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService validates dependencies and builds the favorites guard.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Albums == nil {
		return nil, apperr.Internal(opServiceNew, "missing_album_service", errMissingAlbumService)
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
		albums:     cfg.Albums,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Add favorites an album, creating the album row when needed. Adding an existing
// favorite succeeds without side effects and reports created == false.
func (s *Service) Add(ctx context.Context, userID string, input albums.Input) (View, bool, error) {
	if s.db == nil {
		return View{}, false, apperr.Internal(opAdd, "missing_database", errMissingDatabase)
	}

	var (
		view    View
		created bool
	)
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		album, _, err := s.albums.EnsureInTx(tx, input)
		if err != nil {
			return err
		}

		var held []Favorite
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryUserID, userID).
			Find(&held).Error; err != nil {
			s.logError(opAdd, "favorite_select_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opAdd, "favorite_select_failed", err)
		}
		for _, favorite := range held {
			if favorite.AlbumID == album.AlbumID {
				view = View{Favorite: favorite, Album: album}
				return nil
			}
		}
		if len(held) >= Capacity {
			return apperr.New(apperr.KindCapacityExceeded, opAdd, "capacity_exceeded", nil).
				WithMessage("you can only have 4 favorite albums")
		}

		favoriteID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAdd, "id_generation_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opAdd, "id_generation_failed", err)
		}
		model := Favorite{
			FavoriteID:     favoriteID,
			UserID:         userID,
			AlbumID:        album.AlbumID,
			AddedAtSeconds: s.clock().UTC().Unix(),
		}
		createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if createResult.Error != nil {
			s.logError(opAdd, "favorite_insert_failed", createResult.Error, zap.String(fieldUserID, userID))
			return apperr.Internal(opAdd, "favorite_insert_failed", createResult.Error)
		}
		if createResult.RowsAffected == 0 {
			var existing Favorite
			if err := tx.Where(queryUserAlbum, userID, album.AlbumID).Take(&existing).Error; err != nil {
				s.logError(opAdd, "favorite_reload_failed", err, zap.String(fieldUserID, userID))
				return apperr.Internal(opAdd, "favorite_reload_failed", err)
			}
			view = View{Favorite: existing, Album: album}
			return nil
		}
		created = true
		view = View{Favorite: model, Album: album}
		return nil
	})
	if transactionError != nil {
		return View{}, false, transactionError
	}
	return view, created, nil
}

// Remove deletes the user's favorite for catalogID. A missing favorite is NotFound,
// on every call.
func (s *Service) Remove(ctx context.Context, userID string, catalogID albums.CatalogID) error {
	if s.db == nil {
		return apperr.Internal(opRemove, "missing_database", errMissingDatabase)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		album, err := albums.FindInTx(tx, catalogID)
		if errors.Is(err, apperr.ErrNotFound) {
			return favoriteMissing()
		}
		if err != nil {
			s.logError(opRemove, "album_select_failed", err, zap.String(fieldCatalogID, catalogID.String()))
			return err
		}
		deleteResult := tx.Where(queryUserAlbum, userID, album.AlbumID).Delete(&Favorite{})
		if deleteResult.Error != nil {
			s.logError(opRemove, "favorite_delete_failed", deleteResult.Error, zap.String(fieldUserID, userID))
			return apperr.Internal(opRemove, "favorite_delete_failed", deleteResult.Error)
		}
		if deleteResult.RowsAffected == 0 {
			return favoriteMissing()
		}
		return nil
	})
}

// List returns the user's favorites in the order they were added.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	if s.db == nil {
		return nil, apperr.Internal(opList, "missing_database", errMissingDatabase)
	}
	db := s.db.WithContext(ctx)
	var favorites []Favorite
	if err := db.Where(queryUserID, userID).Order(orderAddedFirst).Find(&favorites).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String(fieldUserID, userID))
		return nil, apperr.Internal(opList, "query_failed", err)
	}
	if len(favorites) == 0 {
		return []View{}, nil
	}
	albumIDs := make([]string, 0, len(favorites))
	for _, favorite := range favorites {
		albumIDs = append(albumIDs, favorite.AlbumID)
	}
	var rows []albums.Album
	if err := db.Where("album_id IN ?", albumIDs).Find(&rows).Error; err != nil {
		s.logError(opList, "album_query_failed", err, zap.String(fieldUserID, userID))
		return nil, apperr.Internal(opList, "album_query_failed", err)
	}
	byID := make(map[string]albums.Album, len(rows))
	for _, row := range rows {
		byID[row.AlbumID] = row
	}
	views := make([]View, 0, len(favorites))
	for _, favorite := range favorites {
		views = append(views, View{Favorite: favorite, Album: byID[favorite.AlbumID]})
	}
	return views, nil
}

// PurgeOrphaned deletes favorites whose album row is gone or lacks a catalog id.
func (s *Service) PurgeOrphaned(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, apperr.Internal(opPurge, "missing_database", errMissingDatabase)
	}
	db := s.db.WithContext(ctx)
	valid := db.Model(&albums.Album{}).Select("album_id").Where("catalog_id <> ''")
	result := db.Where("album_id NOT IN (?)", valid).Delete(&Favorite{})
	if result.Error != nil {
		s.logError(opPurge, "delete_failed", result.Error)
		return 0, apperr.Internal(opPurge, "delete_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("orphaned favorites removed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func favoriteMissing() error {
	return apperr.NotFound(opRemove, "favorite_missing", "favorite not found")
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
	s.logger.Error("favorites service error", attrs...)
}
