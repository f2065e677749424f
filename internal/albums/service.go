package albums

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew   = "albums.service.new"
	opGetOrCreate  = "albums.get_or_create"
	opGet          = "albums.get"
	opLock         = "albums.lock"
	fieldCatalogID = "catalog_id"
	fieldAlbumID   = "album_id"
	queryCatalogID = fieldCatalogID + " = ?"
	queryAlbumID   = fieldAlbumID + " = ?"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the album store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns the shared album rows.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService validates dependencies and builds the album store.
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

// GetOrCreate returns the album for input.CatalogID, creating it when absent.
// The boolean reports whether a row was inserted by this call.
func (s *Service) GetOrCreate(ctx context.Context, input Input) (Album, bool, error) {
	if s.db == nil {
		return Album{}, false, apperr.Internal(opGetOrCreate, "missing_database", errMissingDatabase)
	}
	var (
		album   Album
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ensureErr error
		album, created, ensureErr = s.EnsureInTx(tx, input)
		return ensureErr
	})
	if err != nil {
		return Album{}, false, err
	}
	return album, created, nil
}

// EnsureInTx performs get-or-create inside the caller's transaction.
// The unique index on catalog_id arbitrates concurrent creators: the insert is a
// no-op on conflict and the row is then read back.
func (s *Service) EnsureInTx(tx *gorm.DB, input Input) (Album, bool, error) {
	catalogID, err := NewCatalogID(input.CatalogID.String())
	if err != nil {
		return Album{}, false, apperr.Validation(opGetOrCreate, "invalid_catalog_id", "catalog id is invalid").
			WithDetails(map[string]string{"id": err.Error()})
	}
	input.CatalogID = catalogID
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Album{}, false, apperr.Validation(opGetOrCreate, "missing_name", "album name is required")
	}

	existing, lookupErr := findByCatalogID(tx, input.CatalogID)
	if lookupErr == nil {
		return existing, false, nil
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		s.logError(opGetOrCreate, "album_select_failed", lookupErr, zap.String(fieldCatalogID, input.CatalogID.String()))
		return Album{}, false, apperr.Internal(opGetOrCreate, "album_select_failed", lookupErr)
	}

	albumID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opGetOrCreate, "id_generation_failed", err, zap.String(fieldCatalogID, input.CatalogID.String()))
		return Album{}, false, apperr.Internal(opGetOrCreate, "id_generation_failed", err)
	}
	nowSeconds := s.clock().UTC().Unix()
	model := Album{
		AlbumID:          albumID,
		CatalogID:        input.CatalogID.String(),
		Name:             name,
		Artist:           strings.TrimSpace(input.Artist),
		ImageURL:         strings.TrimSpace(input.ImageURL),
		ReleaseDate:      NormalizeReleaseDate(input.ReleaseDate),
		ExternalURL:      strings.TrimSpace(input.ExternalURL),
		Genres:           JoinGenres(input.Genres),
		CreatedAtSeconds: nowSeconds,
		UpdatedAtSeconds: nowSeconds,
	}
	createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if createResult.Error != nil {
		s.logError(opGetOrCreate, "album_insert_failed", createResult.Error, zap.String(fieldCatalogID, input.CatalogID.String()))
		return Album{}, false, apperr.Internal(opGetOrCreate, "album_insert_failed", createResult.Error)
	}
	if createResult.RowsAffected == 1 {
		return model, true, nil
	}

	winner, err := findByCatalogID(tx, input.CatalogID)
	if err != nil {
		s.logError(opGetOrCreate, "album_reload_failed", err, zap.String(fieldCatalogID, input.CatalogID.String()))
		return Album{}, false, apperr.Internal(opGetOrCreate, "album_reload_failed", err)
	}
	return winner, false, nil
}

// Get returns the album for a catalog id.
func (s *Service) Get(ctx context.Context, catalogID CatalogID) (Album, error) {
	if s.db == nil {
		return Album{}, apperr.Internal(opGet, "missing_database", errMissingDatabase)
	}
	album, err := FindInTx(s.db.WithContext(ctx), catalogID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logError(opGet, "album_select_failed", err, zap.String(fieldCatalogID, catalogID.String()))
		}
		return Album{}, err
	}
	return album, nil
}

// FindInTx resolves a catalog id to its album within tx.
func FindInTx(tx *gorm.DB, catalogID CatalogID) (Album, error) {
	album, err := findByCatalogID(tx, catalogID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Album{}, apperr.NotFound(opGet, "album_missing", "album not found")
	}
	if err != nil {
		return Album{}, apperr.Internal(opGet, "album_select_failed", err)
	}
	return album, nil
}

// LockInTx re-reads an album row holding a write lock until tx ends.
func LockInTx(tx *gorm.DB, albumID string) (Album, error) {
	var album Album
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryAlbumID, albumID).
		Take(&album).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Album{}, apperr.NotFound(opLock, "album_missing", "album not found")
	}
	if err != nil {
		return Album{}, apperr.Internal(opLock, "album_select_failed", err)
	}
	return album, nil
}

func findByCatalogID(tx *gorm.DB, catalogID CatalogID) (Album, error) {
	var album Album
	err := tx.Where(queryCatalogID, strings.TrimSpace(catalogID.String())).Take(&album).Error
	return album, err
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
	s.logger.Error("albums service error", attrs...)
}
