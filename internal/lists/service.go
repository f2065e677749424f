// Package lists maintains user-curated album lists and their rank ordering.
package lists

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"github.com/MarcoPoloResearchLab/waxlog/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew   = "lists.service.new"
	opCreate       = "lists.create"
	opGet          = "lists.get"
	opListForUser  = "lists.list_for_user"
	opUpdate       = "lists.update"
	opDelete       = "lists.delete"
	opAddAlbum     = "lists.add_album"
	opRemoveEntry  = "lists.remove_entry"
	opUpdateRanks  = "lists.update_ranks"
	opCompactRanks = "lists.compact_ranks"

	fieldListID  = "list_id"
	fieldUserID  = "user_id"
	fieldEntryID = "entry_id"

	queryListID      = "list_id = ?"
	queryListCatalog = "list_id = ? AND catalog_id = ?"
	queryListEntry   = "list_id = ? AND entry_id = ?"
	orderEntries     = "list_rank ASC, created_at_s ASC, entry_id ASC"
	orderLists       = "created_at_s DESC, list_id DESC"
	columnRank       = "list_rank"

	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingAlbumService = errors.New("album service is required")
	errMissingIDProvider   = errors.New("id provider is required")
	noOpLogger             = zap.NewNop()
)

// ServiceConfig describes the dependencies of the list engine.
type ServiceConfig struct {
	Database   *gorm.DB
	Albums     *albums.Service
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
	// StrictRanks requires every reorder batch to be a permutation of 1..N.
	StrictRanks bool
}

// Service manages lists and entries.
type Service struct {
	db          *gorm.DB
	albums      *albums.Service
	clock       func() time.Time
	idProvider  ids.Provider
	logger      *zap.Logger
	strictRanks bool
}

// NewService validates dependencies and builds the list engine.
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
		db:          cfg.Database,
		albums:      cfg.Albums,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		strictRanks: cfg.StrictRanks,
	}, nil
}

// Create stores a new empty list for ownerID.
func (s *Service) Create(ctx context.Context, ownerID, title, description string) (List, error) {
	validTitle, err := NewTitle(title)
	if err != nil {
		return List{}, apperr.Validation(opCreate, "invalid_title", "title must be 1 to 200 characters")
	}
	validDescription, err := normalizeDescription(description)
	if err != nil {
		return List{}, apperr.Validation(opCreate, "invalid_description", "description is too long")
	}
	listID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String(fieldUserID, ownerID))
		return List{}, apperr.Internal(opCreate, "id_generation_failed", err)
	}
	nowSeconds := s.clock().UTC().Unix()
	model := List{
		ListID:           listID,
		UserID:           ownerID,
		Title:            validTitle.String(),
		Description:      validDescription,
		CreatedAtSeconds: nowSeconds,
		UpdatedAtSeconds: nowSeconds,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		s.logError(opCreate, "list_insert_failed", err, zap.String(fieldUserID, ownerID))
		return List{}, apperr.Internal(opCreate, "list_insert_failed", err)
	}
	return model, nil
}

// Get returns the list with its entries in listing order.
func (s *Service) Get(ctx context.Context, listID, ownerID string) (Detail, error) {
	db := s.db.WithContext(ctx)
	list, err := s.loadOwned(db, opGet, listID, ownerID, false)
	if err != nil {
		return Detail{}, err
	}
	entries, err := s.loadEntries(db, opGet, listID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{List: list, Entries: entries}, nil
}

// ListForUser returns the owner's lists, newest first, with entry counts.
func (s *Service) ListForUser(ctx context.Context, ownerID string) ([]Summary, error) {
	db := s.db.WithContext(ctx)
	var owned []List
	if err := db.Where("user_id = ?", ownerID).Order(orderLists).Find(&owned).Error; err != nil {
		s.logError(opListForUser, "query_failed", err, zap.String(fieldUserID, ownerID))
		return nil, apperr.Internal(opListForUser, "query_failed", err)
	}
	if len(owned) == 0 {
		return []Summary{}, nil
	}
	listIDs := make([]string, 0, len(owned))
	for _, list := range owned {
		listIDs = append(listIDs, list.ListID)
	}
	var counts []struct {
		ListID string `gorm:"column:list_id"`
		Total  int64  `gorm:"column:total"`
	}
	if err := db.Model(&Entry{}).
		Select("list_id, COUNT(*) AS total").
		Where("list_id IN ?", listIDs).
		Group("list_id").
		Scan(&counts).Error; err != nil {
		s.logError(opListForUser, "count_failed", err, zap.String(fieldUserID, ownerID))
		return nil, apperr.Internal(opListForUser, "count_failed", err)
	}
	countByList := make(map[string]int64, len(counts))
	for _, row := range counts {
		countByList[row.ListID] = row.Total
	}
	summaries := make([]Summary, 0, len(owned))
	for _, list := range owned {
		summaries = append(summaries, Summary{List: list, EntryCount: countByList[list.ListID]})
	}
	return summaries, nil
}

// Update applies a partial title/description change.
func (s *Service) Update(ctx context.Context, listID, ownerID string, changes Changes) (List, error) {
	var updated List
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		list, err := s.loadOwned(tx, opUpdate, listID, ownerID, true)
		if err != nil {
			return err
		}
		if changes.Title != nil {
			validTitle, titleErr := NewTitle(*changes.Title)
			if titleErr != nil {
				return apperr.Validation(opUpdate, "invalid_title", "title must be 1 to 200 characters")
			}
			list.Title = validTitle.String()
		}
		if changes.Description != nil {
			description, descriptionErr := normalizeDescription(*changes.Description)
			if descriptionErr != nil {
				return apperr.Validation(opUpdate, "invalid_description", "description is too long")
			}
			list.Description = description
		}
		list.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&list).Error; err != nil {
			s.logError(opUpdate, "list_save_failed", err, zap.String(fieldListID, listID))
			return apperr.Internal(opUpdate, "list_save_failed", err)
		}
		updated = list
		return nil
	})
	if err != nil {
		return List{}, err
	}
	return updated, nil
}

// Delete removes the list and all of its entries.
func (s *Service) Delete(ctx context.Context, listID, ownerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOwned(tx, opDelete, listID, ownerID, true); err != nil {
			return err
		}
		if err := tx.Where(queryListID, listID).Delete(&Entry{}).Error; err != nil {
			s.logError(opDelete, "entry_delete_failed", err, zap.String(fieldListID, listID))
			return apperr.Internal(opDelete, "entry_delete_failed", err)
		}
		if err := tx.Where(queryListID, listID).Delete(&List{}).Error; err != nil {
			s.logError(opDelete, "list_delete_failed", err, zap.String(fieldListID, listID))
			return apperr.Internal(opDelete, "list_delete_failed", err)
		}
		return nil
	})
}

// AddAlbum appends an album at rank count+1. An album already in the list is
// returned unchanged with alreadyPresent set.
func (s *Service) AddAlbum(ctx context.Context, listID, ownerID string, input albums.Input) (Entry, bool, error) {
	var (
		entry          Entry
		alreadyPresent bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOwned(tx, opAddAlbum, listID, ownerID, true); err != nil {
			return err
		}
		album, _, err := s.albums.EnsureInTx(tx, input)
		if err != nil {
			return err
		}

		existing, found, err := s.findEntryByCatalog(tx, listID, album.CatalogID)
		if err != nil {
			return err
		}
		if found {
			entry, alreadyPresent = existing, true
			return nil
		}

		var count int64
		if err := tx.Model(&Entry{}).Where(queryListID, listID).Count(&count).Error; err != nil {
			s.logError(opAddAlbum, "entry_count_failed", err, zap.String(fieldListID, listID))
			return apperr.Internal(opAddAlbum, "entry_count_failed", err)
		}
		entryID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opAddAlbum, "id_generation_failed", err, zap.String(fieldListID, listID))
			return apperr.Internal(opAddAlbum, "id_generation_failed", err)
		}
		model := Entry{
			EntryID:          entryID,
			ListID:           listID,
			CatalogID:        album.CatalogID,
			Name:             album.Name,
			Artist:           album.Artist,
			ImageURL:         album.ImageURL,
			ReleaseDate:      album.ReleaseDate,
			ExternalURL:      album.ExternalURL,
			Genre:            albums.PrimaryGenre(album.Genres),
			Rank:             int(count) + 1,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		createResult := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
		if createResult.Error != nil {
			s.logError(opAddAlbum, "entry_insert_failed", createResult.Error, zap.String(fieldListID, listID))
			return apperr.Internal(opAddAlbum, "entry_insert_failed", createResult.Error)
		}
		if createResult.RowsAffected == 0 {
			winner, winnerFound, reloadErr := s.findEntryByCatalog(tx, listID, album.CatalogID)
			if reloadErr != nil {
				return reloadErr
			}
			if !winnerFound {
				return apperr.Internal(opAddAlbum, "entry_reload_failed", gorm.ErrRecordNotFound)
			}
			entry, alreadyPresent = winner, true
			return nil
		}
		if err := s.touchList(tx, opAddAlbum, listID); err != nil {
			return err
		}
		entry = model
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, alreadyPresent, nil
}

// RemoveEntry deletes one entry. Remaining entries keep their ranks.
func (s *Service) RemoveEntry(ctx context.Context, listID, ownerID, entryID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOwned(tx, opRemoveEntry, listID, ownerID, true); err != nil {
			return err
		}
		deleteResult := tx.Where(queryListEntry, listID, entryID).Delete(&Entry{})
		if deleteResult.Error != nil {
			s.logError(opRemoveEntry, "entry_delete_failed", deleteResult.Error, zap.String(fieldEntryID, entryID))
			return apperr.Internal(opRemoveEntry, "entry_delete_failed", deleteResult.Error)
		}
		if deleteResult.RowsAffected == 0 {
			return apperr.NotFound(opRemoveEntry, "entry_missing", "entry not found in list")
		}
		return s.touchList(tx, opRemoveEntry, listID)
	})
}

// UpdateRanks applies a reorder batch in the given order. The batch runs in one
// transaction: any rejected entry leaves every rank untouched.
func (s *Service) UpdateRanks(ctx context.Context, listID, ownerID string, updates []RankUpdate) ([]Entry, error) {
	var ordered []Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOwned(tx, opUpdateRanks, listID, ownerID, true); err != nil {
			return err
		}
		if err := validateBatch(updates); err != nil {
			return err
		}
		entries, err := s.loadEntries(tx, opUpdateRanks, listID)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			known[entry.EntryID] = struct{}{}
		}
		for _, update := range updates {
			if _, ok := known[update.EntryID]; !ok {
				return apperr.NotFound(opUpdateRanks, "entry_missing", "entry not found in list").
					WithDetails(map[string]string{"id": update.EntryID})
			}
		}
		if s.strictRanks {
			if err := requirePermutation(updates, len(entries)); err != nil {
				return err
			}
		}
		for _, update := range updates {
			if err := tx.Model(&Entry{}).
				Where(queryListEntry, listID, update.EntryID).
				Update(columnRank, update.Rank).Error; err != nil {
				s.logError(opUpdateRanks, "rank_update_failed", err, zap.String(fieldEntryID, update.EntryID))
				return apperr.Internal(opUpdateRanks, "rank_update_failed", err)
			}
		}
		if err := s.touchList(tx, opUpdateRanks, listID); err != nil {
			return err
		}
		ordered, err = s.loadEntries(tx, opUpdateRanks, listID)
		return err
	})
	if err != nil {
		metrics.RankUpdates.WithLabelValues(outcomeRejected).Inc()
		return nil, err
	}
	metrics.RankUpdates.WithLabelValues(outcomeApplied).Inc()
	return ordered, nil
}

// CompactRanks renumbers entries to 1..N in current listing order.
func (s *Service) CompactRanks(ctx context.Context, listID, ownerID string) ([]Entry, error) {
	var compacted []Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadOwned(tx, opCompactRanks, listID, ownerID, true); err != nil {
			return err
		}
		entries, err := s.loadEntries(tx, opCompactRanks, listID)
		if err != nil {
			return err
		}
		for index := range entries {
			dense := index + 1
			if entries[index].Rank == dense {
				continue
			}
			if err := tx.Model(&Entry{}).
				Where(queryListEntry, listID, entries[index].EntryID).
				Update(columnRank, dense).Error; err != nil {
				s.logError(opCompactRanks, "rank_update_failed", err, zap.String(fieldEntryID, entries[index].EntryID))
				return apperr.Internal(opCompactRanks, "rank_update_failed", err)
			}
			entries[index].Rank = dense
		}
		compacted = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return compacted, nil
}

func validateBatch(updates []RankUpdate) error {
	if len(updates) == 0 {
		return apperr.Validation(opUpdateRanks, "empty_batch", "at least one rank update is required")
	}
	seen := make(map[string]struct{}, len(updates))
	for _, update := range updates {
		if update.EntryID == "" {
			return apperr.Validation(opUpdateRanks, "missing_entry_id", "every rank update needs an id")
		}
		if update.Rank < 1 {
			return apperr.Validation(opUpdateRanks, "invalid_rank", "ranks start at 1").
				WithDetails(map[string]string{"id": update.EntryID, "rank": strconv.Itoa(update.Rank)})
		}
		if _, duplicate := seen[update.EntryID]; duplicate {
			return apperr.Validation(opUpdateRanks, "duplicate_entry", "an entry appears more than once").
				WithDetails(map[string]string{"id": update.EntryID})
		}
		seen[update.EntryID] = struct{}{}
	}
	return nil
}

func requirePermutation(updates []RankUpdate, entryCount int) error {
	if len(updates) != entryCount {
		return apperr.Validation(opUpdateRanks, "incomplete_batch", "every entry of the list must be ranked")
	}
	used := make([]bool, entryCount+1)
	for _, update := range updates {
		if update.Rank > entryCount || used[update.Rank] {
			return apperr.Validation(opUpdateRanks, "not_a_permutation", "ranks must be exactly 1 to the number of entries")
		}
		used[update.Rank] = true
	}
	return nil
}

func (s *Service) loadOwned(db *gorm.DB, operation, listID, ownerID string, lock bool) (List, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var list List
	err := query.Where(queryListID, listID).Take(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return List{}, apperr.NotFound(operation, "list_missing", "list not found")
	}
	if err != nil {
		s.logError(operation, "list_select_failed", err, zap.String(fieldListID, listID))
		return List{}, apperr.Internal(operation, "list_select_failed", err)
	}
	if list.UserID != ownerID {
		return List{}, apperr.Forbidden(operation, "not_owner", "list belongs to another user")
	}
	return list, nil
}

func (s *Service) loadEntries(db *gorm.DB, operation, listID string) ([]Entry, error) {
	entries := []Entry{}
	if err := db.Where(queryListID, listID).Order(orderEntries).Find(&entries).Error; err != nil {
		s.logError(operation, "entry_select_failed", err, zap.String(fieldListID, listID))
		return nil, apperr.Internal(operation, "entry_select_failed", err)
	}
	return entries, nil
}

func (s *Service) findEntryByCatalog(tx *gorm.DB, listID, catalogID string) (Entry, bool, error) {
	var entry Entry
	err := tx.Where(queryListCatalog, listID, catalogID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		s.logError(opAddAlbum, "entry_select_failed", err, zap.String(fieldListID, listID))
		return Entry{}, false, apperr.Internal(opAddAlbum, "entry_select_failed", err)
	}
	return entry, true, nil
}

func (s *Service) touchList(tx *gorm.DB, operation, listID string) error {
	if err := tx.Model(&List{}).
		Where(queryListID, listID).
		Update("updated_at_s", s.clock().UTC().Unix()).Error; err != nil {
		s.logError(operation, "list_touch_failed", err, zap.String(fieldListID, listID))
		return apperr.Internal(operation, "list_touch_failed", err)
	}
	return nil
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
	s.logger.Error("lists service error", attrs...)
}
