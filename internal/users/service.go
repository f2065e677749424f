package users

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/auth"
	"github.com/MarcoPoloResearchLab/waxlog/internal/favorites"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew    = "users.service.new"
	opRegister      = "users.register"
	opAuthenticate  = "users.authenticate"
	opProfile       = "users.profile"
	opUpdateProfile = "users.update_profile"
	opDelete        = "users.delete"
	fieldUserID     = "user_id"
	fieldUsername   = "username"
	queryUserID     = "user_id = ?"
)

var (
	errMissingDatabase   = errors.New("users: database connection required")
	errMissingIDProvider = errors.New("users: id provider required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages accounts, credentials and profiles.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the account service.
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
		now:        clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Register creates an account. A taken username is a Conflict.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	details := map[string]string{}
	validUsername, err := NewUsername(username)
	if err != nil {
		details["username"] = "must be 3 to 150 letters, digits or _.@+-"
	}
	passwordHash, hashErr := auth.HashPassword(password)
	switch {
	case errors.Is(hashErr, auth.ErrPasswordTooShort):
		details["password"] = "must be at least 8 characters"
	case errors.Is(hashErr, auth.ErrPasswordTooLong):
		details["password"] = "must be at most 72 bytes"
	case hashErr != nil:
		s.logError(opRegister, "password_hash_failed", hashErr)
		return User{}, apperr.Internal(opRegister, "password_hash_failed", hashErr)
	}
	if len(details) > 0 {
		return User{}, apperr.Validation(opRegister, "invalid_credentials", "validation failed").WithDetails(details)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return User{}, apperr.Internal(opRegister, "id_generation_failed", err)
	}
	nowSeconds := s.now().UTC().Unix()
	user := User{
		UserID:           userID,
		Username:         validUsername.String(),
		PasswordHash:     passwordHash,
		CreatedAtSeconds: nowSeconds,
		UpdatedAtSeconds: nowSeconds,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if result.Error != nil {
		s.logError(opRegister, "user_insert_failed", result.Error, zap.String(fieldUsername, user.Username))
		return User{}, apperr.Internal(opRegister, "user_insert_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return User{}, apperr.Conflict(opRegister, "username_taken", "username is already taken").
			WithDetails(map[string]string{"username": "already taken"})
	}
	s.logger.Info("user registered", zap.String(fieldUserID, user.UserID))
	return user, nil
}

// Authenticate checks credentials. Unknown users and wrong passwords are
// indistinguishable Unauthorized errors.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", normalize(username)).Take(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opAuthenticate, "user_select_failed", err)
		return User{}, apperr.Internal(opAuthenticate, "user_select_failed", err)
	}
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		return User{}, apperr.New(apperr.KindUnauthorized, opAuthenticate, "invalid_credentials", nil).
			WithMessage("invalid username or password")
	}
	return user, nil
}

// Profile returns the account of userID.
func (s *Service) Profile(ctx context.Context, userID string) (User, error) {
	return s.load(s.db.WithContext(ctx), opProfile, userID)
}

// UpdateProfile applies a partial profile change.
func (s *Service) UpdateProfile(ctx context.Context, userID string, changes ProfileChanges) (User, error) {
	details := map[string]string{}
	if changes.DisplayName != nil && utf8.RuneCountInString(normalize(*changes.DisplayName)) > maxDisplayNameLength {
		details["display_name"] = "must not exceed 150 characters"
	}
	if changes.Bio != nil && utf8.RuneCountInString(normalize(*changes.Bio)) > maxBioLength {
		details["bio"] = "must not exceed 2000 characters"
	}
	if changes.AvatarURL != nil && len(normalize(*changes.AvatarURL)) > maxAvatarURLLength {
		details["avatar_url"] = "must not exceed 1024 characters"
	}
	if len(details) > 0 {
		return User{}, apperr.Validation(opUpdateProfile, "invalid_profile", "validation failed").WithDetails(details)
	}

	var updated User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.load(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opUpdateProfile, userID)
		if err != nil {
			return err
		}
		if changes.DisplayName != nil {
			user.DisplayName = normalize(*changes.DisplayName)
		}
		if changes.Bio != nil {
			user.Bio = normalize(*changes.Bio)
		}
		if changes.AvatarURL != nil {
			user.AvatarURL = normalize(*changes.AvatarURL)
		}
		user.UpdatedAtSeconds = s.now().UTC().Unix()
		if err := tx.Save(&user).Error; err != nil {
			s.logError(opUpdateProfile, "user_save_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opUpdateProfile, "user_save_failed", err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

// Delete removes the account together with its rating events, favorites, lists and
// list entries in one transaction. Albums stay; their aggregates are recomputed.
func (s *Service) Delete(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.load(tx, opDelete, userID); err != nil {
			return err
		}
		albumCount, err := ratings.PurgeUserInTx(tx, userID, s.now().UTC().Unix())
		if err != nil {
			s.logError(opDelete, "rating_purge_failed", err, zap.String(fieldUserID, userID))
			return err
		}
		if err := tx.Where(queryUserID, userID).Delete(&favorites.Favorite{}).Error; err != nil {
			s.logError(opDelete, "favorite_delete_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opDelete, "favorite_delete_failed", err)
		}
		ownedLists := tx.Model(&lists.List{}).Select("list_id").Where(queryUserID, userID)
		if err := tx.Where("list_id IN (?)", ownedLists).Delete(&lists.Entry{}).Error; err != nil {
			s.logError(opDelete, "entry_delete_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opDelete, "entry_delete_failed", err)
		}
		if err := tx.Where(queryUserID, userID).Delete(&lists.List{}).Error; err != nil {
			s.logError(opDelete, "list_delete_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opDelete, "list_delete_failed", err)
		}
		if err := tx.Where(queryUserID, userID).Delete(&User{}).Error; err != nil {
			s.logError(opDelete, "user_delete_failed", err, zap.String(fieldUserID, userID))
			return apperr.Internal(opDelete, "user_delete_failed", err)
		}
		s.logger.Info("user deleted", zap.String(fieldUserID, userID), zap.Int("albums_recomputed", albumCount))
		return nil
	})
}

func (s *Service) load(db *gorm.DB, operation, userID string) (User, error) {
	var user User
	err := db.Where(queryUserID, userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.NotFound(operation, "user_missing", "user not found")
	}
	if err != nil {
		s.logError(operation, "user_select_failed", err, zap.String(fieldUserID, userID))
		return User{}, apperr.Internal(operation, "user_select_failed", err)
	}
	return user, nil
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
	s.logger.Error("users service error", attrs...)
}
