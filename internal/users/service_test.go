package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/favorites"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &albums.Album{}, &ratings.Log{}, &favorites.Favorite{}, &lists.List{}, &lists.Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: ids.NewSequence("user"),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service := newTestService(t, openTestDatabase(t))
	ctx := context.Background()

	user, err := service.Register(ctx, " listener ", "vinyl-forever")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Username != "listener" || user.PasswordHash == "vinyl-forever" {
		t.Fatalf("unexpected stored user: %+v", user)
	}

	if _, err := service.Register(ctx, "listener", "another-password"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for taken username, got %v", err)
	}

	authenticated, err := service.Authenticate(ctx, "listener", "vinyl-forever")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if authenticated.UserID != user.UserID {
		t.Fatalf("unexpected user id %s", authenticated.UserID)
	}
	if _, err := service.Authenticate(ctx, "listener", "wrong-password"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "nobody", "vinyl-forever"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown user, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	service := newTestService(t, openTestDatabase(t))
	_, err := service.Register(context.Background(), "a b", "short")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details := apperr.As(err).Details()
	if details["username"] == "" || details["password"] == "" {
		t.Fatalf("expected both fields reported, got %v", details)
	}
}

func TestUpdateProfile(t *testing.T) {
	service := newTestService(t, openTestDatabase(t))
	ctx := context.Background()
	user, err := service.Register(ctx, "listener", "vinyl-forever")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	displayName := "  The Listener "
	bio := "Crate digger"
	updated, err := service.UpdateProfile(ctx, user.UserID, ProfileChanges{DisplayName: &displayName, Bio: &bio})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.DisplayName != "The Listener" || updated.Bio != "Crate digger" || updated.AvatarURL != "" {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	if _, err := service.UpdateProfile(ctx, "missing", ProfileChanges{Bio: &bio}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteCascadesAndRecomputesAggregates(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db)
	ctx := context.Background()
	clock := func() time.Time { return time.Unix(1700000000, 0) }

	albumService, err := albums.NewService(albums.ServiceConfig{Database: db, Clock: clock, IDProvider: ids.NewSequence("album")})
	if err != nil {
		t.Fatalf("album service: %v", err)
	}
	ratingService, err := ratings.NewService(ratings.ServiceConfig{Database: db, Clock: clock, IDProvider: ids.NewSequence("log")})
	if err != nil {
		t.Fatalf("rating service: %v", err)
	}
	favoriteService, err := favorites.NewService(favorites.ServiceConfig{Database: db, Albums: albumService, Clock: clock, IDProvider: ids.NewSequence("favorite")})
	if err != nil {
		t.Fatalf("favorite service: %v", err)
	}
	listService, err := lists.NewService(lists.ServiceConfig{Database: db, Albums: albumService, Clock: clock, IDProvider: ids.NewSequence("list")})
	if err != nil {
		t.Fatalf("list service: %v", err)
	}

	leaving, err := service.Register(ctx, "leaving", "vinyl-forever")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	staying, err := service.Register(ctx, "staying", "vinyl-forever")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	input := albums.Input{CatalogID: "alb-1", Name: "Blue", Artist: "Joni Mitchell"}
	album, _, err := albumService.GetOrCreate(ctx, input)
	if err != nil {
		t.Fatalf("album create failed: %v", err)
	}
	for _, submission := range []ratings.SubmitRequest{
		{UserID: leaving.UserID, CatalogID: "alb-1", Rating: 1},
		{UserID: staying.UserID, CatalogID: "alb-1", Rating: 5},
	} {
		if _, err := ratingService.Submit(ctx, submission); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if _, _, err := favoriteService.Add(ctx, leaving.UserID, input); err != nil {
		t.Fatalf("favorite failed: %v", err)
	}
	list, err := listService.Create(ctx, leaving.UserID, "Mine", "")
	if err != nil {
		t.Fatalf("list create failed: %v", err)
	}
	if _, _, err := listService.AddAlbum(ctx, list.ListID, leaving.UserID, input); err != nil {
		t.Fatalf("list add failed: %v", err)
	}

	if err := service.Delete(ctx, leaving.UserID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, model := range []any{&ratings.Log{}, &favorites.Favorite{}, &lists.List{}, &lists.Entry{}} {
		var count int64
		if err := db.Model(model).Where("1 = 1").Count(&count).Error; err != nil {
			t.Fatalf("count failed: %v", err)
		}
		expected := int64(0)
		if _, isLog := model.(*ratings.Log); isLog {
			expected = 1
		}
		if count != expected {
			t.Fatalf("%T: expected %d rows, got %d", model, expected, count)
		}
	}

	var reloaded albums.Album
	if err := db.Where("album_id = ?", album.AlbumID).Take(&reloaded).Error; err != nil {
		t.Fatalf("album must survive user deletion: %v", err)
	}
	if reloaded.AverageRating != 5 || reloaded.TotalLogs != 1 {
		t.Fatalf("expected aggregates 5/1, got %.2f/%d", reloaded.AverageRating, reloaded.TotalLogs)
	}
	if _, err := service.Profile(ctx, leaving.UserID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected deleted user to be gone, got %v", err)
	}
	if err := service.Delete(ctx, leaving.UserID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on repeated delete, got %v", err)
	}
}
