package ratings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
)

const (
	MinRating        = 1
	MaxRating        = 5
	listenDateLayout = "2006-01-02"
)

var (
	// ErrInvalidRating indicates a rating outside 1..5.
	ErrInvalidRating = errors.New("ratings: rating must be between 1 and 5")
	// ErrInvalidListenDate indicates a listen date that is not YYYY-MM-DD.
	ErrInvalidListenDate = errors.New("ratings: invalid listen date")
)

// Rating is a validated 1..5 score.
type Rating int

// NewRating validates value and returns a Rating.
func NewRating(value int) (Rating, error) {
	if value < MinRating || value > MaxRating {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRating, value)
	}
	return Rating(value), nil
}

// Int returns the raw score.
func (r Rating) Int() int {
	return int(r)
}

// ListenDate is a calendar date or the empty "unspecified" value.
// The empty value is stored as '' so it collides in the unique index like any other date.
type ListenDate string

// NewListenDate validates a YYYY-MM-DD string; blank input yields the unspecified date.
func NewListenDate(rawInput string) (ListenDate, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", nil
	}
	if _, err := time.Parse(listenDateLayout, trimmed); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidListenDate, trimmed)
	}
	return ListenDate(trimmed), nil
}

// String returns the stored representation.
func (d ListenDate) String() string {
	return string(d)
}

// Log is one user's rating event for one album.
type Log struct {
	LogID            string `gorm:"column:log_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_logs_user_album_date,priority:1;index:idx_logs_user_created,priority:1"`
	AlbumID          string `gorm:"column:album_id;size:190;not null;uniqueIndex:idx_logs_user_album_date,priority:2;index:idx_logs_album"`
	ListenDate       string `gorm:"column:listen_date;size:10;not null;default:'';uniqueIndex:idx_logs_user_album_date,priority:3"`
	Rating           int    `gorm:"column:rating;not null;check:chk_logs_rating,rating >= 1 AND rating <= 5"`
	Review           string `gorm:"column:review;type:text;not null"`
	FavoriteTrack    string `gorm:"column:favorite_track;size:512;not null;default:''"`
	Relisten         bool   `gorm:"column:relisten;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_logs_user_created,priority:2"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Log) TableName() string {
	return "rating_logs"
}

// LogView pairs a rating event with its album.
type LogView struct {
	Log   Log
	Album albums.Album
}

// SubmitRequest describes a new rating event.
type SubmitRequest struct {
	UserID        string
	CatalogID     albums.CatalogID
	Rating        int
	Review        string
	ListenDate    string
	FavoriteTrack string
	Relisten      bool
}

// Changes lists the fields an update may modify; nil fields are left as stored.
type Changes struct {
	Rating        *int
	Review        *string
	ListenDate    *string
	FavoriteTrack *string
	Relisten      *bool
}
