package albums

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 190

// ErrInvalidCatalogID indicates that a catalog identifier is empty or exceeds storage bounds.
var ErrInvalidCatalogID = errors.New("albums: invalid catalog id")

// CatalogID is a validated external catalog identifier.
type CatalogID string

// NewCatalogID validates raw input and returns a CatalogID.
func NewCatalogID(rawInput string) (CatalogID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCatalogID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCatalogID, maxIdentifierLength)
	}
	return CatalogID(trimmed), nil
}

// String returns the underlying identifier.
func (id CatalogID) String() string {
	return string(id)
}

// Album is the shared row for one catalog album, including its derived rating statistics.
type Album struct {
	AlbumID          string  `gorm:"column:album_id;primaryKey;size:190;not null"`
	CatalogID        string  `gorm:"column:catalog_id;size:190;not null;uniqueIndex:idx_albums_catalog"`
	Name             string  `gorm:"column:name;size:512;not null"`
	Artist           string  `gorm:"column:artist;size:512;not null;default:''"`
	ImageURL         string  `gorm:"column:image_url;size:1024;not null;default:''"`
	ReleaseDate      string  `gorm:"column:release_date;size:10;not null;default:''"`
	ExternalURL      string  `gorm:"column:external_url;size:1024;not null;default:''"`
	Genres           string  `gorm:"column:genres;type:text;not null"`
	AverageRating    float64 `gorm:"column:average_rating;not null;default:0"`
	TotalLogs        int64   `gorm:"column:total_logs;not null;default:0"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Album) TableName() string {
	return "albums"
}

// Input carries the catalog fields a caller knows about an album.
// Descriptive fields are only used when the album row does not exist yet.
type Input struct {
	CatalogID   CatalogID
	Name        string
	Artist      string
	ImageURL    string
	ReleaseDate string
	ExternalURL string
	Genres      []string
}

const genreSplitter = ","

var (
	yearOnly     = regexp.MustCompile(`^\d{4}$`)
	yearMonth    = regexp.MustCompile(`^\d{4}-\d{2}$`)
	yearMonthDay = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// NormalizeReleaseDate expands catalog precision dates to YYYY-MM-DD.
// Unrecognized values are dropped.
func NormalizeReleaseDate(value string) string {
	trimmed := strings.TrimSpace(value)
	switch {
	case yearMonthDay.MatchString(trimmed):
		return trimmed
	case yearMonth.MatchString(trimmed):
		return trimmed + "-01"
	case yearOnly.MatchString(trimmed):
		return trimmed + "-01-01"
	default:
		return ""
	}
}

// JoinGenres stores genre tags as a comma-joined string.
func JoinGenres(genres []string) string {
	cleaned := make([]string, 0, len(genres))
	for _, genre := range genres {
		cleaned = append(cleaned, SplitGenres(genre)...)
	}
	return strings.Join(cleaned, genreSplitter)
}

// SplitGenres splits a comma-joined genre string into trimmed, non-empty tokens.
func SplitGenres(joined string) []string {
	parts := strings.Split(joined, genreSplitter)
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// PrimaryGenre returns the first genre token or an empty string.
func PrimaryGenre(joined string) string {
	tokens := SplitGenres(joined)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}
