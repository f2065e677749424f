package lists

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 5000
)

var (
	// ErrInvalidTitle indicates a blank or overlong list title.
	ErrInvalidTitle = errors.New("lists: invalid title")
	// ErrInvalidDescription indicates an overlong list description.
	ErrInvalidDescription = errors.New("lists: invalid description")
)

// Title is a trimmed list title of 1..200 characters.
type Title string

// NewTitle validates and normalizes a list title.
func NewTitle(rawInput string) (Title, error) {
	trimmed := strings.TrimSpace(rawInput)
	length := utf8.RuneCountInString(trimmed)
	if length == 0 || length > maxTitleLength {
		return "", ErrInvalidTitle
	}
	return Title(trimmed), nil
}

// String returns the title text.
func (t Title) String() string {
	return string(t)
}

func normalizeDescription(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return "", ErrInvalidDescription
	}
	return trimmed, nil
}

// List is a user-owned, titled collection of ranked albums.
type List struct {
	ListID           string `gorm:"column:list_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_lists_user"`
	Title            string `gorm:"column:title;size:200;not null"`
	Description      string `gorm:"column:description;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (List) TableName() string {
	return "lists"
}

// Entry places one album in a list at a rank. Album fields are snapshotted when added.
type Entry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	ListID           string `gorm:"column:list_id;size:190;not null;uniqueIndex:idx_list_entries_list_catalog,priority:1"`
	CatalogID        string `gorm:"column:catalog_id;size:190;not null;uniqueIndex:idx_list_entries_list_catalog,priority:2"`
	Name             string `gorm:"column:name;size:512;not null"`
	Artist           string `gorm:"column:artist;size:512;not null"`
	ImageURL         string `gorm:"column:image_url;size:1024;not null"`
	ReleaseDate      string `gorm:"column:release_date;size:10;not null"`
	ExternalURL      string `gorm:"column:external_url;size:1024;not null"`
	Genre            string `gorm:"column:genre;size:255;not null"`
	Rank             int    `gorm:"column:list_rank;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "list_entries"
}

// RankUpdate assigns a new 1-based rank to one entry.
type RankUpdate struct {
	EntryID string
	Rank    int
}

// Changes describes a partial list update.
type Changes struct {
	Title       *string
	Description *string
}

// Summary is a list with its entry count.
type Summary struct {
	List       List
	EntryCount int64
}

// Detail is a list with its entries in listing order.
type Detail struct {
	List    List
	Entries []Entry
}
