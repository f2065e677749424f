package users

import (
	"errors"
	"regexp"
	"strings"
)

const (
	maxDisplayNameLength = 150
	maxBioLength         = 2000
	maxAvatarURLLength   = 1024
)

// ErrInvalidUsername indicates a username outside the accepted alphabet or length.
var ErrInvalidUsername = errors.New("users: invalid username")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@+-]{3,150}$`)

// Username is a validated login name.
type Username string

// NewUsername trims and validates a login name.
func NewUsername(rawInput string) (Username, error) {
	trimmed := strings.TrimSpace(rawInput)
	if !usernamePattern.MatchString(trimmed) {
		return "", ErrInvalidUsername
	}
	return Username(trimmed), nil
}

// String returns the login name.
func (u Username) String() string {
	return string(u)
}

// User is a registered account.
type User struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Username         string `gorm:"column:username;size:150;not null;uniqueIndex:idx_users_username"`
	PasswordHash     string `gorm:"column:password_hash;size:255;not null"`
	DisplayName      string `gorm:"column:display_name;size:150;not null;default:''"`
	Bio              string `gorm:"column:bio;type:text;not null"`
	AvatarURL        string `gorm:"column:avatar_url;size:1024;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// ProfileChanges describes a partial profile update.
type ProfileChanges struct {
	DisplayName *string
	Bio         *string
	AvatarURL   *string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
