package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "WAXLOG"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabasePath      = "waxlog.db"
	defaultLogLevel          = "info"
	defaultIssuer            = "waxlog-auth"
	defaultAudience          = "waxlog-api"
	defaultTokenTTLMinutes   = 60
	defaultCookieName        = "waxlog_session"
	defaultCatalogBaseURL    = "https://api.spotify.com/v1"
	defaultCatalogAuthURL    = "https://accounts.spotify.com/api/token"
	defaultCatalogTimeout    = 10
	defaultCatalogRate       = 5.0
	defaultCatalogBurst      = 5
	defaultAllowedOrigins    = "*"
	defaultAuthRatePerSecond = 1.0
	defaultAuthRateBurst     = 5
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	LogLevel       string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	CookieName    string

	CatalogClientID          string
	CatalogClientSecret      string
	CatalogBaseURL           string
	CatalogAuthURL           string
	CatalogTimeout           time.Duration
	CatalogRequestsPerSecond float64
	CatalogBurst             int

	StrictRanks bool

	AllowedOrigins []string

	AuthRatePerSecond float64
	AuthRateBurst     int
}

// CatalogConfigured reports whether catalog credentials were supplied.
func (c AppConfig) CatalogConfigured() bool {
	return strings.TrimSpace(c.CatalogClientID) != "" && strings.TrimSpace(c.CatalogClientSecret) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("catalog.client_id", "")
	configViper.SetDefault("catalog.client_secret", "")
	configViper.SetDefault("catalog.base_url", defaultCatalogBaseURL)
	configViper.SetDefault("catalog.auth_url", defaultCatalogAuthURL)
	configViper.SetDefault("catalog.timeout_seconds", defaultCatalogTimeout)
	configViper.SetDefault("catalog.requests_per_second", defaultCatalogRate)
	configViper.SetDefault("catalog.burst", defaultCatalogBurst)
	configViper.SetDefault("lists.strict_ranks", false)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("ratelimit.auth_rps", defaultAuthRatePerSecond)
	configViper.SetDefault("ratelimit.auth_burst", defaultAuthRateBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),

		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		Audience:      configViper.GetString("auth.audience"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		CookieName:    configViper.GetString("auth.cookie_name"),

		CatalogClientID:          configViper.GetString("catalog.client_id"),
		CatalogClientSecret:      configViper.GetString("catalog.client_secret"),
		CatalogBaseURL:           configViper.GetString("catalog.base_url"),
		CatalogAuthURL:           configViper.GetString("catalog.auth_url"),
		CatalogTimeout:           time.Duration(configViper.GetInt("catalog.timeout_seconds")) * time.Second,
		CatalogRequestsPerSecond: configViper.GetFloat64("catalog.requests_per_second"),
		CatalogBurst:             configViper.GetInt("catalog.burst"),

		StrictRanks: configViper.GetBool("lists.strict_ranks"),

		AllowedOrigins: splitOrigins(configViper.GetString("cors.allowed_origins")),

		AuthRatePerSecond: configViper.GetFloat64("ratelimit.auth_rps"),
		AuthRateBurst:     configViper.GetInt("ratelimit.auth_burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverMySQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.CatalogTimeout <= 0 {
		return fmt.Errorf("catalog.timeout_seconds must be positive")
	}
	if c.CatalogRequestsPerSecond <= 0 || c.CatalogBurst <= 0 {
		return fmt.Errorf("catalog.requests_per_second and catalog.burst must be positive")
	}
	if c.AuthRatePerSecond <= 0 || c.AuthRateBurst <= 0 {
		return fmt.Errorf("ratelimit.auth_rps and ratelimit.auth_burst must be positive")
	}
	return nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
