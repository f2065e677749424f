package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != "waxlog.db" {
		t.Fatalf("unexpected database defaults: %s %s", cfg.DatabaseDriver, cfg.DatabasePath)
	}
	if cfg.TokenTTL != 60*time.Minute {
		t.Fatalf("unexpected token ttl: %s", cfg.TokenTTL)
	}
	if cfg.CatalogTimeout != 10*time.Second {
		t.Fatalf("unexpected catalog timeout: %s", cfg.CatalogTimeout)
	}
	if cfg.StrictRanks {
		t.Fatalf("expected lenient ranks by default")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.CatalogConfigured() {
		t.Fatalf("catalog must not be configured without credentials")
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
}

func TestLoadValidatesDatabaseDriver(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("database.driver", "mysql")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected mysql without dsn to fail")
	}

	configViper.Set("database.dsn", "user:pass@tcp(localhost:3306)/waxlog?parseTime=true")
	if _, err := Load(configViper); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	configViper.Set("database.driver", "postgres")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}

func TestLoadSplitsOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("cors.allowed_origins", "https://a.example, https://b.example,")
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}
