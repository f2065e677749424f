package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/favorites"
	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"github.com/MarcoPoloResearchLab/waxlog/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options selects and locates the relational store.
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured store and performs schema migrations.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	switch options.Driver {
	case "", "sqlite":
		return OpenSQLite(options.Path, logger)
	case "mysql":
		return OpenMySQL(options.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The pool is capped at one connection, so writers are serialized.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := prepare(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "sqlite"), zap.String("path", path))
	}
	return db, nil
}

// OpenMySQL establishes a MySQL connection and performs schema migrations.
func OpenMySQL(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetMaxIdleConns(4)

	if err := prepare(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "mysql"))
	}
	return db, nil
}

// Models lists every table owned by the service, in creation order.
func Models() []any {
	return []any{
		&users.User{},
		&albums.Album{},
		&ratings.Log{},
		&favorites.Favorite{},
		&lists.List{},
		&lists.Entry{},
		&migrationRecord{},
	}
}

func prepare(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}
