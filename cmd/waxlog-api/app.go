package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/auth"
	"github.com/MarcoPoloResearchLab/waxlog/internal/catalog"
	"github.com/MarcoPoloResearchLab/waxlog/internal/config"
	"github.com/MarcoPoloResearchLab/waxlog/internal/database"
	"github.com/MarcoPoloResearchLab/waxlog/internal/favorites"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ids"
	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/MarcoPoloResearchLab/waxlog/internal/logging"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"github.com/MarcoPoloResearchLab/waxlog/internal/server"
	"github.com/MarcoPoloResearchLab/waxlog/internal/stats"
	"github.com/MarcoPoloResearchLab/waxlog/internal/users"
	"github.com/MarcoPoloResearchLab/waxlog/internal/validation"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the opened store and the services built on it.
type application struct {
	config    config.AppConfig
	logger    *zap.Logger
	sqlDB     *sql.DB
	users     *users.Service
	albums    *albums.Service
	ratings   *ratings.Service
	favorites *favorites.Service
	lists     *lists.Service
	stats     *stats.Service
}

func newApplication(configViper *viper.Viper) (*application, error) {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}
	return assembleApplication(appConfig, logger, db, ids.NewUUIDProvider())
}

// assembleApplication builds the services on an opened store. The pool is closed
// when any step fails.
func assembleApplication(appConfig config.AppConfig, logger *zap.Logger, db *gorm.DB, idProvider ids.Provider) (*application, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	app := &application{config: appConfig, logger: logger, sqlDB: sqlDB}
	if err := app.buildServices(db, idProvider); err != nil {
		app.closeStore()
		return nil, err
	}
	return app, nil
}

func (a *application) buildServices(db *gorm.DB, idProvider ids.Provider) error {
	var err error
	if a.users, err = users.NewService(users.ServiceConfig{
		Database: db, Clock: time.Now, IDProvider: idProvider, Logger: a.logger,
	}); err != nil {
		return err
	}
	if a.albums, err = albums.NewService(albums.ServiceConfig{
		Database: db, Clock: time.Now, IDProvider: idProvider, Logger: a.logger,
	}); err != nil {
		return err
	}
	if a.ratings, err = ratings.NewService(ratings.ServiceConfig{
		Database: db, Clock: time.Now, IDProvider: idProvider, Logger: a.logger,
	}); err != nil {
		return err
	}
	if a.favorites, err = favorites.NewService(favorites.ServiceConfig{
		Database: db, Albums: a.albums, Clock: time.Now, IDProvider: idProvider, Logger: a.logger,
	}); err != nil {
		return err
	}
	if a.lists, err = lists.NewService(lists.ServiceConfig{
		Database:    db,
		Albums:      a.albums,
		Clock:       time.Now,
		IDProvider:  idProvider,
		Logger:      a.logger,
		StrictRanks: a.config.StrictRanks,
	}); err != nil {
		return err
	}
	if a.stats, err = stats.NewService(stats.ServiceConfig{
		Database: db, Clock: time.Now, Logger: a.logger,
	}); err != nil {
		return err
	}
	return nil
}

func (a *application) httpHandler() (http.Handler, error) {
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(a.config.SigningSecret),
		Issuer:        a.config.Issuer,
		Audience:      a.config.Audience,
		TokenTTL:      a.config.TokenTTL,
	})
	if err != nil {
		return nil, err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(a.config.SigningSecret),
		Issuer:        a.config.Issuer,
		Audience:      a.config.Audience,
		CookieName:    a.config.CookieName,
	})
	if err != nil {
		return nil, err
	}

	deps := server.Dependencies{
		TokenIssuer:      tokenIssuer,
		SessionValidator: sessionValidator,
		SessionCookie:    a.config.CookieName,
		Users:            a.users,
		Albums:           a.albums,
		Ratings:          a.ratings,
		Favorites:        a.favorites,
		Lists:            a.lists,
		Stats:            a.stats,
		Validator:        validation.New(),
		AuthLimiter:      ratelimit.New(a.config.AuthRatePerSecond, a.config.AuthRateBurst),
		AllowedOrigins:   a.config.AllowedOrigins,
		Logger:           a.logger,
	}

	if a.config.CatalogConfigured() {
		catalogClient, err := catalog.NewClient(catalog.Config{
			ClientID:          a.config.CatalogClientID,
			ClientSecret:      a.config.CatalogClientSecret,
			BaseURL:           a.config.CatalogBaseURL,
			AuthURL:           a.config.CatalogAuthURL,
			Timeout:           a.config.CatalogTimeout,
			RequestsPerSecond: a.config.CatalogRequestsPerSecond,
			Burst:             a.config.CatalogBurst,
			Logger:            a.logger,
		})
		if err != nil {
			return nil, err
		}
		deps.Catalog = catalogClient
	} else {
		a.logger.Warn("catalog credentials missing, catalog routes will answer 503")
	}

	return server.NewHTTPHandler(deps)
}

// Close releases the database pool and flushes the logger.
func (a *application) Close() {
	a.closeStore()
	_ = a.logger.Sync()
}

func (a *application) closeStore() {
	if a.sqlDB == nil {
		return
	}
	if err := a.sqlDB.Close(); err != nil {
		a.logger.Warn("database close failed", zap.Error(err))
	}
	a.sqlDB = nil
}
