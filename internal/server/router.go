package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/auth"
	"github.com/MarcoPoloResearchLab/waxlog/internal/catalog"
	"github.com/MarcoPoloResearchLab/waxlog/internal/favorites"
	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/MarcoPoloResearchLab/waxlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"github.com/MarcoPoloResearchLab/waxlog/internal/stats"
	"github.com/MarcoPoloResearchLab/waxlog/internal/users"
	"github.com/MarcoPoloResearchLab/waxlog/internal/validation"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "waxlog_user_id"

const (
	opAuthorize = "http.authorize"
	opDecode    = "http.decode"
	opRequest   = "http.request"
	opRateLimit = "http.rate_limit"
	opCatalog   = "catalog.client"
)

var (
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
	errMissingSessionVerifier = errors.New("session validator dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingAlbumsService   = errors.New("albums service dependency required")
	errMissingRatingsService  = errors.New("ratings service dependency required")
	errMissingFavorites       = errors.New("favorites service dependency required")
	errMissingListsService    = errors.New("lists service dependency required")
	errMissingStatsService    = errors.New("stats service dependency required")
)

// TokenIssuer mints access tokens for authenticated users.
type TokenIssuer interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
}

// SessionVerifier resolves the caller of a request.
type SessionVerifier interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// CatalogClient searches the external music catalog.
type CatalogClient interface {
	SearchAlbums(ctx context.Context, query string) ([]catalog.Album, error)
	AlbumTracks(ctx context.Context, catalogID string) ([]catalog.Track, error)
}

// Dependencies wires the services behind the HTTP surface. Catalog and AuthLimiter
// are optional: without a catalog the search routes answer 503, without a limiter
// the credential routes are not throttled.
type Dependencies struct {
	TokenIssuer      TokenIssuer
	SessionValidator SessionVerifier
	SessionCookie    string
	Users            *users.Service
	Albums           *albums.Service
	Ratings          *ratings.Service
	Favorites        *favorites.Service
	Lists            *lists.Service
	Stats            *stats.Service
	Catalog          CatalogClient
	Validator        *validation.Validator
	AuthLimiter      *ratelimit.KeyedRateLimiter
	AllowedOrigins   []string
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the JSON API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.TokenIssuer == nil:
		return nil, errMissingTokenIssuer
	case deps.SessionValidator == nil:
		return nil, errMissingSessionVerifier
	case deps.Users == nil:
		return nil, errMissingUsersService
	case deps.Albums == nil:
		return nil, errMissingAlbumsService
	case deps.Ratings == nil:
		return nil, errMissingRatingsService
	case deps.Favorites == nil:
		return nil, errMissingFavorites
	case deps.Lists == nil:
		return nil, errMissingListsService
	case deps.Stats == nil:
		return nil, errMissingStatsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = validation.New()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:        deps.TokenIssuer,
		sessions:      deps.SessionValidator,
		sessionCookie: deps.SessionCookie,
		users:         deps.Users,
		albums:        deps.Albums,
		ratings:       deps.Ratings,
		favorites:     deps.Favorites,
		lists:         deps.Lists,
		stats:         deps.Stats,
		catalog:       deps.Catalog,
		validator:     validator,
		authLimiter:   deps.AuthLimiter,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	credentials := api.Group("/")
	credentials.Use(handler.limitByClient)
	credentials.POST("/user/register", handler.handleRegister)
	credentials.POST("/token", handler.handleToken)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/user/profile", handler.handleGetProfile)
	protected.PATCH("/user/profile", handler.handleUpdateProfile)
	protected.DELETE("/user/profile", handler.handleDeleteAccount)

	protected.GET("/catalog/albums", handler.handleCatalogSearch)
	protected.GET("/catalog/albums/:catalog_id/tracks", handler.handleCatalogTracks)

	protected.POST("/albums", handler.handleEnsureAlbum)
	protected.GET("/albums/:catalog_id", handler.handleGetAlbum)

	protected.GET("/logs", handler.handleListLogs)
	protected.POST("/logs", handler.handleSubmitLog)
	protected.GET("/logs/:log_id", handler.handleGetLog)
	protected.PUT("/logs/:log_id", handler.handleUpdateLog)
	protected.DELETE("/logs/:log_id", handler.handleDeleteLog)

	protected.GET("/favorites", handler.handleListFavorites)
	protected.POST("/favorites", handler.handleAddFavorite)
	protected.DELETE("/favorites/:catalog_id", handler.handleRemoveFavorite)

	protected.GET("/lists", handler.handleListLists)
	protected.POST("/lists", handler.handleCreateList)
	protected.GET("/lists/:list_id", handler.handleGetList)
	protected.PATCH("/lists/:list_id", handler.handleUpdateList)
	protected.DELETE("/lists/:list_id", handler.handleDeleteList)
	protected.POST("/lists/:list_id/albums", handler.handleAddListAlbum)
	protected.DELETE("/lists/:list_id/albums/:entry_id", handler.handleRemoveListEntry)
	protected.PUT("/lists/:list_id/ranks", handler.handleUpdateRanks)
	protected.POST("/lists/:list_id/ranks/compact", handler.handleCompactRanks)

	protected.GET("/stats", handler.handleStats)

	return router, nil
}

type httpHandler struct {
	tokens        TokenIssuer
	sessions      SessionVerifier
	sessionCookie string
	users         *users.Service
	albums        *albums.Service
	ratings       *ratings.Service
	favorites     *favorites.Service
	lists         *lists.Service
	stats         *stats.Service
	catalog       CatalogClient
	validator     *validation.Validator
	authLimiter   *ratelimit.KeyedRateLimiter
	logger        *zap.Logger
}

type errorPayload struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Debug("token validation failed", zap.Error(err))
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		h.abortWithError(c, apperr.New(apperr.KindUnauthorized, opAuthorize, "invalid_session", err).
			WithMessage("authentication required"))
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func (h *httpHandler) limitByClient(c *gin.Context) {
	if h.authLimiter == nil || h.authLimiter.Allow(c.ClientIP()) {
		c.Next()
		return
	}
	h.logger.Info("request rate limited", zap.String("client_ip", c.ClientIP()), zap.String("path", c.FullPath()))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorPayload{
		Error:   "rate_limited",
		Code:    opRateLimit + ".exceeded",
		Message: "too many requests, slow down",
	})
}

// currentUserID returns the caller resolved by authorizeRequest.
func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

// bindJSON decodes and validates the request body into payload, writing the error
// response itself when it reports false.
func (h *httpHandler) bindJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		h.respondError(c, decodeError(err))
		return false
	}
	if err := h.validator.Validate(payload); err != nil {
		h.respondError(c, err)
		return false
	}
	return true
}

func decodeError(cause error) error {
	return apperr.New(apperr.KindValidation, opDecode, "invalid_json", cause).
		WithMessage("request body must be valid JSON")
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, payload := h.errorResponse(c, err)
	c.JSON(status, payload)
}

func (h *httpHandler) abortWithError(c *gin.Context, err error) {
	status, payload := h.errorResponse(c, err)
	c.AbortWithStatusJSON(status, payload)
}

func (h *httpHandler) errorResponse(c *gin.Context, err error) (int, errorPayload) {
	appErr := apperr.As(err)
	if appErr == nil {
		appErr = apperr.Internal(opRequest, "unclassified", err)
	}
	kind := appErr.Kind()
	switch kind {
	case apperr.KindInternal:
		h.logger.Error("request failed",
			zap.String("code", appErr.Code()),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err))
	case apperr.KindUpstreamUnavailable:
		h.logger.Warn("upstream unavailable",
			zap.String("code", appErr.Code()),
			zap.String("route", c.FullPath()),
			zap.Error(err))
	}
	return kind.HTTPStatus(), errorPayload{
		Error:   string(kind),
		Code:    appErr.Code(),
		Message: appErr.Message(),
		Details: appErr.Details(),
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}

// corsMiddleware allows the listed origins, or any origin when the list is empty
// or contains "*". Credentials are allowed so the session cookie travels.
func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAnyOrigin(allowedOrigins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func catalogNotConfigured() error {
	return apperr.New(apperr.KindUpstreamUnavailable, opCatalog, "not_configured", nil).
		WithMessage("music catalog is not configured")
}
