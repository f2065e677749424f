// Package catalog talks to the external music catalog (the Spotify Web API).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/metrics"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the catalog API root.
	DefaultBaseURL = "https://api.spotify.com/v1"
	// DefaultAuthURL issues client-credentials tokens.
	DefaultAuthURL = "https://accounts.spotify.com/api/token"

	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 5
	defaultBurst             = 5
	tokenRefreshMargin       = 30 * time.Second
	breakerName              = "catalog-api"
	unavailableMessage       = "music catalog is unavailable, try again later"

	opNewClient   = "catalog.client.new"
	opToken       = "catalog.token"
	opSearch      = "catalog.search_albums"
	opTracks      = "catalog.album_tracks"
	outcomeOK     = "success"
	outcomeFailed = "failure"
	outcomeDenied = "rejected"
)

var (
	errMissingCredentials = errors.New("catalog client id and secret are required")
	errUnauthorized       = errors.New("catalog rejected the access token")
)

// Config describes how to reach the catalog.
type Config struct {
	ClientID          string
	ClientSecret      string
	BaseURL           string
	AuthURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Logger            *zap.Logger
	Clock             func() time.Time
}

// Client is a rate limited, circuit-broken catalog client safe for concurrent use.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	authURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker[struct{}]
	logger       *zap.Logger
	clock        func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, apperr.Internal(opNewClient, "missing_credentials", errMissingCredentials)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	authURL := strings.TrimSpace(cfg.AuthURL)
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	requestsPerSecond := cfg.RequestsPerSecond
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("catalog circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      baseURL,
		authURL:      authURL,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		breaker:      breaker,
		logger:       logger,
		clock:        clock,
	}, nil
}

// SearchAlbums returns catalog albums matching query.
func (c *Client) SearchAlbums(ctx context.Context, query string) ([]Album, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, apperr.Validation(opSearch, "missing_query", "query parameter is required")
	}
	params := url.Values{}
	params.Set("q", trimmed)
	params.Set("type", "album")
	params.Set("limit", "20")

	var payload searchResponse
	if err := c.call(ctx, opSearch, "/search", params, &payload); err != nil {
		return nil, err
	}
	results := make([]Album, 0, len(payload.Albums.Items))
	for _, item := range payload.Albums.Items {
		if item == nil || item.ID == "" {
			continue
		}
		results = append(results, item.toAlbum())
	}
	return results, nil
}

// AlbumTracks returns the track listing of one catalog album.
func (c *Client) AlbumTracks(ctx context.Context, catalogID string) ([]Track, error) {
	trimmed := strings.TrimSpace(catalogID)
	if trimmed == "" {
		return nil, apperr.Validation(opTracks, "missing_catalog_id", "catalog id is required")
	}
	params := url.Values{}
	params.Set("limit", "50")

	var payload tracksResponse
	if err := c.call(ctx, opTracks, "/albums/"+url.PathEscape(trimmed)+"/tracks", params, &payload); err != nil {
		return nil, err
	}
	tracks := make([]Track, 0, len(payload.Items))
	for _, item := range payload.Items {
		tracks = append(tracks, item.toTrack())
	}
	return tracks, nil
}

func (c *Client) call(ctx context.Context, operation, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.CatalogRequests.WithLabelValues(operation, outcomeDenied).Inc()
		return c.unavailable(operation, "rate_limit_wait", err)
	}
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.get(ctx, path, params, out)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CatalogRequests.WithLabelValues(operation, outcomeDenied).Inc()
			return c.unavailable(operation, "circuit_open", err)
		}
		metrics.CatalogRequests.WithLabelValues(operation, outcomeFailed).Inc()
		return c.unavailable(operation, "request_failed", err)
	}
	metrics.CatalogRequests.WithLabelValues(operation, outcomeOK).Inc()
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		return errUnauthorized
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("catalog status %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}

// accessToken returns the cached token, fetching a new one when it is missing or
// within tokenRefreshMargin of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := c.clock()
	if c.token != "" && now.Before(c.tokenExpiry.Add(-tokenRefreshMargin)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", opToken, err)
	}
	request.SetBasicAuth(c.clientID, c.clientSecret)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%s: request: %w", opToken, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: status %d", opToken, response.StatusCode)
	}

	var payload tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%s: decode: %w", opToken, err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%s: empty access token", opToken)
	}
	c.token = payload.AccessToken
	c.tokenExpiry = now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()
}

func (c *Client) unavailable(operation, reason string, cause error) error {
	c.logger.Warn("catalog request failed",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(cause))
	return apperr.New(apperr.KindUpstreamUnavailable, operation, reason, cause).WithMessage(unavailableMessage)
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
