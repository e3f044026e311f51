package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultEndpoint   = "http://ip-api.com/json"
	defaultCacheTTL   = 30 * time.Minute
	defaultHTTPExpiry = 3 * time.Second
)

var (
	errMissingIP         = errors.New("ip address must not be empty")
	errLookupFailed      = errors.New("geolocation lookup failed")
	ErrInvalidGeoConfig  = errors.New("geo: invalid resolver config")
	errMissingEndpointCf = errors.New("endpoint configuration required")
)

// Location is a best-effort ip geolocation result.
type Location struct {
	Country string
	City    string
}

// Resolver maps an IP address to a coarse location. Implementations are
// best-effort: callers degrade to unknown fields on error.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// HTTPResolverConfig bundles configuration for the HTTP resolver.
type HTTPResolverConfig struct {
	Endpoint   string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// HTTPResolver queries an ip-api compatible JSON endpoint and caches results
// per address so repeated heartbeats from one visitor cost a single lookup.
type HTTPResolver struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time
	cache      *locationCache
}

// NewHTTPResolver constructs a resolver with validated configuration.
func NewHTTPResolver(cfg HTTPResolverConfig) (*HTTPResolver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeoConfig, errMissingEndpointCf)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPExpiry}
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &HTTPResolver{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
		cache:      &locationCache{ttl: cacheTTL, entries: make(map[string]cachedLocation)},
	}, nil
}

// DefaultEndpoint returns the endpoint used when none is configured.
func DefaultEndpoint() string {
	return defaultEndpoint
}

// Resolve returns the location for the given address, consulting the cache
// first.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	address := strings.TrimSpace(ip)
	if address == "" {
		return Location{}, errMissingIP
	}

	now := r.clock()
	if location, ok := r.cache.get(address, now); ok {
		return location, nil
	}

	location, err := r.fetch(ctx, address)
	if err != nil {
		return Location{}, err
	}

	r.cache.store(address, location, now)
	return location, nil
}

type lookupPayload struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
	Message string `json:"message"`
}

func (r *HTTPResolver) fetch(ctx context.Context, address string) (Location, error) {
	endpoint := strings.TrimSuffix(r.endpoint, "/") + "/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, err
	}

	response, err := r.httpClient.Do(req)
	if err != nil {
		return Location{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: status %d", errLookupFailed, response.StatusCode)
	}

	var payload lookupPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Location{}, err
	}
	if payload.Status != "" && payload.Status != "success" {
		r.logger.Debug("geolocation lookup rejected",
			zap.String("ip", address),
			zap.String("message", payload.Message))
		return Location{}, fmt.Errorf("%w: %s", errLookupFailed, payload.Message)
	}

	return Location{
		Country: strings.TrimSpace(payload.Country),
		City:    strings.TrimSpace(payload.City),
	}, nil
}

type cachedLocation struct {
	location  Location
	expiresAt time.Time
}

type locationCache struct {
	mu      sync.RWMutex
	entries map[string]cachedLocation
	ttl     time.Duration
}

func (c *locationCache) get(address string, now time.Time) (Location, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[address]
	if !ok || now.After(entry.expiresAt) {
		return Location{}, false
	}
	return entry.location, true
}

func (c *locationCache) store(address string, location Location, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[address] = cachedLocation{location: location, expiresAt: now.Add(c.ttl)}
}
