package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
)

// DefaultTTL is how long a successful upstream reading stays visible.
const DefaultTTL = 600 * time.Second

// ErrNotFound is returned by GetOrCompute when compute fails. The compute error is wrapped too.
var ErrNotFound = errors.New("weather not found")

// ComputeFunc performs the upstream fetch on a cache miss.
type ComputeFunc func(ctx context.Context) (models.WeatherReading, error)

// WeatherCache is a get-or-compute cache keyed by normalized city name.
// Failed computations are never stored.
type WeatherCache struct {
	store    Store
	ttl      time.Duration
	backend  string
	stampede *stampedeTracker
	flights  *flightGroup
}

// Option configures a WeatherCache.
type Option func(*WeatherCache)

// WithBackendName sets the backend label used in metrics ("in_memory", "memcached").
func WithBackendName(name string) Option {
	return func(c *WeatherCache) { c.backend = name }
}

// WithCoalescing makes concurrent misses for the same key share one compute call.
// Waiters give up after timeout. Disabled when timeout <= 0.
func WithCoalescing(timeout time.Duration) Option {
	return func(c *WeatherCache) {
		if timeout > 0 {
			c.flights = newFlightGroup(timeout)
		}
	}
}

// New returns a WeatherCache over store. ttl <= 0 uses DefaultTTL.
func New(store Store, ttl time.Duration, opts ...Option) *WeatherCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &WeatherCache{
		store:    store,
		ttl:      ttl,
		backend:  "in_memory",
		stampede: newStampedeTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the entry lifetime.
func (c *WeatherCache) TTL() time.Duration {
	return c.ttl
}

// GetOrCompute returns the live entry for key, or calls compute and stores its result.
// On compute failure nothing is stored and the error matches ErrNotFound.
// A backing store read error is treated as a miss; a write error is logged and ignored.
func (c *WeatherCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (models.WeatherReading, error) {
	key = NormalizeKey(key)
	logger := observability.LoggerFromContext(ctx)

	cached, ok, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("city", key), zap.Error(err))
	case ok:
		observability.CacheHitsTotal.WithLabelValues(c.backend).Inc()
		logger.Debug("cache hit", zap.String("city", key))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues(c.backend).Inc()

	if n := c.stampede.begin(key); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.MetricCityLabel(key)).Inc()
	}
	defer c.stampede.end(key)

	logger.Debug("cache miss, computing", zap.String("city", key))

	var value models.WeatherReading
	if c.flights != nil {
		var shared bool
		value, shared, err = c.flights.do(ctx, key, func(flightCtx context.Context) (models.WeatherReading, error) {
			// A flight that finished between our miss and now has already stored its result.
			if v, ok, getErr := c.store.Get(flightCtx, key); getErr == nil && ok {
				return v, nil
			}
			return c.computeAndStore(flightCtx, key, compute)
		})
		if shared {
			observability.CacheCoalescedTotal.Inc()
		}
	} else {
		value, err = c.computeAndStore(ctx, key, compute)
	}
	if err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: %s: %w", ErrNotFound, key, err)
	}
	return value, nil
}

func (c *WeatherCache) computeAndStore(ctx context.Context, key string, compute ComputeFunc) (models.WeatherReading, error) {
	value, err := compute(ctx)
	if err != nil {
		return models.WeatherReading{}, err
	}
	if setErr := c.store.Set(ctx, key, value, c.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		observability.LoggerFromContext(ctx).Warn("cache set failed", zap.String("city", key), zap.Error(setErr))
	}
	return value, nil
}

// NormalizeKey trims and lowercases a city so "Paris" and " paris" share one entry.
func NormalizeKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
