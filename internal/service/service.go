package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/cache"
	"github.com/kjstillabower/conseil-meteo-service/internal/client"
	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
)

// ErrNotFound is the only failure callers see: unknown city, upstream outage and malformed
// upstream payloads all collapse into it.
var ErrNotFound = errors.New("weather not found")

// WeatherService combines the weather cache and the upstream client.
// One upstream attempt per cache miss; the TTL throttles repeat load for a city.
type WeatherService struct {
	client client.WeatherClient
	cache  *cache.WeatherCache
}

// NewWeatherService creates a WeatherService.
func NewWeatherService(client client.WeatherClient, cache *cache.WeatherCache) *WeatherService {
	return &WeatherService{
		client: client,
		cache:  cache,
	}
}

// WeatherForCity returns the current reading for city, from cache when live.
func (s *WeatherService) WeatherForCity(ctx context.Context, city string) (models.WeatherReading, error) {
	key := cache.NormalizeKey(city)
	if key == "" {
		return models.WeatherReading{}, fmt.Errorf("%w: empty city", ErrNotFound)
	}
	observability.RecordWeatherQuery(key)

	reading, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (models.WeatherReading, error) {
		return s.client.Fetch(ctx, key)
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Debug("weather lookup failed",
			zap.String("city", key),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return models.WeatherReading{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return reading, nil
}

// WeatherForUser returns the reading for the user's registered city.
func (s *WeatherService) WeatherForUser(ctx context.Context, user models.User) (models.WeatherReading, error) {
	if strings.TrimSpace(user.City) == "" {
		return models.WeatherReading{}, fmt.Errorf("%w: user %d has no city", ErrNotFound, user.ID)
	}
	return s.WeatherForCity(ctx, user.City)
}
