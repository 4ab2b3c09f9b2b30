package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
)

// Store is the backing store behind WeatherCache.
// Get reports a hit only for entries that have not expired.
type Store interface {
	Get(ctx context.Context, key string) (models.WeatherReading, bool, error)
	Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error
}

// InMemoryStore is a process-local Store. Safe for concurrent use.
// Expired entries are evicted lazily on the next Get for that key.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     models.WeatherReading
	expiresAt time.Time
}

// NewInMemoryStore creates an empty store using the wall clock.
func NewInMemoryStore() *InMemoryStore {
	return NewInMemoryStoreWithClock(time.Now)
}

// NewInMemoryStoreWithClock creates an empty store that reads time from now.
func NewInMemoryStoreWithClock(now func() time.Time) *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]entry),
		now:  now,
	}
}

// Get returns (value, true, nil) for a live entry and (zero, false, nil) on miss or expiry.
func (s *InMemoryStore) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return models.WeatherReading{}, false, nil
	}

	now := s.now()
	if now.Before(e.expiresAt) {
		return e.value, true, nil
	}

	s.mu.Lock()
	// A concurrent Set may have refreshed the entry since the read lock was released.
	if cur, ok := s.data[key]; ok && !now.Before(cur.expiresAt) {
		delete(s.data, key)
	}
	s.mu.Unlock()
	return models.WeatherReading{}, false, nil
}

// Set stores value until now+ttl. Last writer wins.
func (s *InMemoryStore) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{
		value:     value,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
