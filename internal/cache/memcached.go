package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
)

const (
	keyPrefix = "weather:"

	// memcached rejects keys longer than 250 bytes.
	maxKeyLen = 250

	// Relative expirations above 30 days are read as unix timestamps by memcached.
	maxRelativeExp = 30 * 24 * 60 * 60
)

// MemcachedStore implements Store on memcached. Expiry is enforced by the server.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated server list
// ("localhost:11211" or "host1:11211,host2:11211"). Zero timeout or maxIdleConns keep client defaults.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// storageKey escapes city keys (which may contain spaces or accents) into a valid memcached key.
func storageKey(k string) string {
	key := keyPrefix + url.QueryEscape(k)
	if len(key) <= maxKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(k))
	return keyPrefix + "sha256:" + hex.EncodeToString(sum[:])
}

// Get implements Store. A memcached miss is (zero, false, nil).
func (c *MemcachedStore) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherReading{}, false, err
	}
	item, err := c.client.Get(storageKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherReading{}, false, nil
		}
		return models.WeatherReading{}, false, err
	}
	var reading models.WeatherReading
	if err := json.Unmarshal(item.Value, &reading); err != nil {
		return models.WeatherReading{}, false, err
	}
	return reading, true, nil
}

// Set implements Store.
func (c *MemcachedStore) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        storageKey(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

func expirationSeconds(ttl time.Duration) int32 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	if secs <= 0 {
		secs = 1
	}
	if secs > maxRelativeExp {
		secs = maxRelativeExp
	}
	return int32(secs)
}

// Ping checks that memcached is reachable. Used by the health check.
func (c *MemcachedStore) Ping() error {
	return c.client.Ping()
}

// Close closes idle connections. Call during shutdown.
func (c *MemcachedStore) Close() error {
	return c.client.Close()
}
