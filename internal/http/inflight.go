package http

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultDrainCheckInterval = 100 * time.Millisecond

// InFlightTracker counts /api requests still being served. Shutdown drains on it.
// The zero value is ready to use.
type InFlightTracker struct {
	n atomic.Int64
}

func (t *InFlightTracker) begin() { t.n.Add(1) }
func (t *InFlightTracker) end()   { t.n.Add(-1) }

// Count returns the number of requests in progress.
func (t *InFlightTracker) Count() int64 {
	return t.n.Load()
}

// WaitForZero polls every checkInterval until no request is in progress.
// Returns ctx.Err() if ctx ends first.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = defaultDrainCheckInterval
	}
	if t.Count() == 0 {
		return nil
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Count() == 0 {
				return nil
			}
		}
	}
}

// InFlightMiddleware counts API requests in t. Probes (/health, /metrics) are not
// counted so a scraper cannot hold up shutdown.
func InFlightMiddleware(t *InFlightTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}
			t.begin()
			defer t.end()
			next.ServeHTTP(w, r)
		})
	}
}
