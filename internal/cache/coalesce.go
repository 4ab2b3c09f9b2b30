package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
)

// flight is one in-progress compute that later callers for the same key wait on.
type flight struct {
	done chan struct{}
	val  models.WeatherReading
	err  error
}

// flightGroup deduplicates concurrent computes per key.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
	timeout time.Duration
}

func newFlightGroup(timeout time.Duration) *flightGroup {
	return &flightGroup{
		flights: make(map[string]*flight),
		timeout: timeout,
	}
}

// do starts fn for key unless a call is already in flight, then waits for the result
// (bounded by ctx and the group timeout). fn runs on a context detached from ctx's
// cancellation, so one caller giving up does not fail the others waiting on the same key.
// shared reports whether the result came from another caller's fn.
func (g *flightGroup) do(ctx context.Context, key string, fn func(context.Context) (models.WeatherReading, error)) (val models.WeatherReading, shared bool, err error) {
	g.mu.Lock()
	f, shared := g.flights[key]
	if !shared {
		f = &flight{done: make(chan struct{})}
		g.flights[key] = f
		go g.run(ctx, key, f, fn)
	}
	g.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	select {
	case <-f.done:
		return f.val, shared, f.err
	case <-waitCtx.Done():
		return models.WeatherReading{}, shared, waitCtx.Err()
	}
}

// run executes fn for f and publishes the result. The compute keeps ctx's values (logger,
// correlation id) but is bounded only by the group timeout.
func (g *flightGroup) run(ctx context.Context, key string, f *flight, fn func(context.Context) (models.WeatherReading, error)) {
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			f.err = fmt.Errorf("compute panicked: %v", r)
		}
		g.mu.Lock()
		delete(g.flights, key)
		g.mu.Unlock()
		close(f.done)
	}()

	f.val, f.err = fn(flightCtx)
}

// inFlight returns the number of keys with a compute in progress.
func (g *flightGroup) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flights)
}
