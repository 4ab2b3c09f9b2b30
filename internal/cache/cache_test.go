package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingCompute returns a ComputeFunc that counts its calls and returns reading or err.
func countingCompute(calls *atomic.Int32, reading models.WeatherReading, err error) ComputeFunc {
	return func(ctx context.Context) (models.WeatherReading, error) {
		calls.Add(1)
		if err != nil {
			return models.WeatherReading{}, err
		}
		return reading, nil
	}
}

var paris = models.WeatherReading{City: "Paris", TemperatureCelsius: 18.5, Description: "ciel dégagé"}

// TestInMemoryStore_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if err := s.Set(ctx, "paris", paris, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "paris")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != paris {
		t.Errorf("Get() = %+v, want %+v", got, paris)
	}
}

func TestInMemoryStore_Get_Miss(t *testing.T) {
	s := NewInMemoryStore()

	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryStore_Get_Expired verifies that an entry is visible only before expiresAt
// and is evicted on the first lookup after it.
func TestInMemoryStore_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := NewInMemoryStoreWithClock(clock.Now)

	_ = s.Set(ctx, "paris", paris, 10*time.Second)

	clock.Advance(10*time.Second - time.Nanosecond)
	if _, ok, _ := s.Get(ctx, "paris"); !ok {
		t.Fatal("Get() just before expiry ok = false, want true")
	}

	clock.Advance(time.Nanosecond)
	if _, ok, _ := s.Get(ctx, "paris"); ok {
		t.Fatal("Get() at expiry ok = true, want false")
	}
	if n := s.Len(); n != 0 {
		t.Errorf("Len() after expired Get = %d, want 0 (lazy eviction)", n)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{" Paris ", "paris"},
		{"paris", "paris"},
		{"PaRiS", "paris"},
		{"  Saint-Étienne  ", "saint-étienne"},
	}
	for _, tc := range tests {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestWeatherCache_HitWithinTTL verifies the first lookup computes once and a second one
// inside the TTL returns the identical reading without computing.
func TestWeatherCache_HitWithinTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New(NewInMemoryStoreWithClock(clock.Now), DefaultTTL)

	var calls atomic.Int32
	compute := countingCompute(&calls, paris, nil)

	first, err := c.GetOrCompute(ctx, "Paris", compute)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	clock.Advance(DefaultTTL - time.Second)
	second, err := c.GetOrCompute(ctx, "Paris", compute)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}

	if first != paris || second != first {
		t.Errorf("readings = %+v / %+v, want both %+v", first, second, paris)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("compute called %d times, want 1", n)
	}
}

// TestWeatherCache_ExpiresAfterTTL verifies that after 600s the next lookup computes again.
func TestWeatherCache_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := New(NewInMemoryStoreWithClock(clock.Now), 0)
	if c.TTL() != 600*time.Second {
		t.Fatalf("TTL() = %v, want 600s", c.TTL())
	}

	var calls atomic.Int32
	compute := countingCompute(&calls, paris, nil)

	_, _ = c.GetOrCompute(ctx, "paris", compute)
	clock.Advance(600 * time.Second)
	_, _ = c.GetOrCompute(ctx, "paris", compute)

	if n := calls.Load(); n != 2 {
		t.Errorf("compute called %d times, want 2 after expiry", n)
	}
}

// TestWeatherCache_FailureNotCached verifies a failed compute leaves no entry and the next
// lookup retries.
func TestWeatherCache_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	c := New(store, DefaultTTL)

	upstreamErr := errors.New("unknown city")
	var calls atomic.Int32
	failing := countingCompute(&calls, models.WeatherReading{}, upstreamErr)

	got, err := c.GetOrCompute(ctx, "Zzzcity", failing)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOrCompute() error = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, upstreamErr) {
		t.Errorf("GetOrCompute() error = %v, want it to wrap the compute error", err)
	}
	if got != (models.WeatherReading{}) {
		t.Errorf("GetOrCompute() = %+v, want zero reading on failure", got)
	}
	if _, ok, _ := store.Get(ctx, "zzzcity"); ok {
		t.Fatal("store has an entry after failed compute")
	}
	if n := store.Len(); n != 0 {
		t.Errorf("store.Len() = %d, want 0", n)
	}

	_, _ = c.GetOrCompute(ctx, "Zzzcity", failing)
	if n := calls.Load(); n != 2 {
		t.Errorf("compute called %d times, want 2 (no negative caching)", n)
	}
}

// TestWeatherCache_CaseInsensitiveKey verifies "Paris" and "paris" share one entry.
func TestWeatherCache_CaseInsensitiveKey(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	c := New(store, DefaultTTL)

	var calls atomic.Int32
	compute := countingCompute(&calls, paris, nil)

	_, _ = c.GetOrCompute(ctx, "Paris", compute)
	_, _ = c.GetOrCompute(ctx, "paris", compute)
	_, _ = c.GetOrCompute(ctx, "  PARIS ", compute)

	if n := calls.Load(); n != 1 {
		t.Errorf("compute called %d times, want 1", n)
	}
	if n := store.Len(); n != 1 {
		t.Errorf("store.Len() = %d, want 1", n)
	}
}

type errStore struct {
	getErr error
	setErr error
	sets   int
}

func (s *errStore) Get(ctx context.Context, key string) (models.WeatherReading, bool, error) {
	return models.WeatherReading{}, false, s.getErr
}

func (s *errStore) Set(ctx context.Context, key string, value models.WeatherReading, ttl time.Duration) error {
	s.sets++
	return s.setErr
}

// TestWeatherCache_StoreErrorsDoNotFailLookup verifies backing store errors degrade to a miss.
func TestWeatherCache_StoreErrorsDoNotFailLookup(t *testing.T) {
	store := &errStore{getErr: errors.New("connection refused"), setErr: errors.New("timeout")}
	c := New(store, DefaultTTL, WithBackendName("memcached"))

	var calls atomic.Int32
	got, err := c.GetOrCompute(context.Background(), "paris", countingCompute(&calls, paris, nil))
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v, want nil", err)
	}
	if got != paris {
		t.Errorf("GetOrCompute() = %+v, want %+v", got, paris)
	}
	if store.sets != 1 {
		t.Errorf("Set called %d times, want 1", store.sets)
	}
}

// TestWeatherCache_ConcurrentMisses verifies concurrent lookups without coalescing are safe and
// consistent. Several computes are allowed.
func TestWeatherCache_ConcurrentMisses(t *testing.T) {
	store := NewInMemoryStore()
	c := New(store, DefaultTTL)

	var calls atomic.Int32
	compute := func(ctx context.Context) (models.WeatherReading, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return paris, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]models.WeatherReading, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.GetOrCompute(context.Background(), "Paris", compute)
			if err != nil {
				t.Errorf("GetOrCompute() error = %v", err)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r != paris {
			t.Errorf("results[%d] = %+v, want %+v", i, r, paris)
		}
	}
	if got := calls.Load(); got < 1 || got > n {
		t.Errorf("compute called %d times, want between 1 and %d", got, n)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func activeMisses(c *WeatherCache, key string) int {
	c.stampede.mu.Lock()
	defer c.stampede.mu.Unlock()
	return c.stampede.activeMisses[key]
}

// TestWeatherCache_Coalescing verifies that with coalescing enabled concurrent misses for one
// city share a single compute.
func TestWeatherCache_Coalescing(t *testing.T) {
	c := New(NewInMemoryStore(), DefaultTTL, WithCoalescing(2*time.Second))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (models.WeatherReading, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return paris, nil
	}

	const followers = 10
	var wg sync.WaitGroup
	wg.Add(followers + 1)
	go func() {
		defer wg.Done()
		if _, err := c.GetOrCompute(context.Background(), "paris", compute); err != nil {
			t.Errorf("leader GetOrCompute() error = %v", err)
		}
	}()
	<-started

	for i := 0; i < followers; i++ {
		go func() {
			defer wg.Done()
			got, err := c.GetOrCompute(context.Background(), "PARIS", compute)
			if err != nil {
				t.Errorf("follower GetOrCompute() error = %v", err)
			}
			if got != paris {
				t.Errorf("follower got %+v, want %+v", got, paris)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for activeMisses(c, "paris") < followers+1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("compute called %d times, want 1 with coalescing", n)
	}
	if c.flights.inFlight() != 0 {
		t.Errorf("inFlight() = %d after completion, want 0", c.flights.inFlight())
	}
}

// TestWeatherCache_CoalescedSurvivesLeaderCancel verifies that the first caller giving up does
// not fail a waiter whose own context is still live.
func TestWeatherCache_CoalescedSurvivesLeaderCancel(t *testing.T) {
	store := NewInMemoryStore()
	c := New(store, DefaultTTL, WithCoalescing(2*time.Second))

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (models.WeatherReading, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return paris, nil
		case <-ctx.Done():
			return models.WeatherReading{}, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(leaderCtx, "paris", compute)
		leaderErr <- err
	}()
	<-started

	type result struct {
		got models.WeatherReading
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		got, err := c.GetOrCompute(context.Background(), "paris", compute)
		waiter <- result{got, err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for activeMisses(c, "paris") < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}
	close(release)

	res := <-waiter
	if res.err != nil {
		t.Fatalf("waiter GetOrCompute() error = %v, want nil", res.err)
	}
	if res.got != paris {
		t.Errorf("waiter got %+v, want %+v", res.got, paris)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("compute called %d times, want 1", n)
	}
	if _, ok, _ := store.Get(context.Background(), "paris"); !ok {
		t.Error("result of the shared compute was not cached")
	}
}

// TestWeatherCache_CoalescedFailureNotCached verifies a shared failure reaches every waiter and
// leaves nothing cached.
func TestWeatherCache_CoalescedFailureNotCached(t *testing.T) {
	store := NewInMemoryStore()
	c := New(store, DefaultTTL, WithCoalescing(time.Second))

	var calls atomic.Int32
	_, err := c.GetOrCompute(context.Background(), "zzzcity", countingCompute(&calls, models.WeatherReading{}, errors.New("404")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetOrCompute() error = %v, want ErrNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", store.Len())
	}
}

func TestStampedeTracker(t *testing.T) {
	st := newStampedeTracker()
	if n := st.begin("paris"); n != 1 {
		t.Errorf("begin() = %d, want 1", n)
	}
	if n := st.begin("paris"); n != 2 {
		t.Errorf("begin() = %d, want 2", n)
	}
	st.end("paris")
	st.end("paris")
	st.end("paris")
	if _, ok := st.activeMisses["paris"]; ok {
		t.Error("activeMisses still has key after all misses ended")
	}
}
