package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/conseil-meteo-service/internal/auth"
	"github.com/kjstillabower/conseil-meteo-service/internal/client"
	"github.com/kjstillabower/conseil-meteo-service/internal/lifecycle"
	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/service"
	"github.com/kjstillabower/conseil-meteo-service/internal/store"
	"github.com/kjstillabower/conseil-meteo-service/internal/tips"
	"github.com/kjstillabower/conseil-meteo-service/internal/traffic"
	"github.com/kjstillabower/conseil-meteo-service/internal/validation"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

var (
	testUser  = models.User{ID: 1, Email: "user@test.com", City: "paris", Roles: []string{models.RoleUser}}
	testAdmin = models.User{ID: 2, Email: "admin@test.com", City: "marseille", Roles: []string{models.RoleAdmin}}
)

type fakeAuthenticator struct{}

func (fakeAuthenticator) Authenticate(ctx context.Context, token string) (models.User, error) {
	switch token {
	case userToken:
		return testUser, nil
	case adminToken:
		return testAdmin, nil
	}
	return models.User{}, auth.ErrUnauthenticated
}

// fakeWeather answers from a fixed map keyed by lowercased city.
type fakeWeather struct {
	mu       sync.Mutex
	readings map[string]models.WeatherReading
	failWith error
	cities   []string
	block    chan struct{}
}

func (f *fakeWeather) WeatherForCity(ctx context.Context, city string) (models.WeatherReading, error) {
	if f.block != nil {
		select {
		case <-ctx.Done():
			return models.WeatherReading{}, fmt.Errorf("%w: %w", service.ErrNotFound, ctx.Err())
		case <-f.block:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(city)
	f.cities = append(f.cities, key)
	if f.failWith != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: %w", service.ErrNotFound, f.failWith)
	}
	r, ok := f.readings[key]
	if !ok {
		return models.WeatherReading{}, fmt.Errorf("%w: %w", service.ErrNotFound, client.ErrCityNotFound)
	}
	return r, nil
}

func (f *fakeWeather) WeatherForUser(ctx context.Context, u models.User) (models.WeatherReading, error) {
	if u.City == "" {
		return models.WeatherReading{}, service.ErrNotFound
	}
	return f.WeatherForCity(ctx, u.City)
}

// fakeTips is an in-memory tips.Service stand-in with the same validation.
type fakeTips struct {
	mu     sync.Mutex
	tips   map[int64]models.Tip
	nextID int64
	month  int
}

func newFakeTips(month int, seed ...models.Tip) *fakeTips {
	f := &fakeTips{tips: map[int64]models.Tip{}, month: month}
	for _, t := range seed {
		f.tips[t.ID] = t
		f.nextID = max(f.nextID, t.ID)
	}
	return f
}

func (f *fakeTips) ForCurrentMonth(ctx context.Context) ([]models.Tip, error) {
	return f.ForMonth(ctx, f.month)
}

func (f *fakeTips) ForMonth(ctx context.Context, month int) ([]models.Tip, error) {
	if !validation.ValidMonth(month) {
		return nil, tips.ErrInvalidMonth
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Tip{}
	for id := int64(1); id <= f.nextID; id++ {
		if t, ok := f.tips[id]; ok && slices.Contains(t.Months, month) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTips) Create(ctx context.Context, content string, months []int) (models.Tip, error) {
	if strings.TrimSpace(content) == "" {
		return models.Tip{}, &tips.ValidationError{Field: "content", Reason: "ne doit pas être vide"}
	}
	if len(months) == 0 {
		return models.Tip{}, &tips.ValidationError{Field: "mois", Reason: "au moins un mois est requis"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := models.Tip{ID: f.nextID, Content: content, Months: months}
	f.tips[t.ID] = t
	return t, nil
}

func (f *fakeTips) Update(ctx context.Context, id int64, p tips.Patch) (models.Tip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tips[id]
	if !ok {
		return models.Tip{}, fmt.Errorf("tip %d: %w", id, store.ErrNotFound)
	}
	if p.Content != nil {
		t.Content = *p.Content
	}
	if p.Months != nil {
		if len(*p.Months) == 0 {
			return models.Tip{}, &tips.ValidationError{Field: "mois", Reason: "au moins un mois est requis"}
		}
		t.Months = *p.Months
	}
	f.tips[id] = t
	return t, nil
}

func (f *fakeTips) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tips[id]; !ok {
		return fmt.Errorf("tip %d: %w", id, store.ErrNotFound)
	}
	delete(f.tips, id)
	return nil
}

// fakeAccounts accepts user@test.com/123 and rejects duplicate registrations.
type fakeAccounts struct {
	mu        sync.Mutex
	emails    map[string]bool
	lastCity  string
	loggedOut []string
	logoutErr error
}

func (f *fakeAccounts) Register(ctx context.Context, email, password, city string) (models.User, error) {
	if password == "" {
		return models.User{}, validation.ErrPasswordEmpty
	}
	normalized, err := validation.NormalizeEmail(email)
	if err != nil {
		return models.User{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emails == nil {
		f.emails = map[string]bool{}
	}
	if f.emails[normalized] {
		return models.User{}, store.ErrDuplicateEmail
	}
	f.emails[normalized] = true
	f.lastCity = city
	return models.User{ID: int64(len(f.emails)), Email: normalized, PasswordHash: "secret-hash", City: city, Roles: []string{models.RoleUser}}, nil
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (auth.Token, error) {
	if email == "user@test.com" && password == "123" {
		return auth.Token{Value: userToken, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return auth.Token{}, auth.ErrInvalidCredentials
}

func (f *fakeAccounts) Logout(ctx context.Context, token string) error {
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

type fakeUpstream struct{ err error }

func (f fakeUpstream) ValidateAPIKey(ctx context.Context) error { return f.err }

type testEnv struct {
	router   http.Handler
	weather  *fakeWeather
	tips     *fakeTips
	accounts *fakeAccounts
	traffic  *traffic.Tracker
	state    *lifecycle.State
	inflight *InFlightTracker
}

type envOption func(*RouterConfig)

func withLimiter(l *rate.Limiter) envOption {
	return func(c *RouterConfig) { c.Limiter = l }
}

func withRequestTimeout(d time.Duration) envOption {
	return func(c *RouterConfig) { c.RequestTimeout = d }
}

func withLogger(l *zap.Logger) envOption {
	return func(c *RouterConfig) { c.Logger = l }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		weather: &fakeWeather{readings: map[string]models.WeatherReading{
			"paris":     {City: "Paris", TemperatureCelsius: 18.5, Description: "ciel dégagé"},
			"marseille": {City: "Marseille", TemperatureCelsius: 24, Description: "ensoleillé"},
			"le havre":  {City: "Le Havre", TemperatureCelsius: 12, Description: "bruine"},
		}},
		tips: newFakeTips(3,
			models.Tip{ID: 1, Content: "Semer les radis", Months: []int{3, 4}},
			models.Tip{ID: 2, Content: "Pailler le potager", Months: []int{7}},
		),
		accounts: &fakeAccounts{},
		traffic:  traffic.NewTracker(time.Minute),
		state:    lifecycle.NewState(time.Now()),
		inflight: &InFlightTracker{},
	}
	cfg := RouterConfig{
		Logger:        zap.NewNop(),
		Handler:       NewHandler(env.weather, env.tips, env.accounts, env.traffic),
		Health:        NewHealthHandler(fakeUpstream{}, env.state, env.traffic, HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, zap.NewNop()),
		Authenticator: fakeAuthenticator{},
		Traffic:       env.traffic,
		InFlight:      env.inflight,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.router = NewRouter(cfg)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body
}
