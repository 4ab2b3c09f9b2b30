package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/conseil-meteo-service/internal/auth"
	"github.com/kjstillabower/conseil-meteo-service/internal/cache"
	"github.com/kjstillabower/conseil-meteo-service/internal/client"
	"github.com/kjstillabower/conseil-meteo-service/internal/config"
	httphandler "github.com/kjstillabower/conseil-meteo-service/internal/http"
	"github.com/kjstillabower/conseil-meteo-service/internal/lifecycle"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/service"
	"github.com/kjstillabower/conseil-meteo-service/internal/store"
	"github.com/kjstillabower/conseil-meteo-service/internal/tips"
	"github.com/kjstillabower/conseil-meteo-service/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := store.Open(startCtx, cfg.DatabasePath)
	startCancel()
	if err != nil {
		logger.Fatal("database", zap.String("path", cfg.DatabasePath), zap.Error(err))
	}
	logger.Info("database ready", zap.String("path", cfg.DatabasePath))

	users := store.NewUserRepository(db)
	accounts := auth.NewService(users, cfg.TokenTTL)
	tipService := tips.NewService(store.NewTipRepository(db))

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	backend, err := newCacheBackend(cfg, logger)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}
	weatherService := service.NewWeatherService(weatherClient, backend.cache)

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if len(cfg.WarmCities) > 0 {
		warmer := cache.NewWarmer(weatherService, logger)
		warmCtx, warmCancel := context.WithTimeout(bgCtx, 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.WarmCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(bgCtx, cfg.WarmCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	go purgeSessions(bgCtx, accounts, cfg.TokenTTL, logger)

	tracker := traffic.NewTracker(cfg.DegradedWindow)
	state := lifecycle.NewState(time.Now())
	inflight := &httphandler.InFlightTracker{}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	health := httphandler.NewHealthHandler(weatherClient, state, tracker, httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Version:          version,
		DatabasePing:     db.PingContext,
		CachePing:        backend.ping,
	}, logger)

	router := httphandler.NewRouter(httphandler.RouterConfig{
		Logger:         logger,
		Handler:        httphandler.NewHandler(weatherService, tipService, accounts, tracker),
		Health:         health,
		Authenticator:  accounts,
		Limiter:        limiter,
		Traffic:        tracker,
		InFlight:       inflight,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()
	bgCancel()

	closers := []io.Closer{db}
	if backend.closer != nil {
		closers = append([]io.Closer{backend.closer}, closers...)
	}
	if err := state.Drain(context.Background(), logger, srv, inflight, lifecycle.DrainConfig{
		ShutdownTimeout:       cfg.ShutdownTimeout,
		InFlightTimeout:       cfg.InFlightTimeout,
		InFlightCheckInterval: cfg.InFlightCheckInterval,
	}, closers...); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// cacheBackend is the weather cache plus the optional handles of its store.
type cacheBackend struct {
	cache  *cache.WeatherCache
	ping   httphandler.Pinger
	closer io.Closer
}

func newCacheBackend(cfg *config.Config, logger *zap.Logger) (cacheBackend, error) {
	var opts []cache.Option
	if cfg.CoalesceEnabled {
		opts = append(opts, cache.WithCoalescing(cfg.CoalesceTimeout))
	}

	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return cacheBackend{}, fmt.Errorf("memcached: %w", err)
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs), zap.Bool("coalesce", cfg.CoalesceEnabled))
		opts = append(opts, cache.WithBackendName("memcached"))
		return cacheBackend{
			cache:  cache.New(mc, cfg.CacheTTL, opts...),
			ping:   func(context.Context) error { return mc.Ping() },
			closer: mc,
		}, nil
	default:
		logger.Info("cache backend: in_memory", zap.Bool("coalesce", cfg.CoalesceEnabled))
		return cacheBackend{cache: cache.New(cache.NewInMemoryStore(), cfg.CacheTTL, opts...)}, nil
	}
}

// purgeSessions deletes expired sessions once per interval until ctx is done.
func purgeSessions(ctx context.Context, accounts *auth.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := accounts.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions purged", zap.Int64("count", n))
			}
		}
	}
}
