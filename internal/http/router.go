package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/traffic"
)

// RouterConfig wires handlers and middleware into the route table.
type RouterConfig struct {
	Logger         *zap.Logger
	Handler        *Handler
	Health         *HealthHandler
	Authenticator  Authenticator
	Limiter        *rate.Limiter // nil disables rate limiting
	Traffic        *traffic.Tracker
	InFlight       *InFlightTracker
	RequestTimeout time.Duration
}

// NewRouter builds the full route table.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(RecoveryMiddleware)
	router.Use(AccessLogMiddleware)
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(InFlightMiddleware(cfg.InFlight))
	}

	notFound := CorrelationIDMiddleware(cfg.Logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Ressource introuvable")
	}))
	router.NotFoundHandler = notFound
	router.MethodNotAllowedHandler = CorrelationIDMiddleware(cfg.Logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Méthode non autorisée")
	}))

	router.HandleFunc("/health", cfg.Health.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	// /api routes sit on the root router so a method mismatch reaches MethodNotAllowedHandler;
	// a subrouter would answer 404.
	apiChain := []mux.MiddlewareFunc{RateLimitMiddleware(cfg.Limiter, cfg.Traffic)}
	if cfg.RequestTimeout > 0 {
		apiChain = append(apiChain, TimeoutMiddleware(cfg.RequestTimeout))
	}
	api := func(h http.Handler) http.Handler {
		for i := len(apiChain) - 1; i >= 0; i-- {
			h = apiChain[i](h)
		}
		return h
	}

	requireUser := RequireUser(cfg.Authenticator)
	public := func(h http.HandlerFunc) http.Handler { return api(h) }
	user := func(h http.HandlerFunc) http.Handler { return api(requireUser(h)) }
	admin := func(h http.HandlerFunc) http.Handler {
		return api(requireUser(RequireRole(models.RoleAdmin)(h)))
	}

	h := cfg.Handler
	router.Handle("/api/meteo", user(h.GetMyWeather)).Methods(http.MethodGet)
	router.Handle("/api/meteo/{ville}", user(h.GetCityWeather)).Methods(http.MethodGet)
	router.Handle("/api/conseil", user(h.ListCurrentTips)).Methods(http.MethodGet)
	router.Handle("/api/conseil", admin(h.CreateTip)).Methods(http.MethodPost)
	router.Handle("/api/conseil/{mois}", user(h.ListTipsForMonth)).Methods(http.MethodGet)
	router.Handle("/api/conseil/{id}", admin(h.UpdateTip)).Methods(http.MethodPut)
	router.Handle("/api/conseil/{id}", admin(h.DeleteTip)).Methods(http.MethodDelete)
	router.Handle("/api/user", public(h.Register)).Methods(http.MethodPost)
	router.Handle("/api/login_check", public(h.Login)).Methods(http.MethodPost)
	router.Handle("/api/logout", user(h.Logout)).Methods(http.MethodPost)

	return router
}
