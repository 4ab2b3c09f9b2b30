package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/auth"
	"github.com/kjstillabower/conseil-meteo-service/internal/client"
	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/tips"
	"github.com/kjstillabower/conseil-meteo-service/internal/traffic"
	"github.com/kjstillabower/conseil-meteo-service/internal/validation"
)

// WeatherLookup is the weather side of the API. *service.WeatherService satisfies it.
type WeatherLookup interface {
	WeatherForCity(ctx context.Context, city string) (models.WeatherReading, error)
	WeatherForUser(ctx context.Context, user models.User) (models.WeatherReading, error)
}

// TipService is the tip side of the API. *tips.Service satisfies it.
type TipService interface {
	ForCurrentMonth(ctx context.Context) ([]models.Tip, error)
	ForMonth(ctx context.Context, month int) ([]models.Tip, error)
	Create(ctx context.Context, content string, months []int) (models.Tip, error)
	Update(ctx context.Context, id int64, p tips.Patch) (models.Tip, error)
	Delete(ctx context.Context, id int64) error
}

// Accounts registers users, issues tokens and revokes them. *auth.Service satisfies it.
type Accounts interface {
	Register(ctx context.Context, email, password, city string) (models.User, error)
	Login(ctx context.Context, email, password string) (auth.Token, error)
	Logout(ctx context.Context, token string) error
}

// Handler holds dependencies for the /api handlers.
type Handler struct {
	weather  WeatherLookup
	tips     TipService
	accounts Accounts
	traffic  *traffic.Tracker
}

// NewHandler returns a new Handler. tracker may be nil.
func NewHandler(weather WeatherLookup, tipSvc TipService, accounts Accounts, tracker *traffic.Tracker) *Handler {
	return &Handler{
		weather:  weather,
		tips:     tipSvc,
		accounts: accounts,
		traffic:  tracker,
	}
}

// GetMyWeather handles GET /api/meteo: weather for the caller's registered city.
func (h *Handler) GetMyWeather(w http.ResponseWriter, r *http.Request) {
	u, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", msgUnauthorized)
		return
	}
	reading, err := h.weather.WeatherForUser(r.Context(), u)
	h.recordLookup(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// GetCityWeather handles GET /api/meteo/{ville}.
func (h *Handler) GetCityWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["ville"], validation.CityMinLen, validation.CityMaxLen)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	reading, err := h.weather.WeatherForCity(r.Context(), city)
	h.recordLookup(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// recordLookup feeds the health error rate. An unknown city means the upstream
// answered, so it counts as a success; failures that never reached the upstream
// are not counted.
func (h *Handler) recordLookup(err error) {
	if h.traffic == nil {
		return
	}
	if err == nil {
		h.traffic.RecordSuccess()
		return
	}
	switch client.CategorizeError(err) {
	case client.ErrorCategoryCityNotFound:
		h.traffic.RecordSuccess()
	case client.ErrorCategoryUnknown:
	default:
		h.traffic.RecordError()
	}
}

// ListCurrentTips handles GET /api/conseil.
func (h *Handler) ListCurrentTips(w http.ResponseWriter, r *http.Request) {
	out, err := h.tips.ForCurrentMonth(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTipsForMonth handles GET /api/conseil/{mois}.
func (h *Handler) ListTipsForMonth(w http.ResponseWriter, r *http.Request) {
	month, err := validation.ParseMonth(mux.Vars(r)["mois"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out, err := h.tips.ForMonth(r.Context(), month)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type tipRequest struct {
	Content string `json:"content"`
	Months  []int  `json:"mois"`
}

// CreateTip handles POST /api/conseil.
func (h *Handler) CreateTip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	tip, err := h.tips.Create(r.Context(), req.Content, req.Months)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tip)
}

// UpdateTip handles PUT /api/conseil/{id}. Only the provided fields change.
func (h *Handler) UpdateTip(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var patch tips.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := h.tips.Update(r.Context(), id, patch); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTip handles DELETE /api/conseil/{id}.
func (h *Handler) DeleteTip(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ParseID(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := h.tips.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	City     string `json:"ville"`
}

// Register handles POST /api/user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := h.accounts.Register(r.Context(), req.Email, req.Password, req.City)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/login_check.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	tok, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.LoggerFromContext(r.Context()).Debug("token issued", zap.Time("expires_at", tok.ExpiresAt))
	writeJSON(w, http.StatusOK, tok)
}

// Logout handles POST /api/logout. The caller's token stops authenticating immediately.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), bearerToken(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
