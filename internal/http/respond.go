package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/auth"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/service"
	"github.com/kjstillabower/conseil-meteo-service/internal/store"
	"github.com/kjstillabower/conseil-meteo-service/internal/tips"
	"github.com/kjstillabower/conseil-meteo-service/internal/validation"
)

// Client-facing messages.
const (
	msgCityNotFound   = "Ville inconnue ou requête invalide"
	msgForbidden      = "Vous n'avez pas les droits suffisants"
	msgUnauthorized   = "Authentification requise"
	msgBadCredentials = "Identifiants invalides."
	msgPasswordEmpty  = "Le mot de passe est obligatoire."
	msgEmailInvalid   = "Adresse email invalide."
	msgEmailTaken     = "Cet email est déjà utilisé."
	msgCityInvalid    = "Nom de ville invalide"
	msgMonthInvalid   = "Le mois doit être un entier entre 1 et 12"
	msgTipNotFound    = "Conseil introuvable"
	msgInvalidID      = "Identifiant invalide"
	msgInvalidBody    = "Corps de requête JSON invalide"
	msgRateLimited    = "Trop de requêtes"
	msgInternal       = "Erreur interne du serveur"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// errorBody is the shape of every error response.
type errorBody struct {
	Error     string `json:"erreur"`
	Code      string `json:"code"`
	RequestID string `json:"requestId"`
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error body with the request's correlation id.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:     message,
		Code:      code,
		RequestID: observability.CorrelationID(r.Context()),
	})
}

// writeServiceError maps a domain error to a status and body. Upstream and
// storage detail is logged at debug, never returned to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	logger := observability.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.String("code", code), zap.Error(err))
	}
	writeError(w, r, status, code, msg)
}

func classify(err error) (status int, code, message string) {
	var verr *tips.ValidationError
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "CITY_NOT_FOUND", msgCityNotFound
	case errors.Is(err, tips.ErrInvalidMonth),
		errors.Is(err, validation.ErrMonthNotInteger),
		errors.Is(err, validation.ErrMonthOutOfRange):
		return http.StatusBadRequest, "INVALID_MONTH", msgMonthInvalid
	case errors.As(err, &verr):
		return http.StatusBadRequest, "INVALID_TIP", fmt.Sprintf("Champ %s invalide : %s", verr.Field, verr.Reason)
	case errors.Is(err, validation.ErrInvalidID):
		return http.StatusBadRequest, "INVALID_ID", msgInvalidID
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "TIP_NOT_FOUND", msgTipNotFound
	case errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict, "EMAIL_TAKEN", msgEmailTaken
	case errors.Is(err, validation.ErrPasswordEmpty):
		return http.StatusBadRequest, "PASSWORD_REQUIRED", msgPasswordEmpty
	case errors.Is(err, validation.ErrEmailInvalid):
		return http.StatusBadRequest, "INVALID_EMAIL", msgEmailInvalid
	case isCityError(err):
		return http.StatusBadRequest, "INVALID_CITY", msgCityInvalid
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", msgBadCredentials
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED", msgUnauthorized
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, "INVALID_BODY", msgInvalidBody
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", msgInternal
	default:
		return http.StatusInternalServerError, "INTERNAL", msgInternal
	}
}

func isCityError(err error) bool {
	return errors.Is(err, validation.ErrCityEmpty) ||
		errors.Is(err, validation.ErrCityTooShort) ||
		errors.Is(err, validation.ErrCityTooLong) ||
		errors.Is(err, validation.ErrCityInvalidChars)
}

var errInvalidBody = errors.New("invalid request body")

// decodeJSON reads a single JSON object into v. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errInvalidBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errInvalidBody)
	}
	return nil
}
