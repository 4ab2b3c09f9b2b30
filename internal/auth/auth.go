// Package auth registers accounts, issues bearer tokens and resolves them to users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/store"
	"github.com/kjstillabower/conseil-meteo-service/internal/validation"
)

// DefaultTokenTTL is how long a login token stays valid when no TTL is configured.
const DefaultTokenTTL = time.Hour

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUnauthenticated is returned by Authenticate for a missing, unknown or expired token.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
)

// UserStore is the persistence the service needs. store.UserRepository satisfies it.
type UserStore interface {
	Create(ctx context.Context, u models.User) (models.User, error)
	ByEmail(ctx context.Context, email string) (models.User, error)
	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	UserBySession(ctx context.Context, token string, now time.Time) (models.User, error)
	DeleteSession(ctx context.Context, token string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"-"`
}

// Service implements registration, login and token resolution.
type Service struct {
	users    UserStore
	tokenTTL time.Duration
	cost     int
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost sets the bcrypt work factor. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService returns a Service. tokenTTL <= 0 uses DefaultTokenTTL.
func NewService(users UserStore, tokenTTL time.Duration, opts ...Option) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	s := &Service{users: users, tokenTTL: tokenTTL, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a ROLE_USER account.
func (s *Service) Register(ctx context.Context, email, password, city string) (models.User, error) {
	return s.CreateAccount(ctx, email, password, city, []string{models.RoleUser})
}

// CreateAccount validates the input, hashes the password and stores a user with roles.
// Errors match validation.ErrEmailInvalid, validation.ErrPasswordEmpty,
// a city validation error, or store.ErrDuplicateEmail.
func (s *Service) CreateAccount(ctx context.Context, email, password, city string, roles []string) (models.User, error) {
	normalized, err := validation.NormalizeEmail(email)
	if err != nil {
		return models.User{}, err
	}
	if err := validation.RequirePassword(password); err != nil {
		return models.User{}, err
	}
	city = strings.TrimSpace(city)
	if city != "" {
		if city, err = validation.ValidateCity(city, validation.CityMinLen, validation.CityMaxLen); err != nil {
			return models.User{}, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	u, err := s.users.Create(ctx, models.User{
		Email:        normalized,
		PasswordHash: string(hash),
		City:         city,
		Roles:        roles,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return models.User{}, err
	}
	observability.LoggerFromContext(ctx).Info("user registered", zap.Int64("user_id", u.ID), zap.Strings("roles", roles))
	return u, nil
}

// Login checks the credentials and issues a token valid for the configured TTL.
func (s *Service) Login(ctx context.Context, email, password string) (Token, error) {
	logger := observability.LoggerFromContext(ctx)
	normalized, err := validation.NormalizeEmail(email)
	if err != nil || password == "" {
		observability.AuthFailuresTotal.WithLabelValues("invalid_credentials").Inc()
		return Token{}, ErrInvalidCredentials
	}
	u, err := s.users.ByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			observability.AuthFailuresTotal.WithLabelValues("invalid_credentials").Inc()
			logger.Debug("login for unknown email")
			return Token{}, ErrInvalidCredentials
		}
		return Token{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		observability.AuthFailuresTotal.WithLabelValues("invalid_credentials").Inc()
		logger.Debug("login with wrong password", zap.Int64("user_id", u.ID))
		return Token{}, ErrInvalidCredentials
	}

	tok := Token{Value: uuid.NewString(), ExpiresAt: s.now().Add(s.tokenTTL)}
	if err := s.users.CreateSession(ctx, tok.Value, u.ID, tok.ExpiresAt); err != nil {
		return Token{}, err
	}
	logger.Info("user logged in", zap.Int64("user_id", u.ID))
	return tok, nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.User{}, ErrUnauthenticated
	}
	u, err := s.users.UserBySession(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			observability.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
			return models.User{}, ErrUnauthenticated
		}
		return models.User{}, err
	}
	return u, nil
}

// Logout revokes token. Revoking an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthenticated
	}
	if err := s.users.DeleteSession(ctx, token); err != nil {
		return err
	}
	observability.LoggerFromContext(ctx).Info("user logged out")
	return nil
}

// PurgeExpired removes sessions whose expiry has passed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.users.PurgeExpiredSessions(ctx, s.now())
}
