package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
)

// UserRepository reads and writes users and their bearer sessions.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository wraps an open database.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts u and returns it with ID set. The email must already be normalized.
func (r *UserRepository) Create(ctx context.Context, u models.User) (models.User, error) {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return models.User{}, fmt.Errorf("store: encode roles: %w", err)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users(email, password_hash, city, roles, created_at) VALUES(?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.City, string(roles), u.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("%s: %w", u.Email, ErrDuplicateEmail)
		}
		return models.User{}, fmt.Errorf("store: insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("store: insert user: %w", err)
	}
	u.ID = id
	return u, nil
}

// ByEmail looks a user up by normalized email.
func (r *UserRepository) ByEmail(ctx context.Context, email string) (models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, err
}

// CreateSession stores a bearer token for userID valid until expiresAt.
func (r *UserRepository) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions(token, user_id, expires_at) VALUES(?, ?, ?)`,
		token, userID, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// UserBySession returns the owner of token when the session has not expired at now.
func (r *UserRepository) UserBySession(ctx context.Context, token string, now time.Time) (models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.city, u.roles, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token = ? AND s.expires_at > ?`, token, now.Unix())
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("session: %w", ErrNotFound)
	}
	return u, err
}

// DeleteSession removes a single token. Unknown tokens are not an error.
func (r *UserRepository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions that expired at or before now.
func (r *UserRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// Reset removes every user and session and restarts id assignment.
func (r *UserRepository) Reset(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM sessions`,
		`DELETE FROM users`,
		`DELETE FROM sqlite_sequence WHERE name = 'users'`,
	} {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: reset users: %w", err)
		}
	}
	return nil
}

const userColumns = `id, email, password_hash, city, roles, created_at`

func scanUser(s scanner) (models.User, error) {
	var (
		u       models.User
		roles   string
		created int64
	)
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.City, &roles, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, err
		}
		return models.User{}, fmt.Errorf("store: scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return models.User{}, fmt.Errorf("store: decode roles of user %d: %w", u.ID, err)
	}
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}
