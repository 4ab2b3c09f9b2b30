package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
)

// TipRepository reads and writes the tips table. Months are stored as a JSON array.
type TipRepository struct {
	db *sql.DB
}

// NewTipRepository wraps an open database.
func NewTipRepository(db *sql.DB) *TipRepository {
	return &TipRepository{db: db}
}

// ListByMonth returns the tips whose month set contains month, ordered by id.
func (r *TipRepository) ListByMonth(ctx context.Context, month int) ([]models.Tip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.content, t.months FROM tips t
		WHERE EXISTS (SELECT 1 FROM json_each(t.months) m WHERE m.value = ?)
		ORDER BY t.id`, month)
	if err != nil {
		return nil, fmt.Errorf("store: list tips for month %d: %w", month, err)
	}
	defer rows.Close()

	out := make([]models.Tip, 0)
	for rows.Next() {
		tip, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list tips: %w", err)
	}
	return out, nil
}

// Get returns the tip with the given id or ErrNotFound.
func (r *TipRepository) Get(ctx context.Context, id int64) (models.Tip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, content, months FROM tips WHERE id = ?`, id)
	tip, err := scanTip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tip{}, fmt.Errorf("tip %d: %w", id, ErrNotFound)
	}
	return tip, err
}

// Create inserts tip and returns it with its assigned id.
func (r *TipRepository) Create(ctx context.Context, tip models.Tip) (models.Tip, error) {
	months, err := json.Marshal(tip.Months)
	if err != nil {
		return models.Tip{}, fmt.Errorf("store: encode months: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO tips(content, months) VALUES(?, ?)`, tip.Content, string(months))
	if err != nil {
		return models.Tip{}, fmt.Errorf("store: insert tip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Tip{}, fmt.Errorf("store: insert tip: %w", err)
	}
	tip.ID = id
	return tip, nil
}

// Update replaces content and months of an existing tip.
func (r *TipRepository) Update(ctx context.Context, tip models.Tip) error {
	months, err := json.Marshal(tip.Months)
	if err != nil {
		return fmt.Errorf("store: encode months: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE tips SET content = ?, months = ? WHERE id = ?`, tip.Content, string(months), tip.ID)
	if err != nil {
		return fmt.Errorf("store: update tip %d: %w", tip.ID, err)
	}
	return requireAffected(res, fmt.Sprintf("tip %d", tip.ID))
}

// Delete removes the tip with the given id.
func (r *TipRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tips WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete tip %d: %w", id, err)
	}
	return requireAffected(res, fmt.Sprintf("tip %d", id))
}

// Reset removes every tip and restarts id assignment.
func (r *TipRepository) Reset(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tips`); err != nil {
		return fmt.Errorf("store: reset tips: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'tips'`); err != nil {
		return fmt.Errorf("store: reset tip ids: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTip(s scanner) (models.Tip, error) {
	var (
		tip    models.Tip
		months string
	)
	if err := s.Scan(&tip.ID, &tip.Content, &months); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Tip{}, err
		}
		return models.Tip{}, fmt.Errorf("store: scan tip: %w", err)
	}
	if err := json.Unmarshal([]byte(months), &tip.Months); err != nil {
		return models.Tip{}, fmt.Errorf("store: decode months of tip %d: %w", tip.ID, err)
	}
	if tip.Months == nil {
		tip.Months = []int{}
	}
	return tip, nil
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
