// Package tips serves and maintains monthly gardening tips.
package tips

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/validation"
)

// ErrInvalidMonth is returned for a month outside 1..12.
var ErrInvalidMonth = errors.New("tips: month must be between 1 and 12")

// ValidationError reports which field of a tip was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tips: invalid %s: %s", e.Field, e.Reason)
}

// Repository is the persistence the service needs. store.TipRepository satisfies it.
type Repository interface {
	ListByMonth(ctx context.Context, month int) ([]models.Tip, error)
	Get(ctx context.Context, id int64) (models.Tip, error)
	Create(ctx context.Context, tip models.Tip) (models.Tip, error)
	Update(ctx context.Context, tip models.Tip) error
	Delete(ctx context.Context, id int64) error
}

// Patch carries the fields of an update; nil fields are left unchanged.
type Patch struct {
	Content *string `json:"content"`
	Months  *[]int  `json:"mois"`
}

// Service implements tip lookup and admin mutation.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService returns a Service reading the current month from the wall clock.
func NewService(repo Repository) *Service {
	return NewServiceWithClock(repo, time.Now)
}

// NewServiceWithClock is NewService with an injectable clock.
func NewServiceWithClock(repo Repository, now func() time.Time) *Service {
	return &Service{repo: repo, now: now}
}

// ForCurrentMonth returns the tips for the month of the service clock.
func (s *Service) ForCurrentMonth(ctx context.Context) ([]models.Tip, error) {
	return s.ForMonth(ctx, int(s.now().Month()))
}

// ForMonth returns the tips whose month set contains month. Months outside
// 1..12 fail with ErrInvalidMonth without querying the repository.
func (s *Service) ForMonth(ctx context.Context, month int) ([]models.Tip, error) {
	if !validation.ValidMonth(month) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMonth, month)
	}
	out, err := s.repo.ListByMonth(ctx, month)
	if err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Debug("tips listed", zap.Int("month", month), zap.Int("count", len(out)))
	return out, nil
}

// Create validates and stores a new tip.
func (s *Service) Create(ctx context.Context, content string, months []int) (models.Tip, error) {
	tip, err := normalize(models.Tip{Content: content, Months: months})
	if err != nil {
		return models.Tip{}, err
	}
	created, err := s.repo.Create(ctx, tip)
	if err != nil {
		return models.Tip{}, err
	}
	observability.TipMutationsTotal.WithLabelValues("create").Inc()
	observability.LoggerFromContext(ctx).Info("tip created", zap.Int64("tip_id", created.ID))
	return created, nil
}

// Update merges the provided fields into tip id, then validates the result.
func (s *Service) Update(ctx context.Context, id int64, p Patch) (models.Tip, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.Tip{}, err
	}
	if p.Content != nil {
		current.Content = *p.Content
	}
	if p.Months != nil {
		current.Months = *p.Months
	}
	tip, err := normalize(current)
	if err != nil {
		return models.Tip{}, err
	}
	if err := s.repo.Update(ctx, tip); err != nil {
		return models.Tip{}, err
	}
	observability.TipMutationsTotal.WithLabelValues("update").Inc()
	observability.LoggerFromContext(ctx).Info("tip updated", zap.Int64("tip_id", id))
	return tip, nil
}

// Delete removes tip id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	observability.TipMutationsTotal.WithLabelValues("delete").Inc()
	observability.LoggerFromContext(ctx).Info("tip deleted", zap.Int64("tip_id", id))
	return nil
}

// normalize trims content, sorts and de-duplicates months, and rejects
// blank content, an empty month set, or any month outside 1..12.
func normalize(tip models.Tip) (models.Tip, error) {
	tip.Content = strings.TrimSpace(tip.Content)
	if tip.Content == "" {
		return models.Tip{}, &ValidationError{Field: "content", Reason: "ne doit pas être vide"}
	}
	if len(tip.Months) == 0 {
		return models.Tip{}, &ValidationError{Field: "mois", Reason: "au moins un mois est requis"}
	}
	months := slices.Clone(tip.Months)
	for _, m := range months {
		if !validation.ValidMonth(m) {
			return models.Tip{}, &ValidationError{Field: "mois", Reason: fmt.Sprintf("%d n'est pas compris entre 1 et 12", m)}
		}
	}
	slices.Sort(months)
	tip.Months = slices.Compact(months)
	return tip, nil
}
