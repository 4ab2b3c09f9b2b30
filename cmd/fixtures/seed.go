package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/auth"
	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/store"
	"github.com/kjstillabower/conseil-meteo-service/internal/tips"
)

const tipCount = 20

type seedOptions struct {
	Reset    bool
	RandSeed uint64
}

type seedResult struct {
	Users int
	Tips  int
}

type fixtureAccount struct {
	email, password, city string
	roles                 []string
}

var accounts = []fixtureAccount{
	{"user@test.com", "123", "paris", []string{models.RoleUser}},
	{"admin@test.com", "123", "marseille", []string{models.RoleAdmin}},
}

// seed inserts the demo accounts and tips. Accounts that already exist are skipped.
func seed(ctx context.Context, db *sql.DB, opts seedOptions, logger *zap.Logger) (seedResult, error) {
	ctx = observability.WithLogger(ctx, logger)
	users := store.NewUserRepository(db)
	tipRepo := store.NewTipRepository(db)

	if opts.Reset {
		if err := tipRepo.Reset(ctx); err != nil {
			return seedResult{}, err
		}
		if err := users.Reset(ctx); err != nil {
			return seedResult{}, err
		}
		logger.Info("database reset")
	}

	var res seedResult
	authSvc := auth.NewService(users, auth.DefaultTokenTTL)
	for _, a := range accounts {
		_, err := authSvc.CreateAccount(ctx, a.email, a.password, a.city, a.roles)
		if errors.Is(err, store.ErrDuplicateEmail) {
			logger.Info("account exists, skipped", zap.String("email", a.email))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("create %s: %w", a.email, err)
		}
		res.Users++
	}

	rng := rand.New(rand.NewPCG(opts.RandSeed, opts.RandSeed))
	tipSvc := tips.NewService(tipRepo)
	for i := 1; i <= tipCount; i++ {
		content := fmt.Sprintf("Conseil numéro %d : Pensez à arroser vos plantes régulièrement.", i)
		if _, err := tipSvc.Create(ctx, content, randomMonths(rng)); err != nil {
			return res, fmt.Errorf("create tip %d: %w", i, err)
		}
		res.Tips++
	}
	return res, nil
}

// randomMonths draws two months in 1..12 and drops the duplicate, so a tip lands on a
// single month about one time in twelve.
func randomMonths(rng *rand.Rand) []int {
	first, second := rng.IntN(12)+1, rng.IntN(12)+1
	if first == second {
		return []int{first}
	}
	return []int{first, second}
}
