package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
	"github.com/kjstillabower/conseil-meteo-service/internal/store"
)

var (
	dbFlag  string
	rootCmd = &cobra.Command{
		Use:   "fixtures",
		Short: "Development data for the conseil-meteo database",
	}
)

func defaultDBPath() string {
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		return p
	}
	return filepath.Join("var", "conseil.db")
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&dbFlag, "db", "d", defaultDBPath(), "SQLite database file")

	var opts seedOptions
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo accounts and 20 gardening tips",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := store.Open(ctx, dbFlag)
			if err != nil {
				return err
			}
			defer db.Close()

			if !cmd.Flags().Changed("seed") {
				opts.RandSeed = uint64(time.Now().UnixNano())
			}
			res, err := seed(ctx, db, opts, logger)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded %s: %d users, %d tips (seed %d)\n", dbFlag, res.Users, res.Tips, opts.RandSeed)
			return nil
		},
	}
	seedCmd.Flags().BoolVarP(&opts.Reset, "reset", "r", false, "Delete all tips, users and sessions first")
	seedCmd.Flags().Uint64VarP(&opts.RandSeed, "seed", "s", 0, "Random seed for tip months (default: time based)")
	rootCmd.AddCommand(seedCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
