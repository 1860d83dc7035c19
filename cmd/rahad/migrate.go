package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"raha.health/internal/migrate"
	"raha.health/internal/obs"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|seed|status]",
		Short:     "Apply the profiles table migrations to Postgres",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "seed", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Profiles.DSN == "" {
				return errors.New("missing DSN: provide --profiles-dsn or RAHA_PROFILES_DSN")
			}
			db, err := sql.Open("pgx", cfg.Profiles.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runMigrate(ctx, cmd, migrate.Profiles(db, migrate.WithLogger(obs.Logger())), args[0])
		},
	}
	cmd.Flags().String("profiles-dsn", "", "Postgres DSN for the profiles table")
	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, action string) error {
	var err error
	switch action {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		err = printStatus(ctx, cmd, mgr)
	default:
		return fmt.Errorf("unknown command %q", action)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}
	return nil
}

func printStatus(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager) error {
	applied, err := mgr.Status(ctx)
	if err != nil {
		return err
	}
	pending, err := mgr.Pending(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range applied {
		fmt.Fprintf(out, "%s\tapplied %s\n", r.Name, r.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, name := range pending {
		fmt.Fprintf(out, "%s\tpending\n", name)
	}
	return nil
}
