// Command rahad runs the Raha device daemon: the local note store, analytics,
// audit log and admin facade behind a loopback HTTP API, plus profile-table
// migrations for the remote Postgres.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"raha.health/internal/config"
	"raha.health/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rahad",
		Short:         "Raha local-first device daemon",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default ./raha.yaml or <user config dir>/raha/raha.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

// loadConfig resolves configuration for cmd and applies the log level.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return config.Config{}, err
	}
	if err := obs.ConfigureLevel(cfg.Log.Level); err != nil {
		return config.Config{}, fmt.Errorf("log level %q: %w", cfg.Log.Level, err)
	}
	if cfg.File != "" {
		obs.Logger().Debug("config loaded", zap.String("file", cfg.File))
	}
	return cfg, nil
}
