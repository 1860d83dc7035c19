package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"raha.health/internal/admin"
	"raha.health/internal/analytics"
	"raha.health/internal/audit"
	"raha.health/internal/auth"
	"raha.health/internal/auth/gotrue"
	"raha.health/internal/config"
	"raha.health/internal/httpapi"
	"raha.health/internal/kv"
	"raha.health/internal/notes"
	"raha.health/internal/obs"
	"raha.health/internal/profile"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the loopback HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8765)")
	cmd.Flags().String("storage-driver", "", "device storage: sqlite or memory")
	cmd.Flags().String("storage-path", "", "sqlite database path")
	cmd.Flags().String("auth-url", "", "GoTrue base URL; empty runs offline")
	cmd.Flags().String("profiles-dsn", "", "Postgres DSN for the profiles table; empty keeps profiles in memory")
	return cmd
}

// daemon owns everything serve opens so it can be closed in reverse order.
type daemon struct {
	closers []io.Closer
	dbs     []*sql.DB
}

func (d *daemon) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			obs.Logger().Warn("close failed", zap.Error(err))
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openSubstrate(cfg config.Config, d *daemon) (kv.Store, error) {
	if cfg.Storage.Driver == "memory" {
		var opts []kv.MemoryOption
		if cfg.Storage.QuotaBytes > 0 {
			opts = append(opts, kv.WithQuota(cfg.Storage.QuotaBytes))
		}
		return kv.NewMemory(opts...), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	store, err := kv.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, store)
	d.dbs = append(d.dbs, store.DB())
	return store, nil
}

func openProfiles(cfg config.Config, d *daemon) (profile.Gateway, error) {
	if cfg.Profiles.DSN == "" {
		return profile.NewMemory(), nil
	}
	store, err := profile.Open(cfg.Profiles.DSN)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, store)
	d.dbs = append(d.dbs, store.DB())
	return store, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	d := &daemon{}
	defer d.Close()

	substrate, err := openSubstrate(cfg, d)
	if err != nil {
		return err
	}
	profiles, err := openProfiles(cfg, d)
	if err != nil {
		return err
	}

	noteStore := notes.NewStore(substrate)
	agg := analytics.New(substrate)
	auditLog := audit.NewLog(substrate)
	facade := admin.New(substrate, noteStore, agg, auditLog,
		admin.WithProfiles(profiles),
		admin.WithNotesLimit(cfg.Admin.NotesLimit),
		admin.WithLogger(log.Named("admin")),
	)

	var manager *auth.Manager
	if !cfg.Offline() {
		client, err := gotrue.New(cfg.Auth.URL, cfg.Auth.AnonKey, substrate,
			gotrue.WithJWTSecret(cfg.Auth.JWTSecret),
			gotrue.WithSignInRate(cfg.Auth.SignInPerMinute),
		)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, closerFunc(func() error { client.Close(); return nil }))

		manager = auth.NewManager(client,
			auth.WithProfiles(profiles),
			auth.WithRedirectBase(cfg.Auth.RedirectBase),
			auth.WithLogger(log.Named("session")),
		)
		d.closers = append(d.closers, closerFunc(func() error { manager.Close(); return nil }))

		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := manager.Initialize(initCtx); err != nil {
			log.Warn("session restore failed; starting signed out", zap.Error(err))
		}
		cancel()
	} else {
		log.Info("no auth gateway configured; session routes disabled")
	}

	facade.LogServiceEvent(ctx, cfg.Admin.OrganizationID, "rahad")

	api := httpapi.New(httpapi.Deps{
		Session:        manager,
		Notes:          noteStore,
		Analytics:      agg,
		Admin:          facade,
		Ready:          httpapi.ReadyProbe{DBs: d.dbs},
		OrganizationID: cfg.Admin.OrganizationID,
		Version:        version,
		Commit:         commit,
	},
		httpapi.WithRateLimit(cfg.HTTP.Burst, cfg.HTTP.RatePerSecond),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)

	// WriteTimeout stays zero so the session event stream is not cut off.
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("rahad listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("online", manager != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}
