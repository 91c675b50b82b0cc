package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Haniehz1/mcp-server-test-script/internal/server"
)

type options struct {
	configPath string
	listen     string
	seedUser   bool
	username   string
	password   string
	role       string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to server config YAML/JSON")
	flag.StringVar(&opts.listen, "listen", "", "Optional listen address override")
	flag.BoolVar(&opts.seedUser, "seed-user", false, "Create/update user and exit")
	flag.StringVar(&opts.username, "username", "", "Username for seed-user")
	flag.StringVar(&opts.password, "password", "", "Password for seed-user")
	flag.StringVar(&opts.role, "role", "admin", "Role for seed-user (admin|viewer)")
	flag.Parse()

	if err := run(opts); err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := server.LoadServerConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	if opts.seedUser {
		return seedUser(ctx, pool, opts)
	}

	obs, err := server.SetupObservability(ctx, cfg.Observer)
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	auth := server.NewAuth(pool, cfg)
	runner, err := server.NewRunManager(cfg, store, obs)
	if err != nil {
		return fmt.Errorf("init run manager: %w", err)
	}
	defer runner.Shutdown()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewAPI(auth, store, runner, obs).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	storeKind := "memory"
	if pool != nil {
		storeKind = "postgres"
	}
	slog.Info("check API listening",
		"listen", cfg.ListenAddr,
		"store", storeKind,
		"gateway", cfg.Gateway.BaseURL,
	)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore picks Postgres when a DSN is configured, the file-backed
// memory store otherwise. The returned pool is nil in memory mode.
func openStore(ctx context.Context, cfg server.ServerConfig) (server.Store, *pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		store, err := server.NewMemoryFileStore(cfg.Database.SnapshotPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot store: %w", err)
		}
		return store, nil, nil
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := server.RunMigrations(ctx, pool, cfg.Database.MigrationsPath); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return server.NewPgStore(pool), pool, nil
}

func seedUser(ctx context.Context, pool *pgxpool.Pool, opts options) error {
	if pool == nil {
		return errors.New("seed-user requires a database DSN")
	}
	if opts.username == "" || opts.password == "" {
		return errors.New("seed-user requires -username and -password")
	}
	if err := server.SeedUser(ctx, pool, opts.username, opts.password, opts.role); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	slog.Info("user seeded", "username", opts.username, "role", opts.role)
	return nil
}
