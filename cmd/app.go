package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/jeeves-cluster-organization/lgorch/coreengine/config"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/logging"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/observability"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/repocontext"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/runtime"
	"github.com/jeeves-cluster-organization/lgorch/coreengine/store"
)

// app holds the resources built from configuration for one command.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *store.SQLiteStore

	shutdownTracer func(context.Context) error
}

// bootstrap resolves the repo root, loads .env and configuration and
// builds the logger. Every failure is a configuration error.
func bootstrap(ctx context.Context, opts *globalOptions, stderr io.Writer) (*app, error) {
	root, err := config.ResolveRepoRoot(opts.repoRoot)
	if err != nil {
		return nil, configError(err)
	}

	if err := loadDotEnv(root); err != nil {
		return nil, configError(err)
	}

	// Until the config is read, the level comes from the environment only.
	early, err := logging.New(logging.Config{Level: os.Getenv(config.EnvPrefix + "LOG_LEVEL"), Output: stderr})
	if err != nil {
		return nil, configError(err)
	}

	profile := config.ResolveProfile(opts.profile)
	cfg, err := config.Load(root, profile)
	if err != nil {
		early.Error("config_load_failed", "error", err.Error(), "repo_root", root, "profile", profile)
		return nil, configError(err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Output: stderr,
		Fields: map[string]string{"profile": cfg.Profile},
	})
	if err != nil {
		return nil, configError(err)
	}

	shutdown, err := observability.InitTracer(ctx, "lgorch", cfg.Trace.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer_init_failed", "error", err.Error())
		shutdown = func(context.Context) error { return nil }
	}

	a := &app{cfg: cfg, logger: logger, shutdownTracer: shutdown}
	if cfg.Store.Enabled {
		st, err := openStore(ctx, cfg)
		if err != nil {
			logger.Warn("store_open_failed", "error", err.Error())
		} else {
			a.store = st
		}
	}
	return a, nil
}

// loadDotEnv loads <root>/.env without overriding existing variables.
func loadDotEnv(root string) error {
	path := filepath.Join(root, ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Store.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.RepoRoot, path)
	}
	st, err := store.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// controller wires the default pipeline, recording runs when a store is open.
func (a *app) controller() (*runtime.Controller, error) {
	c, err := runtime.New(a.cfg, repocontext.New(a.logger), a.logger)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		c.Persistence = a.store
	}
	return c, nil
}

// close releases resources. Errors are logged only.
func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store_close_failed", "error", err.Error())
		}
	}
	if err := a.shutdownTracer(ctx); err != nil {
		a.logger.Warn("tracer_shutdown_failed", "error", err.Error())
	}
	_ = a.logger.Sync()
}
