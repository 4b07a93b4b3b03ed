// Package setup wires a lifecycle manager from resolved configuration. It
// is shared by the CLI and the worker binary.
package setup

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/attachkit/attachkit/internal/backend"
	"github.com/attachkit/attachkit/internal/config"
	"github.com/attachkit/attachkit/internal/datastore"
	"github.com/attachkit/attachkit/internal/imaging"
	"github.com/attachkit/attachkit/internal/lifecycle"
)

// Manager resolves the configured engine, backend and datastore and
// returns a ready lifecycle manager plus a cleanup function.
func Manager(ctx context.Context, cfg *config.Config, hooks datastore.Hooks, logger *log.Logger) (*lifecycle.Manager, func(), error) {
	fs := afero.NewOsFs()

	engine, err := imaging.Select(cfg.Engine, cfg.EngineOrder, fs, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("select image engine: %w", err)
	}
	logger.Debug("image engine selected", "engine", engine.Name())

	store, err := backend.New(ctx, cfg.BackendKind, cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var ds datastore.Datastore
	switch cfg.DatastoreKind {
	case "memory":
		ds = datastore.NewMemory()
	case "pg":
		pool, err := datastore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pg, err := datastore.NewPG(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		ds = pg
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown datastore kind %q", cfg.DatastoreKind)
	}

	return lifecycle.New(cfg, fs, ds, store, engine, hooks, logger), cleanup, nil
}
