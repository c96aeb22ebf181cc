// Package app wires configuration into a running engine.
// Both the CLI and the server build their pipeline here.
package app

import (
	"context"
	"os"

	"go.uber.org/zap"

	"portfolio-optimizer/adapters/feed"
	"portfolio-optimizer/adapters/storage"
	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/core/history"
	"portfolio-optimizer/core/normalize"
	"portfolio-optimizer/core/optimizer"
	"portfolio-optimizer/core/risk"
	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
	"portfolio-optimizer/internal/metrics"
)

// Options select optional parts of the pipeline
type Options struct {
	// Persist opens the configured store, restores its history and
	// writes every new recommendation through to it
	Persist bool

	// Metrics registers a Prometheus observer
	Metrics bool

	Logger *zap.Logger
}

// App is an assembled pipeline
type App struct {
	Config   *config.Config
	Registry *engine.Registry
	History  *history.Log
	Store    *storage.Store
	Metrics  *metrics.Registry
	Feed     *feed.Registry
	Scorer   *risk.Scorer

	normalizer *normalize.Normalizer
	logger     *zap.Logger
}

// New builds the pipeline described by cfg
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)

	scorer, err := risk.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(cfg.Optimizer, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Feed:       feed.DefaultRegistry(),
		Scorer:     scorer,
		normalizer: normalize.New(cfg.NormalizeOptions(), logger),
		logger:     logger,
	}

	logOpts := []history.Option{history.WithLogger(logger)}
	if opts.Persist && cfg.Storage.Driver != "" {
		store, err := storage.Open(ctx, storage.DefaultConfig(storage.Backend(cfg.Storage.Driver), cfg.Storage.DSN), logger)
		if err != nil {
			return nil, err
		}
		a.Store = store
		logOpts = append(logOpts, history.WithSink(store))
	}
	a.History = history.NewLog(logOpts...)

	if a.Store != nil {
		if _, err := a.Store.RestoreInto(ctx, a.History); err != nil {
			a.Store.Close()
			return nil, err
		}
		if bad := a.History.VerifyIntegrity(); len(bad) > 0 {
			logger.Warn("stored history failed integrity check", zap.Strings("records", bad))
		}
	}

	comps := engine.Components{
		Normalizer: a.normalizer,
		Scorer:     scorer,
		Optimizer:  opt,
		History:    a.History,
		Logger:     logger,
	}
	if opts.Metrics {
		a.Metrics = metrics.New()
		comps.Observer = a.Metrics
	}

	a.Registry, err = engine.NewRegistry(cfg.Engine, comps)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Load reads portfolio files or directories into the registry and returns
// the IDs loaded, in load order
func (a *App) Load(ctx context.Context, paths ...string) ([]string, error) {
	var ids []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return ids, errors.Wrap(errors.TypeNotFound, "path does not exist: "+path, err)
		}

		var portfolios []*types.Portfolio
		if info.IsDir() {
			portfolios, err = a.Feed.LoadDir(ctx, path)
		} else {
			var p *types.Portfolio
			p, err = a.Feed.LoadFile(ctx, path)
			portfolios = append(portfolios, p)
		}
		if err != nil {
			return ids, err
		}

		for _, p := range portfolios {
			if _, err := a.Registry.Load(p); err != nil {
				return ids, err
			}
			ids = append(ids, p.ID)
			a.logger.Debug("portfolio loaded",
				zap.String("portfolio", p.ID),
				zap.Int("projects", len(p.Projects)),
				zap.String("source", path))
		}
	}
	return ids, nil
}

// Normalizer returns the shared normalizer
func (a *App) Normalizer() *normalize.Normalizer {
	return a.normalizer
}

// Close releases the store
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
