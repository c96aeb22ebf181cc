// Package main - Entry point for the portfolio optimization server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfolio-optimizer/api"
	"portfolio-optimizer/internal/app"
	"portfolio-optimizer/internal/config"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
)

const version = "1.0.0"

func main() {
	cfgFile := flag.String("config", "", "config file (json, yaml or toml)")
	addr := flag.String("addr", "", "server address (overrides config)")
	flag.Parse()

	if err := run(*cfgFile, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgFile, addr string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}
	config.Set(cfg)

	if err := logging.Initialize(cfg.Logging); err != nil {
		return err
	}
	defer logging.Sync()
	logger := logging.Named(nil, "server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Persist: true, Metrics: true, Logger: logging.Logger})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.PortfolioDir != "" {
		ids, err := a.Load(ctx, cfg.Server.PortfolioDir)
		switch {
		case errors.IsType(err, errors.TypeNotFound):
			logger.Warn("portfolio directory not loaded", zap.String("dir", cfg.Server.PortfolioDir), zap.Error(err))
		case err != nil:
			return err
		default:
			logger.Info("portfolios loaded", zap.Strings("portfolios", ids))
		}
	}

	srv, err := api.New(api.Options{
		Address:      cfg.Server.Address,
		Version:      version,
		Registry:     a.Registry,
		Metrics:      a.Metrics,
		Logger:       logging.Logger,
		SolveTimeout: cfg.Server.SolveTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	if err != nil {
		return err
	}

	scheduler, err := schedule(cfg, a, logger)
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// schedule registers the periodic re-optimization of every portfolio.
// It returns nil when no schedule is configured.
func schedule(cfg *config.Config, a *app.App, logger *zap.Logger) (*cron.Cron, error) {
	if cfg.Server.Schedule == "" {
		return nil, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(cfg.Server.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.SolveTimeout)
		defer cancel()

		start := time.Now()
		outcomes, err := a.Registry.OptimizeAll(ctx)
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			}
		}
		logger.Info("scheduled optimization finished",
			zap.Int("portfolios", len(outcomes)),
			zap.Int("failed", failed),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	})
	if err != nil {
		return nil, errors.Config("invalid server.schedule", err)
	}
	return c, nil
}
