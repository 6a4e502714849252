package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vadiminshakov/equitydash/config"
	"github.com/vadiminshakov/equitydash/internal/app"
	"github.com/vadiminshakov/equitydash/internal/setup"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := app.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to start", zap.Error(err))
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("close", zap.Error(err))
			}
		}()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return a.Run(gctx)
		})
		err = g.Wait()
		logger.Info("shut down", zap.Error(err))
		return err
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive wizard writing " + config.GeneratedPath,
	RunE: func(*cobra.Command, []string) error {
		return setup.RunTUI(config.GeneratedPath)
	},
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Log.Level = "warn"
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
