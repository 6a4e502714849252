package app

import (
	"context"
	"fmt"

	"github.com/vadiminshakov/equitydash/config"
	"github.com/vadiminshakov/equitydash/internal/services/accounts"
	"github.com/vadiminshakov/equitydash/internal/services/ingest"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
	"github.com/vadiminshakov/equitydash/internal/storage/memory"
	"github.com/vadiminshakov/equitydash/internal/storage/postgres"
	"go.uber.org/zap"
)

// Store everything the services need from persistence.
type Store interface {
	reporting.Store
	ingest.Store
	accounts.Store
	Ping(ctx context.Context) error
	Close() error
}

// OpenStore dispatches on the configured driver.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		s, err := memory.New(cfg.Location, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		logger.Info("memory store ready", zap.String("path", cfg.Store.Path))
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, postgres.Config{
			DSN:            cfg.Store.DSN,
			ConnectTimeout: cfg.Store.ConnectTimeout,
			MaxOpenConns:   cfg.Store.MaxOpenConns,
			IdleTimeout:    cfg.Store.IdleTimeout,
			ConnectRetries: cfg.Store.ConnectRetries,
		}, cfg.Location, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
