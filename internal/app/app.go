// Package app assembles the store, services and HTTP server from config.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vadiminshakov/equitydash/config"
	"github.com/vadiminshakov/equitydash/internal/events"
	"github.com/vadiminshakov/equitydash/internal/metrics"
	"github.com/vadiminshakov/equitydash/internal/services/accounts"
	"github.com/vadiminshakov/equitydash/internal/services/ingest"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
	"github.com/vadiminshakov/equitydash/internal/storage/snapshotfeed"
	"github.com/vadiminshakov/equitydash/internal/web"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const feedBuffer = 64

// App wired service graph.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Store    Store
	Feed     *snapshotfeed.WALStore
	Events   *events.Broadcaster
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Reports  *reporting.Service
	Ingest   *ingest.Service
	Accounts *accounts.Service
	Server   *web.Server
}

// New opens the store and the feed and builds every service on top.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		Store:    store,
		Events:   events.NewBroadcaster(feedBuffer),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	if cfg.Feed.Dir != "" {
		a.Feed, err = snapshotfeed.NewWALStore(cfg.Feed.Dir)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open account feed: %w", err)
		}
	} else {
		logger.Info("account feed disabled")
	}

	a.Reports = reporting.NewService(store, logger,
		reporting.WithLocation(cfg.Location),
		reporting.WithDivergenceThreshold(cfg.DivergenceThreshold),
		reporting.WithMetrics(a.Metrics),
	)

	ingestOpts := []ingest.Option{
		ingest.WithLocation(cfg.Location),
		ingest.WithDivergenceThreshold(cfg.DivergenceThreshold),
		ingest.WithMetrics(a.Metrics),
	}
	if a.Feed != nil {
		ingestOpts = append(ingestOpts, ingest.WithFeed(a.Feed, a.Events))
	}
	a.Ingest = ingest.NewService(store, a.Reports, logger, ingestOpts...)

	a.Accounts = accounts.NewService(store, a.Ingest, logger, accounts.WithLocation(cfg.Location))

	deps := web.Deps{
		Reports:  a.Reports,
		Accounts: a.Accounts,
		Webhooks: a.Ingest,
		Health:   store,
		Metrics:  a.Metrics,
		Gatherer: a.Registry,
	}
	if a.Feed != nil {
		deps.Feed = a.Feed
		deps.Events = a.Events
	}
	a.Server = web.NewServer(cfg.Listen, deps, logger,
		web.WithAPIKey(cfg.APIKey),
		web.WithLocation(cfg.Location),
		web.WithWebhookRate(cfg.Webhook.Rate, cfg.Webhook.Burst),
	)
	return a, nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.TLS.Enabled() {
		return a.Server.StartWithAutoTLS(ctx, a.cfg.TLS.Domains, a.cfg.TLS.CacheDir)
	}
	return a.Server.Start(ctx)
}

// Close releases the feed and the store.
func (a *App) Close() error {
	var err error
	if a.Feed != nil {
		err = multierr.Append(err, a.Feed.Close())
	}
	return multierr.Append(err, a.Store.Close())
}
