// Package ingest accepts trade and balance reports from terminals and keeps
// the cached account stats in step with the trade log.
package ingest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/metrics"
	"go.uber.org/zap"
)

// Store write side of the event store.
type Store interface {
	Account(ctx context.Context, id int64) (domain.Account, error)
	AccountByToken(ctx context.Context, token string) (domain.Account, error)
	UpdateAccountStats(ctx context.Context, id int64, stats domain.AccountStats) (domain.Account, error)

	InsertTradeIfAbsent(ctx context.Context, accountID int64, profit decimal.Decimal, ts time.Time) (bool, error)
	SumTradeProfit(ctx context.Context, q domain.TradeQuery) (decimal.Decimal, error)
	CountTrades(ctx context.Context, q domain.TradeQuery) (int, error)

	InsertSnapshot(ctx context.Context, accountID int64, balance, equity decimal.Decimal, ts time.Time) (domain.EquitySnapshot, error)
}

// Profits computes profit over a window the way reports do.
type Profits interface {
	ProfitInRange(ctx context.Context, acct domain.Account, win domain.Range) (decimal.Decimal, error)
}

// Feed durable log of account state changes.
type Feed interface {
	Save(rec domain.FeedRecord) (uint64, error)
}

// Publisher notifies live subscribers of feed entries.
type Publisher interface {
	Publish(e domain.FeedRecordEntry)
}

// Admit decides whether a delivery for a resolved account may proceed.
type Admit func(acct domain.Account) bool

// Result outcome of one ingest call.
type Result struct {
	Received   int
	Inserted   int
	Duplicates int
	Skipped    int
	Account    domain.Account
}

// Service ingests trades and snapshots.
type Service struct {
	store      Store
	profits    Profits
	feed       Feed
	publisher  Publisher
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	loc        *time.Location
	divergence decimal.Decimal
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets broker time.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithFeed records every recompute in feed and announces it via pub.
// Either may be nil.
func WithFeed(feed Feed, pub Publisher) Option {
	return func(s *Service) {
		s.feed = feed
		s.publisher = pub
	}
}

// WithMetrics counts ingested trades and divergences.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDivergenceThreshold flags supplied balances that drift from the
// trade sum by more than d. Zero disables.
func WithDivergenceThreshold(d decimal.Decimal) Option {
	return func(s *Service) { s.divergence = d }
}

// NewService creates an ingest service.
func NewService(store Store, profits Profits, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		profits: profits,
		logger:  logger.Named("ingest"),
		now:     time.Now,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// IngestTrades stores trades not seen before and recomputes the account
// stats from the trade log.
func (s *Service) IngestTrades(ctx context.Context, accountID int64, trades []domain.TradeEvent) (Result, error) {
	res, err := s.insertTrades(ctx, accountID, trades)
	if err != nil {
		return res, err
	}

	res.Account, err = s.RecomputeStats(ctx, accountID, nil)
	return res, err
}

// IngestSnapshot applies a balance report to the account.
func (s *Service) IngestSnapshot(ctx context.Context, accountID int64, snap domain.SnapshotEvent) (domain.Account, error) {
	return s.RecomputeStats(ctx, accountID, &snap)
}

// HandleWebhook authenticates a delivery by token, asks admit (when set)
// whether the account may proceed, stores its trades and applies its last
// balance report.
func (s *Service) HandleWebhook(ctx context.Context, token string, body []byte, admit Admit) (Result, error) {
	acct, err := s.store.AccountByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.WebhookRequest("unknown_token")
		} else {
			s.metrics.WebhookRequest("error")
		}
		return Result{}, err
	}

	if admit != nil && !admit(acct) {
		s.metrics.WebhookRequest("limited")
		return Result{}, errors.Wrapf(domain.ErrRateLimited, "account %d", acct.ID)
	}

	payload, err := domain.ParsePayload(body)
	if err != nil {
		s.metrics.WebhookRequest("invalid")
		s.logger.Info("webhook payload rejected", zap.Int64("account_id", acct.ID), zap.Error(err))
		return Result{}, err
	}

	res, err := s.insertTrades(ctx, acct.ID, payload.Trades)
	if err != nil {
		s.metrics.WebhookRequest("error")
		return res, err
	}
	res.Skipped = payload.Skipped

	res.Account, err = s.RecomputeStats(ctx, acct.ID, payload.LastSnapshot())
	if err != nil {
		s.metrics.WebhookRequest("error")
		return res, err
	}

	s.metrics.WebhookRequest("ok")
	s.logger.Debug("webhook processed",
		zap.Int64("account_id", acct.ID),
		zap.Int("received", res.Received),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("snapshots", len(payload.Snapshots)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *Service) insertTrades(ctx context.Context, accountID int64, trades []domain.TradeEvent) (Result, error) {
	res := Result{Received: len(trades)}
	for _, t := range trades {
		inserted, err := s.store.InsertTradeIfAbsent(ctx, accountID, t.Profit, t.Timestamp)
		if err != nil {
			s.metrics.TradesIngested(res.Inserted, res.Duplicates)
			return res, errors.Wrapf(err, "insert trade at %s", t.Timestamp.Format(time.RFC3339))
		}
		if inserted {
			res.Inserted++
		} else {
			res.Duplicates++
		}
	}
	s.metrics.TradesIngested(res.Inserted, res.Duplicates)
	return res, nil
}
