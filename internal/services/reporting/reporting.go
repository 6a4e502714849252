// Package reporting rebuilds equity curves and period profit from the trade
// log and balance snapshots.
package reporting

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/metrics"
	"go.uber.org/zap"
)

// Store read side of the event store.
type Store interface {
	Account(ctx context.Context, id int64) (domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	EarliestTimestamp(ctx context.Context, accountID int64) (time.Time, bool, error)

	SumTradeProfit(ctx context.Context, q domain.TradeQuery) (decimal.Decimal, error)
	SumTradeProfitBefore(ctx context.Context, accountID int64, at time.Time) (decimal.Decimal, error)
	CountTrades(ctx context.Context, q domain.TradeQuery) (int, error)
	ListTrades(ctx context.Context, q domain.TradeQuery) ([]domain.Trade, error)
	AggregateTrades(ctx context.Context, q domain.TradeQuery, unit domain.Unit) ([]domain.TradeBucket, error)

	LatestSnapshotAtOrBefore(ctx context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error)
	EarliestSnapshotAtOrAfter(ctx context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error)
	ListSnapshots(ctx context.Context, accountID int64, from, to time.Time) ([]domain.EquitySnapshot, error)
	AggregateSnapshots(ctx context.Context, from, to time.Time, unit domain.Unit) ([]domain.SnapshotBucket, error)
}

// Resolution selects how the trade path replays trades.
type Resolution string

const (
	// ResolutionBucket replays per-bucket trade sums.
	ResolutionBucket Resolution = "bucket"
	// ResolutionTrade replays individual trades.
	ResolutionTrade Resolution = "trade"
)

// ParseResolution parses a resolution token. Empty means bucket.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return ResolutionBucket, nil
	case ResolutionBucket, ResolutionTrade:
		return r, nil
	default:
		return "", domain.Validationf("unknown resolution %q", s)
	}
}

// Options per-request curve options.
type Options struct {
	Resolution Resolution
}

// Service answers history, profit and summary queries. It keeps no state
// between calls.
type Service struct {
	store      Store
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

// WithDivergenceThreshold flags trade/snapshot profit gaps above d. Zero disables.
func WithDivergenceThreshold(d decimal.Decimal) Option {
	return func(s *Service) { s.divergence = d }
}

// WithMetrics records reconstruction timings and divergences.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a reporting service.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger.Named("reporting"),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// Resolve maps a period onto a broker-time range for one account, or for
// every account with domain.AllAccounts.
func (s *Service) Resolve(ctx context.Context, period domain.Period, accountID int64) (domain.Range, error) {
	return s.resolve(ctx, period, accountID, s.clock())
}

func (s *Service) resolve(ctx context.Context, period domain.Period, accountID int64, now time.Time) (domain.Range, error) {
	if period != domain.PeriodAll {
		return domain.ResolveCalendar(period, now)
	}
	earliest, found, err := s.store.EarliestTimestamp(ctx, accountID)
	if err != nil {
		return domain.Range{}, err
	}
	return domain.ResolveAll(earliest, found, now), nil
}
