package reporting

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

// PortfolioHistory builds the summed equity curve of every account.
func (s *Service) PortfolioHistory(ctx context.Context, period domain.Period, opts Options) ([]domain.Point, error) {
	started := time.Now()

	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	rng, err := s.resolve(ctx, period, domain.AllAccounts, now)
	if err != nil {
		return nil, errors.Wrap(err, "resolve period")
	}
	win := rng.Clamp(now)

	if len(accounts) == 0 {
		return []domain.Point{
			domain.Anchor(win.Start, decimal.Zero, decimal.Zero),
			domain.Anchor(win.End, decimal.Zero, decimal.Zero),
		}, nil
	}

	points, path, err := s.reconstructPortfolio(ctx, accounts, period, win, opts)
	if err != nil {
		return nil, errors.Wrap(err, "reconstruct portfolio")
	}

	s.metrics.ObserveReconstruction("portfolio", path, started)
	s.logger.Debug("portfolio history built",
		zap.String("period", string(period)),
		zap.String("path", path),
		zap.Int("accounts", len(accounts)),
		zap.Int("points", len(points)))
	return points, nil
}

func (s *Service) reconstructPortfolio(ctx context.Context, accounts []domain.Account, period domain.Period, win domain.Range, opts Options) ([]domain.Point, string, error) {
	unit := period.Unit()
	q := domain.TradeQuery{AccountID: domain.AllAccounts, From: win.Start, To: win.End}
	buckets, err := s.store.AggregateTrades(ctx, q, unit)
	if err != nil {
		return nil, "", err
	}

	if period == domain.PeriodAll || len(buckets) == 0 {
		snapBuckets, err := s.store.AggregateSnapshots(ctx, win.Start, win.End, unit)
		if err != nil {
			return nil, "", err
		}
		if anyInformativeBucket(snapBuckets) {
			points, err := s.portfolioSnapshotCurve(ctx, accounts, win, snapBuckets)
			return points, pathSnapshot, err
		}
	}

	startBalance, equityOffset := decimal.Zero, decimal.Zero
	for _, acct := range accounts {
		bal, hasTrades, err := s.startBalance(ctx, acct, win.Start)
		if err != nil {
			return nil, "", err
		}
		startBalance = startBalance.Add(bal)
		if !hasTrades {
			equityOffset = equityOffset.Add(acct.Equity.Sub(acct.Balance))
		}
	}

	steps := bucketSteps(buckets)
	if opts.Resolution == ResolutionTrade || len(buckets) == 0 {
		trades, err := s.store.ListTrades(ctx, q)
		if err != nil {
			return nil, "", err
		}
		steps = tradeSteps(trades)
	}
	return tradeCurve(win, startBalance, equityOffset, steps), pathTrade, nil
}

// portfolioSnapshotCurve sums per-account readings bucket by bucket. An
// account without a reading in a bucket contributes its last known one.
func (s *Service) portfolioSnapshotCurve(ctx context.Context, accounts []domain.Account, win domain.Range, buckets []domain.SnapshotBucket) ([]domain.Point, error) {
	current := make(map[int64]reading, len(accounts))
	for _, acct := range accounts {
		r, err := s.startReading(ctx, acct, win)
		if err != nil {
			return nil, err
		}
		current[acct.ID] = r
	}

	readings := []reading{sumReadings(accounts, current, win.Start, domain.PointAnchor)}
	for i := 0; i < len(buckets); {
		start := buckets[i].Start
		for ; i < len(buckets) && buckets[i].Start.Equal(start); i++ {
			b := buckets[i]
			if _, ok := current[b.AccountID]; !ok {
				// account deleted between queries
				continue
			}
			current[b.AccountID] = reading{balance: b.Balance, equity: b.Equity}
		}
		readings = append(readings, sumReadings(accounts, current, notBefore(start, win.Start), domain.PointSnapshot))
	}

	for _, acct := range accounts {
		snap, found, err := s.store.LatestSnapshotAtOrBefore(ctx, acct.ID, win.End)
		if err != nil {
			return nil, err
		}
		if found {
			current[acct.ID] = snapshotReading(snap, domain.PointAnchor)
		}
	}
	readings = append(readings, sumReadings(accounts, current, win.End, domain.PointAnchor))

	return snapshotCurve(readings), nil
}

// startReading picks the reading an account starts the window with: the
// latest snapshot at or before the start, else the first one inside the
// window, else the cached account state.
func (s *Service) startReading(ctx context.Context, acct domain.Account, win domain.Range) (reading, error) {
	snap, found, err := s.store.LatestSnapshotAtOrBefore(ctx, acct.ID, win.Start)
	if err != nil {
		return reading{}, err
	}
	if found {
		return snapshotReading(snap, domain.PointAnchor), nil
	}

	snap, found, err = s.store.EarliestSnapshotAtOrAfter(ctx, acct.ID, win.Start)
	if err != nil {
		return reading{}, err
	}
	if found && !snap.Timestamp.After(win.End) {
		return snapshotReading(snap, domain.PointAnchor), nil
	}
	return reading{balance: acct.Balance, equity: acct.Equity, kind: domain.PointAnchor}, nil
}

func sumReadings(accounts []domain.Account, current map[int64]reading, ts time.Time, kind domain.PointKind) reading {
	total := reading{ts: ts, balance: decimal.Zero, equity: decimal.Zero, kind: kind}
	for _, acct := range accounts {
		r := current[acct.ID]
		total.balance = total.balance.Add(r.balance)
		total.equity = total.equity.Add(r.equity)
	}
	return total
}
