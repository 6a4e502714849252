package reporting

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

// AccountHistory builds the equity curve of one account over a period.
func (s *Service) AccountHistory(ctx context.Context, accountID int64, period domain.Period, opts Options) ([]domain.Point, error) {
	started := time.Now()

	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	rng, err := s.resolve(ctx, period, accountID, now)
	if err != nil {
		return nil, errors.Wrap(err, "resolve period")
	}

	points, path, err := s.reconstructAccount(ctx, acct, period, rng.Clamp(now), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "reconstruct account %d", accountID)
	}

	s.metrics.ObserveReconstruction("account", path, started)
	s.logger.Debug("account history built",
		zap.Int64("account_id", accountID),
		zap.String("period", string(period)),
		zap.String("path", path),
		zap.Int("points", len(points)))
	return points, nil
}

func (s *Service) reconstructAccount(ctx context.Context, acct domain.Account, period domain.Period, win domain.Range, opts Options) ([]domain.Point, string, error) {
	q := domain.TradeQuery{AccountID: acct.ID, From: win.Start, To: win.End}
	buckets, err := s.store.AggregateTrades(ctx, q, period.Unit())
	if err != nil {
		return nil, "", err
	}

	// calendar periods with trade activity in the window prefer trade detail
	if period == domain.PeriodAll || len(buckets) == 0 {
		snaps, err := s.store.ListSnapshots(ctx, acct.ID, win.Start, win.End)
		if err != nil {
			return nil, "", err
		}
		if anyInformative(snaps) {
			points, err := s.accountSnapshotCurve(ctx, acct, win, snaps)
			return points, pathSnapshot, err
		}
	}

	points, err := s.accountTradeCurve(ctx, acct, win, buckets, opts)
	return points, pathTrade, err
}

func (s *Service) accountSnapshotCurve(ctx context.Context, acct domain.Account, win domain.Range, snaps []domain.EquitySnapshot) ([]domain.Point, error) {
	fallback := reading{balance: acct.Balance, equity: acct.Equity, kind: domain.PointAnchor}

	first, last := fallback, fallback
	if len(snaps) > 0 {
		first = snapshotReading(snaps[0], domain.PointAnchor)
		last = snapshotReading(snaps[len(snaps)-1], domain.PointAnchor)
	}

	start, found, err := s.store.LatestSnapshotAtOrBefore(ctx, acct.ID, win.Start)
	if err != nil {
		return nil, err
	}
	if found {
		first = snapshotReading(start, domain.PointAnchor)
	}

	end, found, err := s.store.LatestSnapshotAtOrBefore(ctx, acct.ID, win.End)
	if err != nil {
		return nil, err
	}
	if found {
		last = snapshotReading(end, domain.PointAnchor)
	}

	readings := make([]reading, 0, len(snaps)+2)
	first.ts = win.Start
	readings = append(readings, first)
	for _, snap := range snaps {
		readings = append(readings, snapshotReading(snap, domain.PointSnapshot))
	}
	last.ts = win.End
	readings = append(readings, last)

	return snapshotCurve(readings), nil
}

func (s *Service) accountTradeCurve(ctx context.Context, acct domain.Account, win domain.Range, buckets []domain.TradeBucket, opts Options) ([]domain.Point, error) {
	startBalance, hasTrades, err := s.startBalance(ctx, acct, win.Start)
	if err != nil {
		return nil, err
	}

	equityOffset := decimal.Zero
	if !hasTrades {
		equityOffset = acct.Equity.Sub(acct.Balance)
	}

	steps := bucketSteps(buckets)
	if opts.Resolution == ResolutionTrade || len(buckets) == 0 {
		trades, err := s.store.ListTrades(ctx, domain.TradeQuery{AccountID: acct.ID, From: win.Start, To: win.End})
		if err != nil {
			return nil, err
		}
		steps = tradeSteps(trades)
	}

	return tradeCurve(win, startBalance, equityOffset, steps), nil
}

// startBalance returns the account balance at the given instant:
// canonical balance minus the profit booked at or after it.
func (s *Service) startBalance(ctx context.Context, acct domain.Account, at time.Time) (decimal.Decimal, bool, error) {
	canonical, hasTrades, err := s.canonicalBalance(ctx, acct)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !hasTrades {
		return canonical, false, nil
	}

	before, err := s.store.SumTradeProfitBefore(ctx, acct.ID, at)
	if err != nil {
		return decimal.Zero, false, err
	}
	// canonical equals the total trade profit here, so the profit booked
	// at or after the instant is canonical - before
	after := canonical.Sub(before)
	return canonical.Sub(after), true, nil
}

// canonicalBalance is the trade sum for accounts with trades and the cached
// balance otherwise.
func (s *Service) canonicalBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, bool, error) {
	q := domain.TradeQuery{AccountID: acct.ID}
	n, err := s.store.CountTrades(ctx, q)
	if err != nil {
		return decimal.Zero, false, err
	}
	if n == 0 {
		return acct.Balance, false, nil
	}
	total, err := s.store.SumTradeProfit(ctx, q)
	if err != nil {
		return decimal.Zero, false, err
	}
	return total, true, nil
}

func snapshotReading(snap domain.EquitySnapshot, kind domain.PointKind) reading {
	return reading{ts: snap.Timestamp, balance: snap.Balance, equity: snap.Equity, kind: kind}
}
