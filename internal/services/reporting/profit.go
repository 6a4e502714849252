package reporting

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

// Summary portfolio totals for a period.
type Summary struct {
	TotalBalance       decimal.Decimal
	TotalEquity        decimal.Decimal
	TotalProfit        decimal.Decimal
	TotalProfitPercent decimal.Decimal
	Accounts           int
}

// AccountProfit returns the profit booked by an account over a period.
func (s *Service) AccountProfit(ctx context.Context, accountID int64, period domain.Period) (decimal.Decimal, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	now := s.clock()
	rng, err := s.resolve(ctx, period, accountID, now)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "resolve period")
	}
	return s.ProfitInRange(ctx, acct, rng.Clamp(now))
}

// ProfitInRange returns the trade profit inside win for accounts with
// trades, else the snapshot balance change. A trade figure diverging from
// the snapshot change beyond the threshold is flagged.
func (s *Service) ProfitInRange(ctx context.Context, acct domain.Account, win domain.Range) (decimal.Decimal, error) {
	n, err := s.store.CountTrades(ctx, domain.TradeQuery{AccountID: acct.ID})
	if err != nil {
		return decimal.Zero, err
	}

	delta, haveDelta, err := s.snapshotDelta(ctx, acct.ID, win)
	if err != nil {
		return decimal.Zero, err
	}
	if n == 0 {
		return delta, nil
	}

	profit, err := s.store.SumTradeProfit(ctx, domain.TradeQuery{AccountID: acct.ID, From: win.Start, To: win.End})
	if err != nil {
		return decimal.Zero, err
	}
	if haveDelta && s.diverges(profit, delta) {
		s.metrics.Divergence("profit")
		s.logger.Warn("trade profit diverges from snapshots",
			zap.Int64("account_id", acct.ID),
			zap.Time("from", win.Start),
			zap.Time("to", win.End),
			zap.String("trade_profit", profit.String()),
			zap.String("snapshot_delta", delta.String()))
	}
	return profit, nil
}

// snapshotDelta is the balance change between the readings bounding win.
func (s *Service) snapshotDelta(ctx context.Context, accountID int64, win domain.Range) (decimal.Decimal, bool, error) {
	first, found, err := s.store.LatestSnapshotAtOrBefore(ctx, accountID, win.Start)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !found {
		first, found, err = s.store.EarliestSnapshotAtOrAfter(ctx, accountID, win.Start)
		if err != nil {
			return decimal.Zero, false, err
		}
		if !found || first.Timestamp.After(win.End) {
			return decimal.Zero, false, nil
		}
	}

	last, found, err := s.store.LatestSnapshotAtOrBefore(ctx, accountID, win.End)
	if err != nil || !found {
		return decimal.Zero, false, err
	}
	return last.Balance.Sub(first.Balance), true, nil
}

func (s *Service) diverges(a, b decimal.Decimal) bool {
	if !s.divergence.IsPositive() {
		return false
	}
	return a.Sub(b).Abs().GreaterThan(s.divergence)
}

// CurrentBalance is the latest snapshot balance plus trades booked after
// it. Accounts without snapshots report their cached balance.
func (s *Service) CurrentBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error) {
	snap, found, err := s.store.LatestSnapshotAtOrBefore(ctx, acct.ID, s.clock())
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return acct.Balance, nil
	}

	// store timestamps have microsecond precision
	since, err := s.store.SumTradeProfit(ctx, domain.TradeQuery{
		AccountID: acct.ID,
		From:      snap.Timestamp.Add(time.Microsecond),
	})
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Balance.Add(since), nil
}

// PortfolioSummary sums balances, equity and period profit of every account.
func (s *Service) PortfolioSummary(ctx context.Context, period domain.Period) (Summary, error) {
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		return Summary{}, err
	}

	now := s.clock()
	sum := Summary{
		TotalBalance: decimal.Zero,
		TotalEquity:  decimal.Zero,
		TotalProfit:  decimal.Zero,
		Accounts:     len(accounts),
	}
	for _, acct := range accounts {
		balance, err := s.CurrentBalance(ctx, acct)
		if err != nil {
			return Summary{}, errors.Wrapf(err, "current balance of account %d", acct.ID)
		}

		rng, err := s.resolve(ctx, period, acct.ID, now)
		if err != nil {
			return Summary{}, errors.Wrap(err, "resolve period")
		}
		profit, err := s.ProfitInRange(ctx, acct, rng.Clamp(now))
		if err != nil {
			return Summary{}, errors.Wrapf(err, "profit of account %d", acct.ID)
		}

		sum.TotalBalance = sum.TotalBalance.Add(balance)
		sum.TotalEquity = sum.TotalEquity.Add(acct.Equity)
		sum.TotalProfit = sum.TotalProfit.Add(profit)
	}

	sum.TotalProfitPercent = domain.PercentOf(sum.TotalProfit, sum.TotalBalance.Sub(sum.TotalProfit))
	return sum, nil
}
