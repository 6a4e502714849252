package ingest

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

// RecomputeStats refreshes the cached money fields of an account and
// appends one snapshot of the result.
//
// With a supplied report its balance and equity are taken as is. Without
// one, accounts with trades take balance and profit from the trade sum and
// accounts without trades keep their cached values.
func (s *Service) RecomputeStats(ctx context.Context, accountID int64, supplied *domain.SnapshotEvent) (domain.Account, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}

	all := domain.TradeQuery{AccountID: accountID}
	n, err := s.store.CountTrades(ctx, all)
	if err != nil {
		return domain.Account{}, err
	}
	tradeSum := decimal.Zero
	if n > 0 {
		if tradeSum, err = s.store.SumTradeProfit(ctx, all); err != nil {
			return domain.Account{}, err
		}
	}

	now := s.clock()
	stats := domain.AccountStats{
		Balance:   acct.Balance,
		Equity:    acct.Equity,
		Profit:    acct.Profit,
		UpdatedAt: now,
	}

	mode := "cached"
	switch {
	case supplied != nil:
		mode = "snapshot"
		stats.Balance = supplied.Balance
		stats.Equity = supplied.Equity
		stats.Profit = tradeSum
		if supplied.Profit != nil {
			stats.Profit = *supplied.Profit
		}
		if n > 0 && s.diverges(supplied.Balance, tradeSum) {
			s.metrics.Divergence("ingest")
			s.logger.Warn("reported balance diverges from trade sum",
				zap.Int64("account_id", accountID),
				zap.String("balance", supplied.Balance.String()),
				zap.String("trade_sum", tradeSum.String()))
		}
	case n > 0:
		mode = "trades"
		stats.Balance = tradeSum
		stats.Equity = tradeSum
		stats.Profit = tradeSum
	}
	stats.ProfitPercent = domain.PercentOf(stats.Profit, stats.Balance.Sub(stats.Profit))

	if _, err := s.store.InsertSnapshot(ctx, accountID, stats.Balance, stats.Equity, now); err != nil {
		return domain.Account{}, errors.Wrap(err, "append snapshot")
	}

	if supplied != nil && supplied.DailyProfit != nil {
		stats.DailyProfit = *supplied.DailyProfit
	} else {
		today, err := domain.ResolveCalendar(domain.Period1D, now)
		if err != nil {
			return domain.Account{}, err
		}
		if stats.DailyProfit, err = s.profits.ProfitInRange(ctx, acct, today.Clamp(now)); err != nil {
			return domain.Account{}, errors.Wrap(err, "daily profit")
		}
	}
	stats.DailyProfitPercent = domain.PercentOf(stats.DailyProfit, stats.Balance.Sub(stats.DailyProfit))

	updated, err := s.store.UpdateAccountStats(ctx, accountID, stats)
	if err != nil {
		return domain.Account{}, errors.Wrap(err, "update account stats")
	}

	s.logger.Debug("account stats recomputed",
		zap.Int64("account_id", accountID),
		zap.String("mode", mode),
		zap.String("balance", stats.Balance.String()),
		zap.String("profit", stats.Profit.String()))

	s.announce(updated)
	return updated, nil
}

// announce writes the new state to the feed. Feed failures are logged and
// never fail the ingest.
func (s *Service) announce(acct domain.Account) {
	if s.feed == nil {
		return
	}
	rec := domain.NewFeedRecord(acct)
	idx, err := s.feed.Save(rec)
	if err != nil {
		s.logger.Error("failed to save feed record", zap.Int64("account_id", acct.ID), zap.Error(err))
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(domain.FeedRecordEntry{Index: idx, Record: rec})
	}
}

func (s *Service) diverges(a, b decimal.Decimal) bool {
	if !s.divergence.IsPositive() {
		return false
	}
	return a.Sub(b).Abs().GreaterThan(s.divergence)
}
