package accounts

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

// Cleanup selects trades to remove: those with exactly Profit inside
// [From, To], or inside the broker day of Date when no window is given.
// A zero Date means today.
type Cleanup struct {
	Profit decimal.Decimal
	Date   time.Time
	From   time.Time
	To     time.Time
}

// CleanupTrades deletes matching trades and recomputes the account stats.
// It returns the number of deleted trades.
func (s *Service) CleanupTrades(ctx context.Context, id int64, c Cleanup) (int64, error) {
	if _, err := s.store.Account(ctx, id); err != nil {
		return 0, err
	}

	from, to, err := s.cleanupWindow(c)
	if err != nil {
		return 0, err
	}

	deleted, err := s.store.DeleteTrades(ctx, id, c.Profit, from, to)
	if err != nil {
		return 0, errors.Wrap(err, "delete trades")
	}

	s.logger.Info("trades cleaned up",
		zap.Int64("account_id", id),
		zap.String("profit", c.Profit.String()),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int64("deleted", deleted))

	if deleted > 0 && s.recomputer != nil {
		if _, err := s.recomputer.RecomputeStats(ctx, id, nil); err != nil {
			return deleted, errors.Wrap(err, "recompute after cleanup")
		}
	}
	return deleted, nil
}

func (s *Service) cleanupWindow(c Cleanup) (time.Time, time.Time, error) {
	switch {
	case !c.From.IsZero() || !c.To.IsZero():
		if c.From.IsZero() || c.To.IsZero() {
			return time.Time{}, time.Time{}, domain.Validationf("cleanup window needs both from and to")
		}
		if c.To.Before(c.From) {
			return time.Time{}, time.Time{}, domain.Validationf("cleanup window ends before it starts")
		}
		return c.From, c.To, nil
	default:
		day := c.Date
		if day.IsZero() {
			day = s.clock()
		}
		rng, err := domain.ResolveCalendar(domain.Period1D, day.In(s.loc))
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return rng.Start, rng.End, nil
	}
}
