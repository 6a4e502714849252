package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

// InsertTradeIfAbsent stores the trade unless the account already has one
// with the same timestamp and profit.
func (s *Store) InsertTradeIfAbsent(_ context.Context, accountID int64, profit decimal.Decimal, ts time.Time) (bool, error) {
	ts = storedTime(ts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return false, domain.NotFoundf("account %d", accountID)
	}
	for _, t := range s.trades[accountID] {
		if t.Timestamp.Equal(ts) && t.Profit.Equal(profit) {
			return false, nil
		}
	}

	s.nextTradeID++
	s.trades[accountID] = append(s.trades[accountID], domain.Trade{
		ID:        s.nextTradeID,
		AccountID: accountID,
		Profit:    profit,
		Timestamp: ts.In(s.loc),
	})
	return true, s.flush()
}

// SumTradeProfit sums profit of the trades matching q.
func (s *Store) SumTradeProfit(_ context.Context, q domain.TradeQuery) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range s.matchingTrades(q) {
		sum = sum.Add(t.Profit)
	}
	return sum, nil
}

// SumTradeProfitBefore sums profit of trades strictly before at.
func (s *Store) SumTradeProfitBefore(_ context.Context, accountID int64, at time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range s.matchingTrades(domain.TradeQuery{AccountID: accountID}) {
		if t.Timestamp.Before(at) {
			sum = sum.Add(t.Profit)
		}
	}
	return sum, nil
}

// CountTrades counts trades matching q.
func (s *Store) CountTrades(_ context.Context, q domain.TradeQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchingTrades(q)), nil
}

// ListTrades returns trades matching q in ascending time order.
func (s *Store) ListTrades(_ context.Context, q domain.TradeQuery) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.matchingTrades(q)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AggregateTrades sums trades matching q per unit bucket. Empty buckets are omitted.
func (s *Store) AggregateTrades(_ context.Context, q domain.TradeQuery, unit domain.Unit) ([]domain.TradeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStart := make(map[time.Time]*domain.TradeBucket)
	for _, t := range s.matchingTrades(q) {
		start := unit.Truncate(t.Timestamp.In(s.loc))
		b, ok := byStart[start]
		if !ok {
			b = &domain.TradeBucket{Start: start, Profit: decimal.Zero}
			byStart[start] = b
		}
		b.Profit = b.Profit.Add(t.Profit)
		b.Count++
	}

	out := make([]domain.TradeBucket, 0, len(byStart))
	for _, b := range byStart {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// DeleteTrades removes the account's trades with exactly this profit inside [from, to].
func (s *Store) DeleteTrades(_ context.Context, accountID int64, profit decimal.Decimal, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := domain.TradeQuery{AccountID: accountID, From: from, To: to}
	kept := s.trades[accountID][:0]
	var deleted int64
	for _, t := range s.trades[accountID] {
		if q.Contains(t.Timestamp) && t.Profit.Equal(profit) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.trades[accountID] = kept
	if deleted == 0 {
		return 0, nil
	}
	return deleted, s.flush()
}

// matchingTrades copies trades matching q. Callers hold the lock.
func (s *Store) matchingTrades(q domain.TradeQuery) []domain.Trade {
	var out []domain.Trade
	for id, trades := range s.trades {
		if q.AccountID != domain.AllAccounts && id != q.AccountID {
			continue
		}
		for _, t := range trades {
			if q.Contains(t.Timestamp) {
				out = append(out, t)
			}
		}
	}
	return out
}
