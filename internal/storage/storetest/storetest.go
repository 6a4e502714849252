// Package storetest holds the behavioural suite every event store must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Store is the full event store surface.
type Store interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, name, token string, now time.Time) (domain.Account, error)
	Account(ctx context.Context, id int64) (domain.Account, error)
	AccountByToken(ctx context.Context, token string) (domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	RenameAccount(ctx context.Context, id int64, name string) (domain.Account, error)
	UpdateAccountStats(ctx context.Context, id int64, stats domain.AccountStats) (domain.Account, error)
	DeleteAccount(ctx context.Context, id int64) error
	EarliestTimestamp(ctx context.Context, accountID int64) (time.Time, bool, error)

	InsertTradeIfAbsent(ctx context.Context, accountID int64, profit decimal.Decimal, ts time.Time) (bool, error)
	SumTradeProfit(ctx context.Context, q domain.TradeQuery) (decimal.Decimal, error)
	SumTradeProfitBefore(ctx context.Context, accountID int64, at time.Time) (decimal.Decimal, error)
	CountTrades(ctx context.Context, q domain.TradeQuery) (int, error)
	ListTrades(ctx context.Context, q domain.TradeQuery) ([]domain.Trade, error)
	AggregateTrades(ctx context.Context, q domain.TradeQuery, unit domain.Unit) ([]domain.TradeBucket, error)
	DeleteTrades(ctx context.Context, accountID int64, profit decimal.Decimal, from, to time.Time) (int64, error)

	InsertSnapshot(ctx context.Context, accountID int64, balance, equity decimal.Decimal, ts time.Time) (domain.EquitySnapshot, error)
	LatestSnapshotAtOrBefore(ctx context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error)
	EarliestSnapshotAtOrAfter(ctx context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error)
	ListSnapshots(ctx context.Context, accountID int64, from, to time.Time) ([]domain.EquitySnapshot, error)
	AggregateSnapshots(ctx context.Context, from, to time.Time, unit domain.Unit) ([]domain.SnapshotBucket, error)
}

// Factory returns an empty store bucketing in UTC.
type Factory func(t *testing.T) Store

var day0 = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AccountLifecycle", func(t *testing.T) { testAccountLifecycle(t, newStore(t)) })
	t.Run("TradeDedup", func(t *testing.T) { testTradeDedup(t, newStore(t)) })
	t.Run("ConcurrentTradeDedup", func(t *testing.T) { testConcurrentTradeDedup(t, newStore(t)) })
	t.Run("MicrosecondTimestamps", func(t *testing.T) { testMicrosecondTimestamps(t, newStore(t)) })
	t.Run("TradeSums", func(t *testing.T) { testTradeSums(t, newStore(t)) })
	t.Run("AggregateTrades", func(t *testing.T) { testAggregateTrades(t, newStore(t)) })
	t.Run("DeleteTrades", func(t *testing.T) { testDeleteTrades(t, newStore(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, newStore(t)) })
	t.Run("AggregateSnapshots", func(t *testing.T) { testAggregateSnapshots(t, newStore(t)) })
	t.Run("EarliestTimestamp", func(t *testing.T) { testEarliestTimestamp(t, newStore(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
}

func testAccountLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	a, err := s.CreateAccount(ctx, "Main", "token-a", day0)
	require.NoError(t, err)
	require.NotZero(t, a.ID)
	assert.Equal(t, "Main", a.Name)
	assert.True(t, a.Balance.IsZero())

	b, err := s.CreateAccount(ctx, "Second", "token-b", day0.Add(time.Hour))
	require.NoError(t, err)

	got, err := s.AccountByToken(ctx, "token-b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = s.AccountByToken(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Account(ctx, b.ID+100)
	require.ErrorIs(t, err, domain.ErrNotFound)

	renamed, err := s.RenameAccount(ctx, a.ID, "Primary")
	require.NoError(t, err)
	assert.Equal(t, "Primary", renamed.Name)

	updated, err := s.UpdateAccountStats(ctx, a.ID, domain.AccountStats{
		Balance:       d(1100),
		Equity:        d(1090),
		Profit:        d(100),
		ProfitPercent: d(10),
		DailyProfit:   d(5),
		UpdatedAt:     day0.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(d(1100)))
	assert.True(t, updated.DailyProfit.Equal(d(5)))

	list, err := s.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "most recently updated first")
	assert.True(t, list[0].Equity.Equal(d(1090)))

	_, err = s.UpdateAccountStats(ctx, b.ID+100, domain.AccountStats{UpdatedAt: day0})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testTradeDedup(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok", day0)
	require.NoError(t, err)

	batch := []struct {
		ts     time.Time
		profit decimal.Decimal
	}{
		{day0.Add(time.Hour), d(50)},
		{day0.Add(2 * time.Hour), d(-20)},
		{day0.Add(2 * time.Hour), d(15)},
	}

	for _, tr := range batch {
		inserted, err := s.InsertTradeIfAbsent(ctx, a.ID, tr.profit, tr.ts)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	for _, tr := range batch {
		inserted, err := s.InsertTradeIfAbsent(ctx, a.ID, tr.profit, tr.ts)
		require.NoError(t, err)
		assert.False(t, inserted)
	}

	n, err := s.CountTrades(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.InsertTradeIfAbsent(ctx, a.ID+100, d(1), day0)
	require.Error(t, err)
}

func testConcurrentTradeDedup(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok", day0)
	require.NoError(t, err)

	const deliveries = 16
	var inserted [deliveries]bool
	g, gctx := errgroup.WithContext(ctx)
	for i := range deliveries {
		g.Go(func() error {
			ok, err := s.InsertTradeIfAbsent(gctx, a.ID, d(50), day0.Add(time.Hour))
			inserted[i] = ok
			return err
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, ok := range inserted {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	n, err := s.CountTrades(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sum, err := s.SumTradeProfit(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	assert.True(t, sum.Equal(d(50)), sum.String())
}

func testMicrosecondTimestamps(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok", day0)
	require.NoError(t, err)

	at := day0.Add(time.Hour)
	_, err = s.InsertSnapshot(ctx, a.ID, d(1000), d(1000), at.Add(300*time.Nanosecond))
	require.NoError(t, err)
	_, err = s.InsertTradeIfAbsent(ctx, a.ID, d(5), at.Add(time.Microsecond+200*time.Nanosecond))
	require.NoError(t, err)

	snap, found, err := s.LatestSnapshotAtOrBefore(ctx, a.ID, at.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, snap.Timestamp.Equal(at), snap.Timestamp.String())

	trades, err := s.ListTrades(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Timestamp.Equal(at.Add(time.Microsecond)), trades[0].Timestamp.String())

	// the first microsecond after the snapshot still sees the trade
	since, err := s.SumTradeProfit(ctx, domain.TradeQuery{AccountID: a.ID, From: snap.Timestamp.Add(time.Microsecond)})
	require.NoError(t, err)
	assert.True(t, since.Equal(d(5)))

	// same microsecond as an existing trade is a duplicate
	inserted, err := s.InsertTradeIfAbsent(ctx, a.ID, d(5), at.Add(time.Microsecond+100*time.Nanosecond))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func testTradeSums(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "B", "tok-b", day0)
	require.NoError(t, err)

	mustTrade(t, s, a.ID, 50, day0.Add(time.Hour))
	mustTrade(t, s, a.ID, -20, day0.Add(2*time.Hour))
	mustTrade(t, s, a.ID, 7, day0.AddDate(0, 0, 1))
	mustTrade(t, s, b.ID, 100, day0.Add(3*time.Hour))

	total, err := s.SumTradeProfit(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	assert.True(t, total.Equal(d(37)), total.String())

	window, err := s.SumTradeProfit(ctx, domain.TradeQuery{AccountID: a.ID, From: day0, To: day0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, window.Equal(d(30)), "closed-closed window, got %s", window)

	all, err := s.SumTradeProfit(ctx, domain.TradeQuery{AccountID: domain.AllAccounts})
	require.NoError(t, err)
	assert.True(t, all.Equal(d(137)))

	before, err := s.SumTradeProfitBefore(ctx, a.ID, day0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, before.Equal(d(50)), "strictly before, got %s", before)

	none, err := s.SumTradeProfit(ctx, domain.TradeQuery{AccountID: a.ID, From: day0.AddDate(1, 0, 0)})
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	trades, err := s.ListTrades(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	require.Len(t, trades, 3)
	for i := 1; i < len(trades); i++ {
		assert.False(t, trades[i].Timestamp.Before(trades[i-1].Timestamp))
	}
	assert.True(t, trades[0].Profit.Equal(d(50)))
	assert.True(t, trades[0].Timestamp.Equal(day0.Add(time.Hour)))
}

func testAggregateTrades(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "B", "tok-b", day0)
	require.NoError(t, err)

	mustTrade(t, s, a.ID, 10, day0.Add(time.Hour+5*time.Minute))
	mustTrade(t, s, a.ID, 5, day0.Add(time.Hour+50*time.Minute))
	mustTrade(t, s, a.ID, -3, day0.Add(5*time.Hour))
	mustTrade(t, s, b.ID, 40, day0.Add(time.Hour+30*time.Minute))
	mustTrade(t, s, a.ID, 1, day0.AddDate(0, 1, 3))

	hourly, err := s.AggregateTrades(ctx, domain.TradeQuery{AccountID: a.ID, From: day0, To: day0.Add(24*time.Hour - time.Millisecond)}, domain.UnitHour)
	require.NoError(t, err)
	require.Len(t, hourly, 2, "sparse buckets")
	assert.True(t, hourly[0].Start.Equal(day0.Add(time.Hour)))
	assert.True(t, hourly[0].Profit.Equal(d(15)))
	assert.Equal(t, 2, hourly[0].Count)
	assert.True(t, hourly[1].Start.Equal(day0.Add(5*time.Hour)))
	assert.True(t, hourly[1].Profit.Equal(d(-3)))

	portfolio, err := s.AggregateTrades(ctx, domain.TradeQuery{AccountID: domain.AllAccounts}, domain.UnitMonth)
	require.NoError(t, err)
	require.Len(t, portfolio, 2)
	assert.True(t, portfolio[0].Start.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, portfolio[0].Profit.Equal(d(52)))
	assert.True(t, portfolio[1].Start.Equal(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)))
}

func testDeleteTrades(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)

	mustTrade(t, s, a.ID, 99, day0.Add(time.Hour))
	mustTrade(t, s, a.ID, 99, day0.Add(2*time.Hour))
	mustTrade(t, s, a.ID, 98, day0.Add(3*time.Hour))
	mustTrade(t, s, a.ID, 99, day0.AddDate(0, 0, 1))

	deleted, err := s.DeleteTrades(ctx, a.ID, d(99), day0, day0.Add(24*time.Hour-time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	left, err := s.ListTrades(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.True(t, left[0].Profit.Equal(d(98)))
	assert.True(t, left[1].Timestamp.Equal(day0.AddDate(0, 0, 1)))
}

func testSnapshots(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)

	_, found, err := s.LatestSnapshotAtOrBefore(ctx, a.ID, day0)
	require.NoError(t, err)
	assert.False(t, found)

	mustSnapshot(t, s, a.ID, 1000, day0.Add(-time.Hour))
	mustSnapshot(t, s, a.ID, 1010, day0.Add(time.Hour))
	mustSnapshot(t, s, a.ID, 1020, day0.Add(2*time.Hour))

	latest, found, err := s.LatestSnapshotAtOrBefore(ctx, a.ID, day0)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, latest.Balance.Equal(d(1000)))

	earliest, found, err := s.EarliestSnapshotAtOrAfter(ctx, a.ID, day0)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, earliest.Balance.Equal(d(1010)))

	exact, found, err := s.LatestSnapshotAtOrBefore(ctx, a.ID, day0.Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, exact.Balance.Equal(d(1020)), "at-or-before includes the boundary")

	list, err := s.ListSnapshots(ctx, a.ID, day0, day0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Balance.Equal(d(1010)))
	assert.True(t, list[1].Balance.Equal(d(1020)))
	assert.True(t, list[1].Equity.Equal(d(1020)))
}

func testAggregateSnapshots(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "B", "tok-b", day0)
	require.NoError(t, err)

	mustSnapshot(t, s, a.ID, 100, day0.Add(time.Hour))
	mustSnapshot(t, s, a.ID, 110, day0.Add(5*time.Hour))
	mustSnapshot(t, s, b.ID, 200, day0.Add(3*time.Hour))
	mustSnapshot(t, s, a.ID, 120, day0.AddDate(0, 0, 1))

	buckets, err := s.AggregateSnapshots(ctx, day0, day0.AddDate(0, 0, 2), domain.UnitDay)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.True(t, buckets[0].Start.Equal(day0))
	assert.Equal(t, a.ID, buckets[0].AccountID)
	assert.True(t, buckets[0].Balance.Equal(d(110)), "last reading of the bucket")
	assert.True(t, buckets[1].Start.Equal(day0))
	assert.Equal(t, b.ID, buckets[1].AccountID)
	assert.True(t, buckets[2].Start.Equal(day0.AddDate(0, 0, 1)))
	assert.True(t, buckets[2].Balance.Equal(d(120)))
}

func testEarliestTimestamp(t *testing.T, s Store) {
	ctx := context.Background()

	_, found, err := s.EarliestTimestamp(ctx, domain.AllAccounts)
	require.NoError(t, err)
	assert.False(t, found)

	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, "B", "tok-b", day0.AddDate(0, 0, 5))
	require.NoError(t, err)

	mustTrade(t, s, a.ID, 1, day0.AddDate(0, 0, -3))
	mustSnapshot(t, s, b.ID, 5, day0.AddDate(0, 0, 2))

	ea, found, err := s.EarliestTimestamp(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, ea.Equal(day0.AddDate(0, 0, -3)))

	eb, found, err := s.EarliestTimestamp(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, eb.Equal(day0.AddDate(0, 0, 2)))

	all, found, err := s.EarliestTimestamp(ctx, domain.AllAccounts)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, all.Equal(day0.AddDate(0, 0, -3)))
}

func testCascadeDelete(t *testing.T, s Store) {
	ctx := context.Background()
	a, err := s.CreateAccount(ctx, "A", "tok-a", day0)
	require.NoError(t, err)

	mustTrade(t, s, a.ID, 1, day0.Add(time.Hour))
	mustSnapshot(t, s, a.ID, 5, day0.Add(time.Hour))

	require.NoError(t, s.DeleteAccount(ctx, a.ID))
	require.ErrorIs(t, s.DeleteAccount(ctx, a.ID), domain.ErrNotFound)

	n, err := s.CountTrades(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	snaps, err := s.ListSnapshots(ctx, a.ID, day0, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func mustTrade(t *testing.T, s Store, accountID, profit int64, ts time.Time) {
	t.Helper()
	_, err := s.InsertTradeIfAbsent(context.Background(), accountID, d(profit), ts)
	require.NoError(t, err)
}

func mustSnapshot(t *testing.T, s Store, accountID, balance int64, ts time.Time) {
	t.Helper()
	_, err := s.InsertSnapshot(context.Background(), accountID, d(balance), d(balance), ts)
	require.NoError(t, err)
}
