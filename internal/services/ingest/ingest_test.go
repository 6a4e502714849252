package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
	"github.com/vadiminshakov/equitydash/internal/storage/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var now = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal {
	x := d(v)
	return &x
}

type fakeFeed struct {
	records []domain.FeedRecord
}

func (f *fakeFeed) Save(rec domain.FeedRecord) (uint64, error) {
	f.records = append(f.records, rec)
	return uint64(len(f.records)), nil
}

type fakePublisher struct {
	entries []domain.FeedRecordEntry
}

func (p *fakePublisher) Publish(e domain.FeedRecordEntry) {
	p.entries = append(p.entries, e)
}

type fixture struct {
	t     *testing.T
	store *memory.Store
	svc   *Service
	feed  *fakeFeed
	pub   *fakePublisher
	acct  domain.Account
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := memory.New(time.UTC, "")
	require.NoError(t, err)

	clock := func() time.Time { return now }
	reports := reporting.NewService(store, zap.NewNop(), reporting.WithClock(clock), reporting.WithLocation(time.UTC))

	f := &fixture{t: t, store: store, feed: &fakeFeed{}, pub: &fakePublisher{}}
	opts = append([]Option{WithClock(clock), WithLocation(time.UTC), WithFeed(f.feed, f.pub)}, opts...)
	f.svc = NewService(store, reports, zap.NewNop(), opts...)

	f.acct, err = store.CreateAccount(context.Background(), "MT5 Demo", "secret-token", now.AddDate(0, 0, -10))
	require.NoError(t, err)
	return f
}

func (f *fixture) snapshots() []domain.EquitySnapshot {
	f.t.Helper()
	snaps, err := f.store.ListSnapshots(context.Background(), f.acct.ID, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	require.NoError(f.t, err)
	return snaps
}

func (f *fixture) trades() int {
	f.t.Helper()
	n, err := f.store.CountTrades(context.Background(), domain.TradeQuery{AccountID: f.acct.ID})
	require.NoError(f.t, err)
	return n
}

func TestIngestTrades_Idempotent(t *testing.T) {
	f := newFixture(t)
	batch := []domain.TradeEvent{
		{Timestamp: now.Add(-2 * time.Hour), Profit: d(50)},
		{Timestamp: now.Add(-time.Hour), Profit: d(-20)},
	}

	res, err := f.svc.IngestTrades(context.Background(), f.acct.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.Duplicates)

	res, err = f.svc.IngestTrades(context.Background(), f.acct.ID, batch)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 2, f.trades())

	assert.True(t, res.Account.Balance.Equal(d(30)))
}

func TestRecomputeStats_TradeMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.InsertTradeIfAbsent(context.Background(), f.acct.ID, d(1000), now.AddDate(0, 0, -3))
	require.NoError(t, err)
	_, err = f.store.InsertTradeIfAbsent(context.Background(), f.acct.ID, d(100), now.Add(-time.Hour))
	require.NoError(t, err)

	acct, err := f.svc.RecomputeStats(context.Background(), f.acct.ID, nil)
	require.NoError(t, err)

	assert.True(t, acct.Balance.Equal(d(1100)))
	assert.True(t, acct.Equity.Equal(d(1100)))
	assert.True(t, acct.Profit.Equal(d(1100)))
	assert.True(t, acct.ProfitPercent.IsZero(), "no starting balance")
	assert.True(t, acct.DailyProfit.Equal(d(100)))
	assert.True(t, acct.DailyProfitPercent.Equal(d(10)), acct.DailyProfitPercent.String())
	assert.Equal(t, now, acct.LastUpdated)

	snaps := f.snapshots()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Balance.Equal(d(1100)))
	assert.Equal(t, now, snaps[0].Timestamp)
}

func TestRecomputeStats_SnapshotMode(t *testing.T) {
	f := newFixture(t)

	acct, err := f.svc.IngestSnapshot(context.Background(), f.acct.ID, domain.SnapshotEvent{
		Balance:     d(1050),
		Equity:      d(1040),
		Profit:      dp(50),
		DailyProfit: dp(21),
	})
	require.NoError(t, err)

	assert.True(t, acct.Balance.Equal(d(1050)))
	assert.True(t, acct.Equity.Equal(d(1040)))
	assert.True(t, acct.Profit.Equal(d(50)))
	assert.True(t, acct.ProfitPercent.Equal(d(5)), acct.ProfitPercent.String())
	assert.True(t, acct.DailyProfit.Equal(d(21)))
	assert.Equal(t, "2.04", acct.DailyProfitPercent.StringFixed(2))
	assert.Len(t, f.snapshots(), 1)
}

func TestRecomputeStats_SnapshotModeDefaultsToTradeSum(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.InsertTradeIfAbsent(context.Background(), f.acct.ID, d(75), now.Add(-time.Hour))
	require.NoError(t, err)

	acct, err := f.svc.IngestSnapshot(context.Background(), f.acct.ID, domain.SnapshotEvent{Balance: d(575), Equity: d(580)})
	require.NoError(t, err)

	assert.True(t, acct.Profit.Equal(d(75)))
	assert.True(t, acct.ProfitPercent.Equal(d(15)), acct.ProfitPercent.String())
	assert.True(t, acct.DailyProfit.Equal(d(75)), "daily profit from today's trades")
}

func TestRecomputeStats_NoDataKeepsCache(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.UpdateAccountStats(context.Background(), f.acct.ID, domain.AccountStats{
		Balance: d(900), Equity: d(880), Profit: d(-100), UpdatedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	acct, err := f.svc.RecomputeStats(context.Background(), f.acct.ID, nil)
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d(900)))
	assert.True(t, acct.Equity.Equal(d(880)))
	assert.True(t, acct.Profit.Equal(d(-100)))
	assert.Equal(t, "-10.00", acct.ProfitPercent.StringFixed(2))
}

func TestRecomputeStats_OneSnapshotPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecomputeStats(ctx, f.acct.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.IngestSnapshot(ctx, f.acct.ID, domain.SnapshotEvent{Balance: d(10), Equity: d(10)})
	require.NoError(t, err)
	_, err = f.svc.IngestTrades(ctx, f.acct.ID, []domain.TradeEvent{{Timestamp: now.Add(-time.Minute), Profit: d(5)}})
	require.NoError(t, err)

	assert.Len(t, f.snapshots(), 3)
	require.Len(t, f.feed.records, 3)
	require.Len(t, f.pub.entries, 3)
	assert.Equal(t, uint64(3), f.pub.entries[2].Index)
	assert.Equal(t, "5", f.pub.entries[2].Record.Balance)
}

func TestRecomputeStats_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecomputeStats(context.Background(), 999, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.feed.records)
}

func TestRecomputeStats_FlagsDivergence(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, WithDivergenceThreshold(d(1)))
	f.svc.logger = zap.New(core)

	_, err := f.store.InsertTradeIfAbsent(context.Background(), f.acct.ID, d(30), now.Add(-time.Hour))
	require.NoError(t, err)

	_, err = f.svc.IngestSnapshot(context.Background(), f.acct.ID, domain.SnapshotEvent{Balance: d(530), Equity: d(530)})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("reported balance diverges from trade sum").Len())

	_, err = f.svc.IngestSnapshot(context.Background(), f.acct.ID, domain.SnapshotEvent{Balance: d(30), Equity: d(30)})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}

func TestHandleWebhook(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.HandleWebhook(context.Background(), "nope", []byte(`{"balance":1,"equity":1}`), nil)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("malformed payload writes nothing", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.HandleWebhook(context.Background(), "secret-token", []byte(`{"equity":1}`), nil)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Empty(t, f.snapshots())
		assert.Zero(t, f.trades())
	})

	t.Run("single object", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.HandleWebhook(context.Background(), "secret-token",
			[]byte(`{"balance":10500.5,"equity":10480,"profit":500.5,"dailyProfit":12}`), nil)
		require.NoError(t, err)
		assert.Zero(t, res.Received)
		assert.Equal(t, "10500.5", res.Account.Balance.String())
		assert.Equal(t, "12", res.Account.DailyProfit.String())
	})

	t.Run("mixed array", func(t *testing.T) {
		f := newFixture(t)
		body := []byte(`[
			{"t": 1772622000, "p": 50},
			{"t": "1772625600", "p": "-20"},
			{"t": 1772622000, "p": 50},
			{"comment": "heartbeat"},
			{"balance": 1030, "equity": 1025}
		]`)
		res, err := f.svc.HandleWebhook(context.Background(), "secret-token", body, nil)
		require.NoError(t, err)

		assert.Equal(t, 3, res.Received)
		assert.Equal(t, 2, res.Inserted)
		assert.Equal(t, 1, res.Duplicates)
		assert.Equal(t, 1, res.Skipped)
		assert.True(t, res.Account.Balance.Equal(d(1030)))
		assert.True(t, res.Account.Profit.Equal(d(30)))
		assert.Equal(t, 2, f.trades())
	})

	t.Run("admission runs after token lookup", func(t *testing.T) {
		f := newFixture(t)
		var asked []int64
		deny := func(acct domain.Account) bool {
			asked = append(asked, acct.ID)
			return false
		}

		_, err := f.svc.HandleWebhook(context.Background(), "nope", []byte(`{"balance":1,"equity":1}`), deny)
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Empty(t, asked, "unknown tokens never reach admission")

		_, err = f.svc.HandleWebhook(context.Background(), "secret-token", []byte(`[{"t": 1772622000, "p": 5}]`), deny)
		require.ErrorIs(t, err, domain.ErrRateLimited)
		assert.Equal(t, []int64{f.acct.ID}, asked)
		assert.Zero(t, f.trades())
		assert.Empty(t, f.snapshots())
	})

	t.Run("out of range timestamp is skipped", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.HandleWebhook(context.Background(), "secret-token",
			[]byte(`[{"t": 1e30, "p": 5000}, {"t": 1772618400, "p": 10}]`), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Received)
		assert.Equal(t, 1, res.Inserted)
		assert.Equal(t, 1, res.Skipped)
		assert.True(t, res.Account.Balance.Equal(d(10)), res.Account.Balance.String())
		assert.Equal(t, 1, f.trades())
	})

	t.Run("trailing data is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.HandleWebhook(context.Background(), "secret-token", []byte(`{"balance":100,"equity":100} garbage`), nil)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Empty(t, f.snapshots())
	})

	t.Run("trades only recompute from the log", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.HandleWebhook(context.Background(), "secret-token", []byte(`[{"t": 1772622000, "p": 12.5}]`), nil)
		require.NoError(t, err)
		assert.True(t, res.Account.Balance.Equal(decimal.RequireFromString("12.5")))
	})
}
