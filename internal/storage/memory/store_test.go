package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		s, err := New(time.UTC, "")
		require.NoError(t, err)
		return s
	})
}

func TestStore_Persistent(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store {
		s, err := New(time.UTC, filepath.Join(t.TempDir(), "state.json"))
		require.NoError(t, err)
		return s
	})
}

func TestStore_RestoresFromStateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	now := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

	s, err := New(time.UTC, path)
	require.NoError(t, err)

	a, err := s.CreateAccount(ctx, "Main", "tok", now)
	require.NoError(t, err)
	_, err = s.InsertTradeIfAbsent(ctx, a.ID, decimal.RequireFromString("12.5"), now.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.InsertSnapshot(ctx, a.ID, decimal.NewFromInt(1000), decimal.NewFromInt(990), now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New(time.UTC, path)
	require.NoError(t, err)

	got, err := reopened.AccountByToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	sum, err := reopened.SumTradeProfit(ctx, domain.TradeQuery{AccountID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, "12.5", sum.String())

	snap, found, err := reopened.LatestSnapshotAtOrBefore(ctx, a.ID, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, snap.Equity.Equal(decimal.NewFromInt(990)))

	b, err := reopened.CreateAccount(ctx, "Second", "tok-2", now)
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID, "id sequence survives restart")
}

func TestAggregateTrades_BucketsInStoreLocation(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("broker", 3*60*60)
	s, err := New(loc, "")
	require.NoError(t, err)

	a, err := s.CreateAccount(ctx, "A", "tok", time.Now())
	require.NoError(t, err)

	// 22:30 UTC is 01:30 next day in broker time
	ts := time.Date(2026, time.June, 1, 22, 30, 0, 0, time.UTC)
	_, err = s.InsertTradeIfAbsent(ctx, a.ID, decimal.NewFromInt(5), ts)
	require.NoError(t, err)

	buckets, err := s.AggregateTrades(ctx, domain.TradeQuery{AccountID: a.ID}, domain.UnitDay)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].Start.Equal(time.Date(2026, time.June, 2, 0, 0, 0, 0, loc)))
}
