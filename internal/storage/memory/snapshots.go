package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

// InsertSnapshot appends a balance/equity reading.
func (s *Store) InsertSnapshot(_ context.Context, accountID int64, balance, equity decimal.Decimal, ts time.Time) (domain.EquitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return domain.EquitySnapshot{}, domain.NotFoundf("account %d", accountID)
	}

	s.nextSnapshotID++
	snap := domain.EquitySnapshot{
		ID:        s.nextSnapshotID,
		AccountID: accountID,
		Balance:   balance,
		Equity:    equity,
		Timestamp: storedTime(ts).In(s.loc),
	}
	s.snapshots[accountID] = append(s.snapshots[accountID], snap)
	return snap, s.flush()
}

// LatestSnapshotAtOrBefore returns the newest reading not after at.
func (s *Store) LatestSnapshotAtOrBefore(_ context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  domain.EquitySnapshot
		found bool
	)
	for _, snap := range s.snapshots[accountID] {
		if snap.Timestamp.After(at) {
			continue
		}
		if !found || newer(snap, best) {
			best, found = snap, true
		}
	}
	return best, found, nil
}

// EarliestSnapshotAtOrAfter returns the oldest reading not before at.
func (s *Store) EarliestSnapshotAtOrAfter(_ context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  domain.EquitySnapshot
		found bool
	)
	for _, snap := range s.snapshots[accountID] {
		if snap.Timestamp.Before(at) {
			continue
		}
		if !found || newer(best, snap) {
			best, found = snap, true
		}
	}
	return best, found, nil
}

// ListSnapshots returns readings inside [from, to] in ascending time order.
func (s *Store) ListSnapshots(_ context.Context, accountID int64, from, to time.Time) ([]domain.EquitySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.EquitySnapshot
	for _, snap := range s.snapshots[accountID] {
		if snap.Timestamp.Before(from) || snap.Timestamp.After(to) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[j], out[i]) })
	return out, nil
}

// AggregateSnapshots returns, per unit bucket and account, the last reading
// inside [from, to]. Results are ordered by bucket then account.
func (s *Store) AggregateSnapshots(_ context.Context, from, to time.Time, unit domain.Unit) ([]domain.SnapshotBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		start     time.Time
		accountID int64
	}
	last := make(map[key]domain.EquitySnapshot)
	for accountID, snaps := range s.snapshots {
		for _, snap := range snaps {
			if snap.Timestamp.Before(from) || snap.Timestamp.After(to) {
				continue
			}
			k := key{start: unit.Truncate(snap.Timestamp.In(s.loc)), accountID: accountID}
			if cur, ok := last[k]; !ok || newer(snap, cur) {
				last[k] = snap
			}
		}
	}

	out := make([]domain.SnapshotBucket, 0, len(last))
	for k, snap := range last {
		out = append(out, domain.SnapshotBucket{
			Start:     k.start,
			AccountID: k.accountID,
			Balance:   snap.Balance,
			Equity:    snap.Equity,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

// newer orders snapshots by timestamp, then insertion id.
func newer(a, b domain.EquitySnapshot) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
