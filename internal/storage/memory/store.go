// Package memory implements the event store in process memory, optionally
// persisted to a JSON state file.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

// Store keeps accounts, trades and snapshots in maps guarded by one lock.
type Store struct {
	mu    sync.RWMutex
	loc   *time.Location
	state *stateFile

	nextAccountID  int64
	nextTradeID    int64
	nextSnapshotID int64

	accounts  map[int64]domain.Account
	trades    map[int64][]domain.Trade
	snapshots map[int64][]domain.EquitySnapshot
}

// New creates a store bucketing in loc. A non-empty path enables persistence.
func New(loc *time.Location, path string) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		loc:       loc,
		accounts:  make(map[int64]domain.Account),
		trades:    make(map[int64][]domain.Trade),
		snapshots: make(map[int64][]domain.EquitySnapshot),
	}
	if path == "" {
		return s, nil
	}

	s.state = &stateFile{path: path}
	saved, err := s.state.Load()
	if err != nil {
		return nil, err
	}
	if saved != nil {
		s.restore(*saved)
	}
	return s, nil
}

// storedTime rounds to microseconds the way timestamptz columns do.
func storedTime(ts time.Time) time.Time {
	return ts.Round(time.Microsecond)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close flushes the state file when persistence is enabled.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// CreateAccount stores a new account with zeroed money fields.
func (s *Store) CreateAccount(_ context.Context, name, token string, now time.Time) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Token == token {
			return domain.Account{}, errors.Wrap(domain.ErrInternal, "token already in use")
		}
	}

	s.nextAccountID++
	a := domain.Account{
		ID:          s.nextAccountID,
		Name:        name,
		Token:       token,
		LastUpdated: now.In(s.loc),
		CreatedAt:   now.In(s.loc),
	}
	s.accounts[a.ID] = a
	return a, s.flush()
}

// Account returns one account by id.
func (s *Store) Account(_ context.Context, id int64) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFoundf("account %d", id)
	}
	return a, nil
}

// AccountByToken returns the account owning a webhook token.
func (s *Store) AccountByToken(_ context.Context, token string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Token == token {
			return a, nil
		}
	}
	return domain.Account{}, domain.NotFoundf("account for token")
}

// Accounts lists accounts, most recently updated first.
func (s *Store) Accounts(context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RenameAccount changes the display name.
func (s *Store) RenameAccount(_ context.Context, id int64, name string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFoundf("account %d", id)
	}
	a.Name = name
	s.accounts[id] = a
	return a, s.flush()
}

// UpdateAccountStats overwrites the cached money fields.
func (s *Store) UpdateAccountStats(_ context.Context, id int64, stats domain.AccountStats) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.NotFoundf("account %d", id)
	}
	stats.UpdatedAt = stats.UpdatedAt.In(s.loc)
	a = a.Apply(stats)
	s.accounts[id] = a
	return a, s.flush()
}

// DeleteAccount removes the account with its trades and snapshots.
func (s *Store) DeleteAccount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return domain.NotFoundf("account %d", id)
	}
	delete(s.accounts, id)
	delete(s.trades, id)
	delete(s.snapshots, id)
	return s.flush()
}

// EarliestTimestamp returns the earliest of account creation, trades and
// snapshots. domain.AllAccounts spans every account.
func (s *Store) EarliestTimestamp(_ context.Context, accountID int64) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		earliest time.Time
		found    bool
	)
	consider := func(ts time.Time) {
		if !found || ts.Before(earliest) {
			earliest, found = ts, true
		}
	}

	for id, a := range s.accounts {
		if accountID != domain.AllAccounts && id != accountID {
			continue
		}
		consider(a.CreatedAt)
		for _, t := range s.trades[id] {
			consider(t.Timestamp)
		}
		for _, snap := range s.snapshots[id] {
			consider(snap.Timestamp)
		}
	}
	return earliest, found, nil
}
