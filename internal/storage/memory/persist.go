package memory

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

// stateFile persists the whole store as one JSON document.
type stateFile struct {
	path string
}

type state struct {
	NextAccountID  int64                   `json:"next_account_id"`
	NextTradeID    int64                   `json:"next_trade_id"`
	NextSnapshotID int64                   `json:"next_snapshot_id"`
	Accounts       []domain.Account        `json:"accounts"`
	Trades         []domain.Trade          `json:"trades"`
	Snapshots      []domain.EquitySnapshot `json:"snapshots"`
}

// Load reads the state file. A missing or empty file yields nil.
func (f *stateFile) Load() (*state, error) {
	payload, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read store state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var st state
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, errors.Wrap(err, "decode store state")
	}
	return &st, nil
}

// Save writes the state atomically via a temp file.
func (f *stateFile) Save(st state) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, "create store state dir")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "encode store state")
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write store state temp file")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "persist store state")
	}
	return nil
}

// flush saves the current state. Callers hold the write lock.
func (s *Store) flush() error {
	if s.state == nil {
		return nil
	}

	st := state{
		NextAccountID:  s.nextAccountID,
		NextTradeID:    s.nextTradeID,
		NextSnapshotID: s.nextSnapshotID,
	}
	for id, a := range s.accounts {
		st.Accounts = append(st.Accounts, a)
		st.Trades = append(st.Trades, s.trades[id]...)
		st.Snapshots = append(st.Snapshots, s.snapshots[id]...)
	}
	return errors.Wrap(s.state.Save(st), "flush memory store")
}

func (s *Store) restore(st state) {
	s.nextAccountID = st.NextAccountID
	s.nextTradeID = st.NextTradeID
	s.nextSnapshotID = st.NextSnapshotID

	for _, a := range st.Accounts {
		a.LastUpdated = a.LastUpdated.In(s.loc)
		a.CreatedAt = a.CreatedAt.In(s.loc)
		s.accounts[a.ID] = a
	}
	for _, t := range st.Trades {
		t.Timestamp = t.Timestamp.In(s.loc)
		s.trades[t.AccountID] = append(s.trades[t.AccountID], t)
	}
	for _, snap := range st.Snapshots {
		snap.Timestamp = snap.Timestamp.In(s.loc)
		s.snapshots[snap.AccountID] = append(s.snapshots[snap.AccountID], snap)
	}
}
