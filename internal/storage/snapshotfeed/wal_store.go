// Package snapshotfeed keeps a durable log of account state changes that
// backs the live account stream.
package snapshotfeed

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/snapshots"
	segmentLimit = 1000
	maxSegments  = 100
	keyPrefix    = "account_state_"
)

var errNotInitialized = errors.New("snapshot feed is not initialized")

// WALStore persists feed records in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens the feed under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "feed_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init snapshot feed WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the record and returns its index.
func (s *WALStore) Save(rec domain.FeedRecord) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, errNotInitialized
	}
	if rec.AccountID <= 0 {
		return 0, errors.New("feed record account id is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, errors.Wrap(err, "marshal feed record")
	}

	key := keyPrefix + strconv.FormatInt(rec.AccountID, 10)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(next, key, payload); err != nil {
		return 0, errors.Wrap(err, "write feed record")
	}
	return next, nil
}

// RecordsAfter returns the records written after index, oldest first.
// Indexes evicted with old segments are skipped.
func (s *WALStore) RecordsAfter(index uint64) ([]domain.FeedRecordEntry, error) {
	if s == nil || s.wal == nil {
		return nil, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	entries := make([]domain.FeedRecordEntry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		var rec domain.FeedRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode feed record %d", idx)
		}
		entries = append(entries, domain.FeedRecordEntry{Index: idx, Record: rec})
	}

	return entries, nil
}

// CurrentIndex returns the latest index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
