package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

func (s *Store) scanSnapshot(row rowScanner) (domain.EquitySnapshot, error) {
	var snap domain.EquitySnapshot
	if err := row.Scan(&snap.ID, &snap.AccountID, &snap.Balance, &snap.Equity, &snap.Timestamp); err != nil {
		return domain.EquitySnapshot{}, err
	}
	snap.Timestamp = snap.Timestamp.In(s.loc)
	return snap, nil
}

// InsertSnapshot appends a balance/equity reading.
func (s *Store) InsertSnapshot(ctx context.Context, accountID int64, balance, equity decimal.Decimal, ts time.Time) (domain.EquitySnapshot, error) {
	snap, err := s.scanSnapshot(s.db.QueryRowContext(ctx, `
		INSERT INTO equity_snapshots (account_id, balance, equity, ts) VALUES ($1, $2, $3, $4)
		RETURNING id, account_id, balance, equity, ts`, accountID, balance, equity, ts))
	if err != nil {
		return domain.EquitySnapshot{}, classify(err, "insert snapshot")
	}
	return snap, nil
}

func (s *Store) optionalSnapshot(ctx context.Context, op, query string, args ...any) (domain.EquitySnapshot, bool, error) {
	snap, err := s.scanSnapshot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EquitySnapshot{}, false, nil
	}
	if err != nil {
		return domain.EquitySnapshot{}, false, classify(err, op)
	}
	return snap, true, nil
}

// LatestSnapshotAtOrBefore returns the newest reading not after at.
func (s *Store) LatestSnapshotAtOrBefore(ctx context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error) {
	return s.optionalSnapshot(ctx, "latest snapshot", `
		SELECT id, account_id, balance, equity, ts FROM equity_snapshots
		WHERE account_id = $1 AND ts <= $2 ORDER BY ts DESC, id DESC LIMIT 1`, accountID, at)
}

// EarliestSnapshotAtOrAfter returns the oldest reading not before at.
func (s *Store) EarliestSnapshotAtOrAfter(ctx context.Context, accountID int64, at time.Time) (domain.EquitySnapshot, bool, error) {
	return s.optionalSnapshot(ctx, "earliest snapshot", `
		SELECT id, account_id, balance, equity, ts FROM equity_snapshots
		WHERE account_id = $1 AND ts >= $2 ORDER BY ts, id LIMIT 1`, accountID, at)
}

// ListSnapshots returns readings inside [from, to] in ascending time order.
func (s *Store) ListSnapshots(ctx context.Context, accountID int64, from, to time.Time) ([]domain.EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, balance, equity, ts FROM equity_snapshots
		WHERE account_id = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts, id`, accountID, from, to)
	if err != nil {
		return nil, classify(err, "list snapshots")
	}
	defer rows.Close()

	var out []domain.EquitySnapshot
	for rows.Next() {
		snap, err := s.scanSnapshot(rows)
		if err != nil {
			return nil, classify(err, "scan snapshot")
		}
		out = append(out, snap)
	}
	return out, classify(rows.Err(), "list snapshots")
}

// AggregateSnapshots returns, per unit bucket and account, the last reading
// inside [from, to]. Results are ordered by bucket then account.
func (s *Store) AggregateSnapshots(ctx context.Context, from, to time.Time, unit domain.Unit) ([]domain.SnapshotBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (bucket, account_id)
			date_trunc($1::text, ts AT TIME ZONE $2::text) AS bucket, account_id, balance, equity
		FROM equity_snapshots
		WHERE ts >= $3 AND ts <= $4
		ORDER BY bucket, account_id, ts DESC, id DESC`,
		string(unit), s.zone, from, to)
	if err != nil {
		return nil, classify(err, "aggregate snapshots")
	}
	defer rows.Close()

	var out []domain.SnapshotBucket
	for rows.Next() {
		var b domain.SnapshotBucket
		if err := rows.Scan(&b.Start, &b.AccountID, &b.Balance, &b.Equity); err != nil {
			return nil, classify(err, "scan snapshot bucket")
		}
		b.Start = s.inLoc(b.Start)
		out = append(out, b)
	}
	return out, classify(rows.Err(), "aggregate snapshots")
}
