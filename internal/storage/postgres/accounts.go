package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

const accountColumns = `id, name, token, balance, equity, profit, profit_percent,
	daily_profit, daily_profit_percent, last_updated, created_at`

func (s *Store) scanAccount(row rowScanner) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Name, &a.Token, &a.Balance, &a.Equity, &a.Profit, &a.ProfitPercent,
		&a.DailyProfit, &a.DailyProfitPercent, &a.LastUpdated, &a.CreatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	a.LastUpdated = a.LastUpdated.In(s.loc)
	a.CreatedAt = a.CreatedAt.In(s.loc)
	return a, nil
}

func (s *Store) accountRow(ctx context.Context, op string, id int64, query string, args ...any) (domain.Account, error) {
	a, err := s.scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.NotFoundf("account %d", id)
	}
	if err != nil {
		return domain.Account{}, classify(err, op)
	}
	return a, nil
}

// CreateAccount inserts an account with zeroed money fields.
func (s *Store) CreateAccount(ctx context.Context, name, token string, now time.Time) (domain.Account, error) {
	return s.accountRow(ctx, "create account", 0,
		`INSERT INTO accounts (name, token, last_updated, created_at) VALUES ($1, $2, $3, $3)
		RETURNING `+accountColumns, name, token, now)
}

// Account returns one account by id.
func (s *Store) Account(ctx context.Context, id int64) (domain.Account, error) {
	return s.accountRow(ctx, "get account", id,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// AccountByToken returns the account owning a webhook token.
func (s *Store) AccountByToken(ctx context.Context, token string) (domain.Account, error) {
	a, err := s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE token = $1`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.NotFoundf("account for token")
	}
	if err != nil {
		return domain.Account{}, classify(err, "get account by token")
	}
	return a, nil
}

// Accounts lists accounts, most recently updated first.
func (s *Store) Accounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY last_updated DESC, id`)
	if err != nil {
		return nil, classify(err, "list accounts")
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := s.scanAccount(rows)
		if err != nil {
			return nil, classify(err, "scan account")
		}
		out = append(out, a)
	}
	return out, classify(rows.Err(), "list accounts")
}

// RenameAccount changes the display name.
func (s *Store) RenameAccount(ctx context.Context, id int64, name string) (domain.Account, error) {
	return s.accountRow(ctx, "rename account", id,
		`UPDATE accounts SET name = $2 WHERE id = $1 RETURNING `+accountColumns, id, name)
}

// UpdateAccountStats overwrites the cached money fields.
func (s *Store) UpdateAccountStats(ctx context.Context, id int64, st domain.AccountStats) (domain.Account, error) {
	return s.accountRow(ctx, "update account stats", id,
		`UPDATE accounts SET balance = $2, equity = $3, profit = $4, profit_percent = $5,
			daily_profit = $6, daily_profit_percent = $7, last_updated = $8
		WHERE id = $1 RETURNING `+accountColumns,
		id, st.Balance, st.Equity, st.Profit, st.ProfitPercent, st.DailyProfit, st.DailyProfitPercent, st.UpdatedAt)
}

// DeleteAccount removes the account. Trades and snapshots cascade.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return classify(err, "delete account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, "delete account")
	}
	if n == 0 {
		return domain.NotFoundf("account %d", id)
	}
	return nil
}

// EarliestTimestamp returns the earliest of account creation, trades and
// snapshots. domain.AllAccounts spans every account.
func (s *Store) EarliestTimestamp(ctx context.Context, accountID int64) (time.Time, bool, error) {
	var earliest sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(t) FROM (
			SELECT MIN(ts) AS t FROM trades WHERE $1::bigint = 0 OR account_id = $1
			UNION ALL
			SELECT MIN(ts) FROM equity_snapshots WHERE $1::bigint = 0 OR account_id = $1
			UNION ALL
			SELECT MIN(created_at) FROM accounts WHERE $1::bigint = 0 OR id = $1
		) AS candidates`, accountID).Scan(&earliest)
	if err != nil {
		return time.Time{}, false, classify(err, "earliest timestamp")
	}
	if !earliest.Valid {
		return time.Time{}, false, nil
	}
	return earliest.Time.In(s.loc), true, nil
}
