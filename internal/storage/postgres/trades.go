package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

// tradeWhere renders q as a WHERE clause. Argument numbering starts after offset.
func tradeWhere(q domain.TradeQuery, offset int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, offset+len(args)))
	}

	if q.AccountID != domain.AllAccounts {
		add("account_id = $%d", q.AccountID)
	}
	if !q.From.IsZero() {
		add("ts >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("ts <= $%d", q.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// InsertTradeIfAbsent stores the trade unless the account already has one
// with the same timestamp and profit.
func (s *Store) InsertTradeIfAbsent(ctx context.Context, accountID int64, profit decimal.Decimal, ts time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (account_id, profit, ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, ts, profit) DO NOTHING`, accountID, profit, ts)
	if err != nil {
		return false, classify(err, "insert trade")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err, "insert trade")
	}
	return n == 1, nil
}

// SumTradeProfit sums profit of the trades matching q.
func (s *Store) SumTradeProfit(ctx context.Context, q domain.TradeQuery) (decimal.Decimal, error) {
	where, args := tradeWhere(q, 0)
	var sum decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(profit), 0) FROM trades`+where, args...).Scan(&sum); err != nil {
		return decimal.Zero, classify(err, "sum trade profit")
	}
	return sum, nil
}

// SumTradeProfitBefore sums profit of trades strictly before at.
func (s *Store) SumTradeProfitBefore(ctx context.Context, accountID int64, at time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(profit), 0) FROM trades
		WHERE ($1::bigint = 0 OR account_id = $1::bigint) AND ts < $2`, accountID, at).Scan(&sum)
	if err != nil {
		return decimal.Zero, classify(err, "sum trade profit before")
	}
	return sum, nil
}

// CountTrades counts trades matching q.
func (s *Store) CountTrades(ctx context.Context, q domain.TradeQuery) (int, error) {
	where, args := tradeWhere(q, 0)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`+where, args...).Scan(&n); err != nil {
		return 0, classify(err, "count trades")
	}
	return n, nil
}

// ListTrades returns trades matching q in ascending time order.
func (s *Store) ListTrades(ctx context.Context, q domain.TradeQuery) ([]domain.Trade, error) {
	where, args := tradeWhere(q, 0)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, profit, ts FROM trades`+where+` ORDER BY ts, id`, args...)
	if err != nil {
		return nil, classify(err, "list trades")
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Profit, &t.Timestamp); err != nil {
			return nil, classify(err, "scan trade")
		}
		t.Timestamp = t.Timestamp.In(s.loc)
		out = append(out, t)
	}
	return out, classify(rows.Err(), "list trades")
}

// AggregateTrades sums trades matching q per unit bucket in the store zone.
func (s *Store) AggregateTrades(ctx context.Context, q domain.TradeQuery, unit domain.Unit) ([]domain.TradeBucket, error) {
	where, args := tradeWhere(q, 2)
	rows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc($1::text, ts AT TIME ZONE $2::text) AS bucket, SUM(profit), COUNT(*)
		FROM trades`+where+`
		GROUP BY bucket ORDER BY bucket`,
		append([]any{string(unit), s.zone}, args...)...)
	if err != nil {
		return nil, classify(err, "aggregate trades")
	}
	defer rows.Close()

	var out []domain.TradeBucket
	for rows.Next() {
		var b domain.TradeBucket
		if err := rows.Scan(&b.Start, &b.Profit, &b.Count); err != nil {
			return nil, classify(err, "scan trade bucket")
		}
		b.Start = s.inLoc(b.Start)
		out = append(out, b)
	}
	return out, classify(rows.Err(), "aggregate trades")
}

// DeleteTrades removes the account's trades with exactly this profit inside [from, to].
func (s *Store) DeleteTrades(ctx context.Context, accountID int64, profit decimal.Decimal, from, to time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM trades WHERE account_id = $1 AND profit = $2::numeric AND ts >= $3 AND ts <= $4`,
		accountID, profit, from, to)
	if err != nil {
		return 0, classify(err, "delete trades")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify(err, "delete trades")
	}
	return n, nil
}
