package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account tracked trading account. Money fields are a cache derived from
// the trade log and the last accepted snapshot.
type Account struct {
	ID                 int64
	Name               string
	Token              string
	Balance            decimal.Decimal
	Equity             decimal.Decimal
	Profit             decimal.Decimal
	ProfitPercent      decimal.Decimal
	DailyProfit        decimal.Decimal
	DailyProfitPercent decimal.Decimal
	LastUpdated        time.Time
	CreatedAt          time.Time
}

// AccountStats recomputed money fields written back to an account.
type AccountStats struct {
	Balance            decimal.Decimal
	Equity             decimal.Decimal
	Profit             decimal.Decimal
	ProfitPercent      decimal.Decimal
	DailyProfit        decimal.Decimal
	DailyProfitPercent decimal.Decimal
	UpdatedAt          time.Time
}

// Apply returns a copy of the account carrying the stats.
func (a Account) Apply(s AccountStats) Account {
	a.Balance = s.Balance
	a.Equity = s.Equity
	a.Profit = s.Profit
	a.ProfitPercent = s.ProfitPercent
	a.DailyProfit = s.DailyProfit
	a.DailyProfitPercent = s.DailyProfitPercent
	a.LastUpdated = s.UpdatedAt
	return a
}

// Trade realized profit event. Immutable once stored.
type Trade struct {
	ID        int64
	AccountID int64
	Profit    decimal.Decimal
	Timestamp time.Time
}

// EquitySnapshot point-in-time balance and equity reading.
type EquitySnapshot struct {
	ID        int64
	AccountID int64
	Balance   decimal.Decimal
	Equity    decimal.Decimal
	Timestamp time.Time
}

// Informative reports whether the snapshot carries any non-zero reading.
func (s EquitySnapshot) Informative() bool {
	return !s.Balance.IsZero() || !s.Equity.IsZero()
}

// AllAccounts selects every account in a TradeQuery.
const AllAccounts int64 = 0

// TradeQuery filters trades by account and time. Zero From/To are unbounded.
type TradeQuery struct {
	AccountID int64
	From      time.Time
	To        time.Time
}

// Contains reports whether ts falls inside the query window (closed-closed).
func (q TradeQuery) Contains(ts time.Time) bool {
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}

// Matches reports whether the trade satisfies the query.
func (q TradeQuery) Matches(t Trade) bool {
	if q.AccountID != AllAccounts && t.AccountID != q.AccountID {
		return false
	}
	return q.Contains(t.Timestamp)
}

// TradeBucket summed trade profit of one time bucket.
type TradeBucket struct {
	Start  time.Time
	Profit decimal.Decimal
	Count  int
}

// SnapshotBucket last reading of one account inside one time bucket.
type SnapshotBucket struct {
	Start     time.Time
	AccountID int64
	Balance   decimal.Decimal
	Equity    decimal.Decimal
}
