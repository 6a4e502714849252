package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeedRecord account state published after every stats recompute.
// Money fields are strings so the stream never loses precision.
type FeedRecord struct {
	Timestamp     time.Time `json:"ts"`
	AccountID     int64     `json:"account_id"`
	Name          string    `json:"name"`
	Balance       string    `json:"balance"`
	Equity        string    `json:"equity"`
	Profit        string    `json:"profit"`
	ProfitPercent string    `json:"profit_percent"`
	DailyProfit   string    `json:"daily_profit,omitempty"`
}

// NewFeedRecord creates a FeedRecord from an account state.
func NewFeedRecord(a Account) FeedRecord {
	return FeedRecord{
		Timestamp:     a.LastUpdated,
		AccountID:     a.ID,
		Name:          a.Name,
		Balance:       a.Balance.String(),
		Equity:        a.Equity.String(),
		Profit:        a.Profit.String(),
		ProfitPercent: a.ProfitPercent.StringFixed(2),
		DailyProfit:   dailyProfit(a.DailyProfit),
	}
}

func dailyProfit(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// FeedRecordEntry bundles a feed record with its log index.
type FeedRecordEntry struct {
	Index  uint64
	Record FeedRecord
}
