package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_Object(t *testing.T) {
	p, err := ParsePayload([]byte(`{"balance": 10500.5, "equity": "10480.25", "profit": 500.5, "dailyProfit": 12}`))
	require.NoError(t, err)
	require.Len(t, p.Snapshots, 1)
	assert.Empty(t, p.Trades)

	snap := p.LastSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "10500.5", snap.Balance.String())
	assert.Equal(t, "10480.25", snap.Equity.String())
	require.NotNil(t, snap.Profit)
	assert.Equal(t, "500.5", snap.Profit.String())
	require.NotNil(t, snap.DailyProfit)
	assert.Equal(t, "12", snap.DailyProfit.String())
}

func TestParsePayload_ObjectWithoutEquity(t *testing.T) {
	_, err := ParsePayload([]byte(`{"balance": 100}`))
	require.ErrorIs(t, err, ErrValidation)
}

func TestParsePayload_MixedArray(t *testing.T) {
	body := `[
		{"t": 1767261600, "p": 50},
		{"t": "1767265200.5", "p": "-20"},
		{"foo": "bar"},
		7,
		{"balance": 1000},
		{"balance": 1030, "equity": 1031, "profit": 30}
	]`

	p, err := ParsePayload([]byte(body))
	require.NoError(t, err)
	require.Len(t, p.Trades, 2)
	require.Len(t, p.Snapshots, 2)
	assert.Equal(t, 2, p.Skipped)

	assert.Equal(t, time.Unix(1767261600, 0), p.Trades[0].Timestamp)
	assert.True(t, p.Trades[0].Profit.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, time.Unix(1767265200, 500_000_000), p.Trades[1].Timestamp)
	assert.True(t, p.Trades[1].Profit.Equal(decimal.NewFromInt(-20)))

	assert.True(t, p.Snapshots[0].Equity.Equal(decimal.NewFromInt(1000)), "equity defaults to balance")
	assert.Nil(t, p.Snapshots[0].Profit)

	last := p.LastSnapshot()
	require.NotNil(t, last)
	assert.True(t, last.Balance.Equal(decimal.NewFromInt(1030)))
}

func TestParsePayload_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":           ``,
		"not json":        `balance=1`,
		"scalar":          `42`,
		"empty array":     `[]`,
		"no usable items": `[{"t": "x", "p": 1}, {"equity": 3}]`,
		"trailing data":   `{"balance": 100, "equity": 100} garbage`,
		"two values":      `{"balance": 100, "equity": 100} {"balance": 1, "equity": 1}`,
		"only far future": `[{"t": 1e30, "p": 5000}]`,
		"only negative t": `[{"t": -5, "p": 1}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(body))
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestParsePayload_SkipsOutOfRangeTimestamps(t *testing.T) {
	p, err := ParsePayload([]byte(`[{"t": 1e30, "p": 5000}, {"t": "253402300800", "p": 1}, {"t": 1772618400, "p": 10}]`))
	require.NoError(t, err)
	require.Len(t, p.Trades, 1)
	assert.Equal(t, 2, p.Skipped)
	assert.Equal(t, time.Unix(1772618400, 0), p.Trades[0].Timestamp)
}

func TestParsePayload_TrailingWhitespace(t *testing.T) {
	_, err := ParsePayload([]byte("{\"balance\": 1, \"equity\": 1}\n\t "))
	require.NoError(t, err)
}

func TestPayloadLastSnapshot_None(t *testing.T) {
	p := Payload{Trades: []TradeEvent{{Timestamp: time.Unix(1, 0), Profit: decimal.NewFromInt(1)}}}
	assert.Nil(t, p.LastSnapshot())
}
