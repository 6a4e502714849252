package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestRenderAccounts(t *testing.T) {
	assert.Equal(t, "no accounts", renderAccounts(nil))

	out := renderAccounts([]domain.Account{{
		ID: 7, Name: "Swing",
		Balance: decimal.NewFromInt(1500), Equity: decimal.RequireFromString("1498.5"), Profit: decimal.NewFromInt(500),
	}})
	assert.Contains(t, out, "Swing")
	assert.Contains(t, out, "1498.50")
	assert.Contains(t, out, "500.00")
}
