package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentOf(t *testing.T) {
	t.Run("regular base", func(t *testing.T) {
		got := PercentOf(decimal.NewFromInt(100), decimal.NewFromInt(1000))
		assert.True(t, got.Equal(decimal.NewFromInt(10)), got.String())
		assert.Equal(t, "10.00", got.StringFixed(2))
	})

	t.Run("zero base", func(t *testing.T) {
		got := PercentOf(decimal.NewFromInt(100), decimal.Zero)
		assert.True(t, got.IsZero())
	})

	t.Run("negative base", func(t *testing.T) {
		got := PercentOf(decimal.NewFromInt(100), decimal.NewFromInt(-50))
		assert.True(t, got.IsZero())
	})

	t.Run("loss", func(t *testing.T) {
		got := PercentOf(decimal.NewFromInt(-25), decimal.NewFromInt(500))
		assert.True(t, got.Equal(decimal.NewFromInt(-5)), got.String())
	})
}

func TestAnchor(t *testing.T) {
	ts := time.Date(2026, time.May, 5, 0, 0, 0, 0, time.UTC)
	p := Anchor(ts, decimal.NewFromInt(10), decimal.NewFromInt(12))

	assert.Equal(t, PointAnchor, p.Kind)
	assert.True(t, p.Profit.IsZero())
	assert.True(t, p.ProfitPercent.IsZero())
	assert.Equal(t, ts, p.Timestamp)
}
