package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PointKind origin of a derived point.
type PointKind string

const (
	PointAnchor   PointKind = "anchor"
	PointSnapshot PointKind = "snapshot"
	PointBucket   PointKind = "bucket"
	PointTrade    PointKind = "trade"
)

// Point derived curve point. Profit is relative to the previous point of the
// same sequence; anchors carry zero profit.
type Point struct {
	Timestamp     time.Time
	Balance       decimal.Decimal
	Equity        decimal.Decimal
	Profit        decimal.Decimal
	ProfitPercent decimal.Decimal
	Kind          PointKind
}

// Anchor builds a zero-profit boundary point.
func Anchor(ts time.Time, balance, equity decimal.Decimal) Point {
	return Point{
		Timestamp:     ts,
		Balance:       balance,
		Equity:        equity,
		Profit:        decimal.Zero,
		ProfitPercent: decimal.Zero,
		Kind:          PointAnchor,
	}
}

var hundred = decimal.NewFromInt(100)

// PercentOf returns profit as a percent of base, or zero when base <= 0.
func PercentOf(profit, base decimal.Decimal) decimal.Decimal {
	if base.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return profit.Div(base).Mul(hundred)
}
