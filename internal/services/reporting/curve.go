package reporting

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
)

const (
	pathSnapshot = "snapshot"
	pathTrade    = "trade"
)

// reading absolute balance/equity at an instant.
type reading struct {
	ts      time.Time
	balance decimal.Decimal
	equity  decimal.Decimal
	kind    domain.PointKind
}

// snapshotCurve turns readings into points whose profit is the balance change
// against the previous reading. The first point carries zero profit.
func snapshotCurve(readings []reading) []domain.Point {
	points := make([]domain.Point, 0, len(readings))
	for i, r := range readings {
		p := domain.Point{
			Timestamp:     r.ts,
			Balance:       r.balance,
			Equity:        r.equity,
			Profit:        decimal.Zero,
			ProfitPercent: decimal.Zero,
			Kind:          r.kind,
		}
		if i > 0 {
			prev := readings[i-1].balance
			p.Profit = r.balance.Sub(prev)
			p.ProfitPercent = domain.PercentOf(p.Profit, prev)
		}
		points = append(points, p)
	}
	return points
}

// step one profit increment of the trade path.
type step struct {
	ts     time.Time
	profit decimal.Decimal
	kind   domain.PointKind
}

func bucketSteps(buckets []domain.TradeBucket) []step {
	steps := make([]step, 0, len(buckets))
	for _, b := range buckets {
		steps = append(steps, step{ts: b.Start, profit: b.Profit, kind: domain.PointBucket})
	}
	return steps
}

func tradeSteps(trades []domain.Trade) []step {
	steps := make([]step, 0, len(trades))
	for _, t := range trades {
		steps = append(steps, step{ts: t.Timestamp, profit: t.Profit, kind: domain.PointTrade})
	}
	return steps
}

// tradeCurve accumulates steps from startBalance between two anchors.
// Equity trails balance by equityOffset.
func tradeCurve(win domain.Range, startBalance, equityOffset decimal.Decimal, steps []step) []domain.Point {
	points := make([]domain.Point, 0, len(steps)+2)
	points = append(points, domain.Anchor(win.Start, startBalance, startBalance.Add(equityOffset)))

	balance := startBalance
	for _, st := range steps {
		prev := balance
		balance = balance.Add(st.profit)
		points = append(points, domain.Point{
			Timestamp:     notBefore(st.ts, win.Start),
			Balance:       balance,
			Equity:        balance.Add(equityOffset),
			Profit:        st.profit,
			ProfitPercent: domain.PercentOf(st.profit, prev),
			Kind:          st.kind,
		})
	}

	return append(points, domain.Anchor(win.End, balance, balance.Add(equityOffset)))
}

// notBefore keeps bucket starts truncated below the window inside it.
func notBefore(ts, start time.Time) time.Time {
	if ts.Before(start) {
		return start
	}
	return ts
}

func anyInformative(snaps []domain.EquitySnapshot) bool {
	for _, snap := range snaps {
		if snap.Informative() {
			return true
		}
	}
	return false
}

func anyInformativeBucket(buckets []domain.SnapshotBucket) bool {
	for _, b := range buckets {
		if !b.Balance.IsZero() || !b.Equity.IsZero() {
			return true
		}
	}
	return false
}
