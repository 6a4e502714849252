package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent trade-shaped ingest element: {t: unixSeconds, p: profit}.
type TradeEvent struct {
	Timestamp time.Time
	Profit    decimal.Decimal
}

// SnapshotEvent snapshot-shaped ingest element. Optional fields are nil when absent.
type SnapshotEvent struct {
	Balance     decimal.Decimal
	Equity      decimal.Decimal
	Profit      *decimal.Decimal
	DailyProfit *decimal.Decimal
}

// Payload classified webhook body.
type Payload struct {
	Trades    []TradeEvent
	Snapshots []SnapshotEvent
	// Skipped counts array elements matching neither shape.
	Skipped int
}

// LastSnapshot returns the snapshot that updates account stats, if any.
func (p Payload) LastSnapshot() *SnapshotEvent {
	if len(p.Snapshots) == 0 {
		return nil
	}
	s := p.Snapshots[len(p.Snapshots)-1]
	return &s
}

// ParsePayload classifies a webhook body. An object must be snapshot-shaped.
// Array elements are sorted into trades and snapshots; unknown elements are skipped.
func ParsePayload(body []byte) (Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Payload{}, Validationf("empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Payload{}, Validationf("invalid json: %v", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Payload{}, Validationf("unexpected data after the json value")
	}

	switch v := raw.(type) {
	case map[string]any:
		snap, ok := snapshotFromObject(v, true)
		if !ok {
			return Payload{}, Validationf("object payload requires numeric balance and equity")
		}
		return Payload{Snapshots: []SnapshotEvent{snap}}, nil
	case []any:
		var p Payload
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				p.Skipped++
				continue
			}
			if trade, ok := tradeFromObject(obj); ok {
				p.Trades = append(p.Trades, trade)
				continue
			}
			if snap, ok := snapshotFromObject(obj, false); ok {
				p.Snapshots = append(p.Snapshots, snap)
				continue
			}
			p.Skipped++
		}
		if len(p.Trades) == 0 && len(p.Snapshots) == 0 {
			return Payload{}, Validationf("array payload has no trade or snapshot elements")
		}
		return p, nil
	default:
		return Payload{}, Validationf("payload must be an object or an array")
	}
}

func tradeFromObject(obj map[string]any) (TradeEvent, bool) {
	ts, ok := number(obj["t"])
	if !ok || ts.LessThan(minUnixSeconds) || ts.GreaterThan(maxUnixSeconds) {
		return TradeEvent{}, false
	}
	profit, ok := number(obj["p"])
	if !ok {
		return TradeEvent{}, false
	}
	return TradeEvent{Timestamp: unixSeconds(ts), Profit: profit}, true
}

func snapshotFromObject(obj map[string]any, requireEquity bool) (SnapshotEvent, bool) {
	balance, ok := number(obj["balance"])
	if !ok {
		return SnapshotEvent{}, false
	}
	equity, ok := number(obj["equity"])
	if !ok {
		if requireEquity {
			return SnapshotEvent{}, false
		}
		equity = balance
	}

	snap := SnapshotEvent{Balance: balance, Equity: equity}
	if profit, ok := number(obj["profit"]); ok {
		snap.Profit = &profit
	}
	if daily, ok := number(obj["dailyProfit"]); ok {
		snap.DailyProfit = &daily
	}
	return snap, true
}

// number accepts JSON numbers and numeric strings.
func number(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

var (
	nanosPerSecond = decimal.NewFromInt(int64(time.Second))

	// trade timestamps must fall within years 1970..9999
	minUnixSeconds = decimal.Zero
	maxUnixSeconds = decimal.NewFromInt(253402300799)
)

func unixSeconds(d decimal.Decimal) time.Time {
	sec := d.IntPart()
	nanos := d.Sub(decimal.NewFromInt(sec)).Mul(nanosPerSecond).IntPart()
	return time.Unix(sec, nanos)
}
