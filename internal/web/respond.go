package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type accountResponse struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Token              string  `json:"token"`
	Balance            float64 `json:"balance"`
	Equity             float64 `json:"equity"`
	Profit             float64 `json:"profit"`
	ProfitPercent      float64 `json:"profitPercent"`
	DailyProfit        float64 `json:"dailyProfit"`
	DailyProfitPercent float64 `json:"dailyProfitPercent"`
	LastUpdated        string  `json:"lastUpdated"`
	CreatedAt          string  `json:"createdAt"`
}

func newAccountResponse(a domain.Account) accountResponse {
	return accountResponse{
		ID:                 a.ID,
		Name:               a.Name,
		Token:              a.Token,
		Balance:            a.Balance.InexactFloat64(),
		Equity:             a.Equity.InexactFloat64(),
		Profit:             a.Profit.InexactFloat64(),
		ProfitPercent:      a.ProfitPercent.InexactFloat64(),
		DailyProfit:        a.DailyProfit.InexactFloat64(),
		DailyProfitPercent: a.DailyProfitPercent.InexactFloat64(),
		LastUpdated:        formatTime(a.LastUpdated),
		CreatedAt:          formatTime(a.CreatedAt),
	}
}

type pointResponse struct {
	Timestamp     string  `json:"timestamp"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Profit        float64 `json:"profit"`
	ProfitPercent float64 `json:"profitPercent"`
	Kind          string  `json:"kind"`
}

func newPointResponses(points []domain.Point) []pointResponse {
	out := make([]pointResponse, 0, len(points))
	for _, p := range points {
		out = append(out, pointResponse{
			Timestamp:     formatTime(p.Timestamp),
			Balance:       p.Balance.InexactFloat64(),
			Equity:        p.Equity.InexactFloat64(),
			Profit:        p.Profit.InexactFloat64(),
			ProfitPercent: p.ProfitPercent.InexactFloat64(),
			Kind:          string(p.Kind),
		})
	}
	return out
}

type tradeResponse struct {
	ID        int64   `json:"id"`
	AccountID int64   `json:"accountId"`
	Profit    float64 `json:"profit"`
	Timestamp string  `json:"timestamp"`
}

func newTradeResponses(trades []domain.Trade) []tradeResponse {
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse{
			ID:        t.ID,
			AccountID: t.AccountID,
			Profit:    t.Profit.InexactFloat64(),
			Timestamp: formatTime(t.Timestamp),
		})
	}
	return out
}

type summaryResponse struct {
	TotalBalance       float64 `json:"totalBalance"`
	TotalEquity        float64 `json:"totalEquity"`
	TotalProfit        float64 `json:"totalProfit"`
	TotalProfitPercent float64 `json:"totalProfitPercent"`
	Accounts           int     `json:"accounts"`
}

func newSummaryResponse(s reporting.Summary) summaryResponse {
	return summaryResponse{
		TotalBalance:       s.TotalBalance.InexactFloat64(),
		TotalEquity:        s.TotalEquity.InexactFloat64(),
		TotalProfit:        s.TotalProfit.InexactFloat64(),
		TotalProfitPercent: s.TotalProfitPercent.InexactFloat64(),
		Accounts:           s.Accounts,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status code. Server-side failures are logged
// and answered without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()

	switch status {
	case http.StatusServiceUnavailable:
		s.deps.Metrics.StoreUnavailable()
		s.logger.Warn("store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "service unavailable, retry later"
	case http.StatusInternalServerError:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Message: msg})
}
