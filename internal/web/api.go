package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/services/accounts"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
)

const maxBodyBytes = 1 << 20

func accountID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Validationf("invalid account id %q", raw)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return domain.Validationf("empty request body")
		}
		return domain.Validationf("invalid request body: %v", err)
	}
	return nil
}

func queryOptions(r *http.Request) (domain.Period, reporting.Options, error) {
	q := r.URL.Query()
	period, err := domain.ParsePeriod(q.Get("period"))
	if err != nil {
		return "", reporting.Options{}, err
	}
	res, err := reporting.ParseResolution(q.Get("resolution"))
	if err != nil {
		return "", reporting.Options{}, err
	}
	return period, reporting.Options{Resolution: res}, nil
}

type nameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Accounts.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		out = append(out, newAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.deps.Accounts.Create(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountResponse(acct))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.deps.Accounts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

func (s *Server) handleRenameAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req nameRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.deps.Accounts.Rename(r.Context(), id, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountResponse(acct))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Accounts.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.limiter.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountHistory(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	period, opts, err := queryOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := s.deps.Reports.AccountHistory(r.Context(), id, period, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPointResponses(points))
}

func (s *Server) handleAccountProfit(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	profit, err := s.deps.Reports.AccountProfit(r.Context(), id, period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"profit": profit.InexactFloat64()})
}

func (s *Server) handleAccountTrades(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trades, err := s.deps.Accounts.Trades(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeResponses(trades))
}

type cleanupRequest struct {
	Profit *decimal.Decimal `json:"profit"`
	Date   string           `json:"date,omitempty"`
	From   *time.Time       `json:"from,omitempty"`
	To     *time.Time       `json:"to,omitempty"`
}

func (s *Server) parseCleanup(req cleanupRequest) (accounts.Cleanup, error) {
	if req.Profit == nil {
		return accounts.Cleanup{}, domain.Validationf("profit is required")
	}
	c := accounts.Cleanup{Profit: *req.Profit}
	if req.Date != "" {
		day, err := time.ParseInLocation(time.DateOnly, req.Date, s.loc)
		if err != nil {
			return accounts.Cleanup{}, domain.Validationf("date must look like 2006-01-02")
		}
		c.Date = day
	}
	if req.From != nil {
		c.From = *req.From
	}
	if req.To != nil {
		c.To = *req.To
	}
	return c, nil
}

func (s *Server) handleCleanupTrades(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req cleanupRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.parseCleanup(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	deleted, err := s.deps.Accounts.CleanupTrades(r.Context(), id, c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	period, opts, err := queryOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := s.deps.Reports.PortfolioHistory(r.Context(), period, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPointResponses(points))
}

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.deps.Reports.PortfolioSummary(r.Context(), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(sum))
}
