package web

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

type webhookResponse struct {
	Status     string `json:"status"`
	Received   int    `json:"received"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.deps.Metrics.WebhookRequest("invalid")
		s.writeError(w, r, domain.Validationf("read body: %v", err))
		return
	}

	res, err := s.deps.Webhooks.HandleWebhook(r.Context(), token, body, s.limiter.Admit)
	if err != nil {
		switch statusFor(err) {
		case http.StatusNotFound:
			writeJSON(w, http.StatusNotFound, errorResponse{Message: "invalid token"})
			return
		case http.StatusTooManyRequests:
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: "too many requests"})
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.logger.Debug("webhook accepted", zap.Int64("account_id", res.Account.ID), zap.Int("inserted", res.Inserted))
	writeJSON(w, http.StatusOK, webhookResponse{
		Status:     "ok",
		Received:   res.Received,
		Inserted:   res.Inserted,
		Duplicates: res.Duplicates,
		Skipped:    res.Skipped,
	})
}
