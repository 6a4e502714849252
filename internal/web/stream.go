package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

// handleAccountStream replays the account feed after the client's last
// seen index and then pushes new records as server-sent events.
func (s *Server) handleAccountStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Message: "account feed is disabled"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	poll := time.NewTicker(s.poll)
	defer poll.Stop()

	var wake chan domain.FeedRecordEntry
	if s.deps.Events != nil {
		wake = s.deps.Events.Subscribe()
		defer s.deps.Events.Unsubscribe(wake)
	}

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	send := func() error {
		entries, err := s.deps.Feed.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, e := range entries {
			payload, err := json.Marshal(e.Record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", e.Index)
			fmt.Fprintf(w, "event: account\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = e.Index
		}
		if len(entries) > 0 {
			flusher.Flush()
		}
		return nil
	}

	w.WriteHeader(http.StatusOK)
	if err := send(); err != nil {
		s.logger.Error("account stream initial load", zap.Error(err))
		return
	}
	if lastIndex == 0 {
		fmt.Fprintf(w, "event: no_data\n")
		fmt.Fprintf(w, "data: {}\n\n")
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			if err := send(); err != nil {
				s.logger.Warn("account stream push", zap.Error(err))
			}
		case <-poll.C:
			if err := send(); err != nil {
				s.logger.Warn("account stream poll", zap.Error(err))
			}
		}
	}
}

// parseLastEventID reads the resume index from the Last-Event-ID header,
// else from the last_event_id query parameter.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.logger.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}
