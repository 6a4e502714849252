package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/events"
	"github.com/vadiminshakov/equitydash/internal/metrics"
	"github.com/vadiminshakov/equitydash/internal/services/accounts"
	"github.com/vadiminshakov/equitydash/internal/services/ingest"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
	"github.com/vadiminshakov/equitydash/internal/storage/memory"
	"github.com/vadiminshakov/equitydash/internal/storage/snapshotfeed"
	"go.uber.org/zap"
)

var now = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

type stack struct {
	store    *memory.Store
	accounts *accounts.Service
	feed     *snapshotfeed.WALStore
	registry *prometheus.Registry
	server   *Server
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()
	store, err := memory.New(time.UTC, "")
	require.NoError(t, err)

	feed, err := snapshotfeed.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = feed.Close() })

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	broadcaster := events.NewBroadcaster(16)
	clock := func() time.Time { return now }
	logger := zap.NewNop()

	reports := reporting.NewService(store, logger,
		reporting.WithClock(clock), reporting.WithLocation(time.UTC), reporting.WithMetrics(m))
	ingester := ingest.NewService(store, reports, logger,
		ingest.WithClock(clock), ingest.WithLocation(time.UTC), ingest.WithMetrics(m), ingest.WithFeed(feed, broadcaster))
	accts := accounts.NewService(store, ingester, logger,
		accounts.WithClock(clock), accounts.WithLocation(time.UTC))

	deps := Deps{
		Reports:  reports,
		Accounts: accts,
		Webhooks: ingester,
		Health:   store,
		Feed:     feed,
		Events:   broadcaster,
		Metrics:  m,
		Gatherer: registry,
	}
	opts = append([]Option{WithLocation(time.UTC), WithStreamIntervals(time.Hour, 20*time.Millisecond)}, opts...)
	return &stack{
		store:    store,
		accounts: accts,
		feed:     feed,
		registry: registry,
		server:   NewServer(":0", deps, logger, opts...),
	}
}

func (s *stack) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAccountsCRUD(t *testing.T) {
	s := newStack(t)

	rec := s.do(t, http.MethodPost, "/api/accounts", `{"name":"MT5 Demo 01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[accountResponse](t, rec)
	assert.Equal(t, "MT5 Demo 01", created.Name)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, "2026-03-04T12:00:00.000Z", created.CreatedAt)

	rec = s.do(t, http.MethodPost, "/api/accounts", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/accounts/1", `{"name":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decode[accountResponse](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]accountResponse](t, rec), 1)

	rec = s.do(t, http.MethodDelete, "/api/accounts/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/accounts/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryAndProfit(t *testing.T) {
	s := newStack(t)
	acct, err := s.accounts.Create(context.Background(), "Demo")
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.store.InsertTradeIfAbsent(ctx, acct.ID, decimal.NewFromInt(50), now.Add(-3*time.Hour))
	require.NoError(t, err)
	_, err = s.store.InsertTradeIfAbsent(ctx, acct.ID, decimal.NewFromInt(-20), now.Add(-2*time.Hour))
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/accounts/1/history?period=1d", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	points := decode[[]pointResponse](t, rec)
	require.Len(t, points, 4)
	assert.Equal(t, "2026-03-04T00:00:00.000Z", points[0].Timestamp)
	assert.Equal(t, 50.0, points[1].Balance)
	assert.Equal(t, -40.0, points[2].ProfitPercent)
	assert.Equal(t, "2026-03-04T12:00:00.000Z", points[3].Timestamp)

	rec = s.do(t, http.MethodGet, "/api/accounts/1/history?period=1D&resolution=trade", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trade", decode[[]pointResponse](t, rec)[1].Kind)

	rec = s.do(t, http.MethodGet, "/api/accounts/1/profit?period=1W", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30.0, decode[map[string]float64](t, rec)["profit"])

	rec = s.do(t, http.MethodGet, "/api/portfolio/history?period=ALL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, len(decode[[]pointResponse](t, rec)), 2)

	rec = s.do(t, http.MethodGet, "/api/portfolio/summary?period=1D", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30.0, decode[summaryResponse](t, rec).TotalProfit)

	for _, path := range []string{
		"/api/accounts/1/history?period=2D",
		"/api/accounts/1/history?resolution=tick",
		"/api/portfolio/summary?period=week",
	} {
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/accounts/9/history", "").Code)
}

func TestTradesAndCleanup(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	acct, err := s.accounts.Create(ctx, "Demo")
	require.NoError(t, err)
	for i, p := range []string{"-3.5", "-3.5", "10"} {
		_, err := s.store.InsertTradeIfAbsent(ctx, acct.ID, decimal.RequireFromString(p), now.Add(-time.Duration(i+1)*time.Hour))
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/api/accounts/1/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode[[]tradeResponse](t, rec)
	require.Len(t, trades, 3)
	assert.Equal(t, "2026-03-04T11:00:00.000Z", trades[0].Timestamp)

	rec = s.do(t, http.MethodPost, "/api/accounts/1/trades/cleanup", `{"profit":"-3.5","date":"2026-03-04"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), decode[map[string]int64](t, rec)["deleted"])

	got, err := s.store.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)), "stats recomputed after cleanup")

	rec = s.do(t, http.MethodPost, "/api/accounts/1/trades/cleanup", `{"date":"2026-03-04"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/accounts/1/trades/cleanup", `{"profit":1,"date":"04.03.2026"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook(t *testing.T) {
	s := newStack(t, WithWebhookRate(0.001, 2))
	acct, err := s.accounts.Create(context.Background(), "Demo")
	require.NoError(t, err)
	path := "/api/webhook/mt5/" + acct.Token

	for i := range 5 {
		rec := s.do(t, http.MethodPost, fmt.Sprintf("/api/webhook/mt5/unknown-%d", i), `{"balance":1,"equity":1}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Zero(t, s.server.limiter.size(), "unknown tokens get no bucket")

	rec := s.do(t, http.MethodPost, path, `"hello"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, path, `[{"t":1772622000,"p":50},{"t":1772622000,"p":50},{"x":1},{"balance":1050,"equity":1040}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, webhookResponse{Status: "ok", Received: 2, Inserted: 1, Duplicates: 1, Skipped: 1}, decode[webhookResponse](t, rec))

	got, err := s.store.Account(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1050)))

	rec = s.do(t, http.MethodPost, path, `{"balance":1,"equity":1}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, s.server.limiter.size())

	rec = s.do(t, http.MethodDelete, "/api/accounts/"+strconv.FormatInt(acct.ID, 10), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, s.server.limiter.size(), "deleted accounts drop their bucket")

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `equitydash_webhook_requests_total{outcome="limited"} 1`)
	assert.Contains(t, body, `equitydash_webhook_requests_total{outcome="unknown_token"} 5`)
	assert.Contains(t, body, `equitydash_webhook_requests_total{outcome="ok"} 1`)
	assert.Contains(t, body, `equitydash_trades_ingested_total{result="duplicate"} 1`)
}

func TestAPIKey(t *testing.T) {
	s := newStack(t, WithAPIKey("s3cret"))
	acct, err := s.accounts.Create(context.Background(), "Demo")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/accounts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/accounts", "", "X-API-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/accounts", "", "X-API-Key", "s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/stream/accounts", "").Code)

	rec := s.do(t, http.MethodPost, "/api/webhook/mt5/"+acct.Token, `{"balance":5,"equity":5}`)
	assert.Equal(t, http.StatusOK, rec.Code, "webhook is authenticated by its token")
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "").Code)
}

type outageReports struct {
	Reports
}

func (outageReports) PortfolioSummary(context.Context, domain.Period) (reporting.Summary, error) {
	return reporting.Summary{}, errors.Wrap(domain.ErrUnavailable, "sum trades: connection refused")
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return domain.ErrUnavailable }

func TestStoreOutage(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	srv := NewServer(":0", Deps{Reports: outageReports{}, Health: downPinger{}, Metrics: m, Gatherer: registry}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio/summary?period=1D", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "equitydash_store_unavailable_total 1")
}

func readEvent(t *testing.T, r *bufio.Reader) map[string]string {
	t.Helper()
	ev := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(ev) > 0 {
				return ev
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		key, value, _ := strings.Cut(line, ": ")
		ev[key] = value
	}
}

func TestAccountStream(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	acct, err := s.accounts.Create(ctx, "Demo")
	require.NoError(t, err)

	ts := httptest.NewServer(s.server.Handler())
	defer ts.Close()

	webhook := func(body string) {
		resp, err := http.Post(ts.URL+"/api/webhook/mt5/"+acct.Token, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	webhook(`{"balance":100,"equity":100}`)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ts.URL+"/api/stream/accounts", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "account", first["event"])
	assert.Contains(t, first["data"], `"balance":"100"`)

	webhook(`{"balance":110,"equity":108}`)
	second := readEvent(t, reader)
	assert.Equal(t, "2", second["id"])
	assert.Contains(t, second["data"], `"balance":"110"`)

	cancel()

	// resume after the first record
	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/stream/accounts?last_event_id=1", nil)
	require.NoError(t, err)
	resumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	resp2, err := http.DefaultClient.Do(req.WithContext(resumeCtx))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "2", readEvent(t, bufio.NewReader(resp2.Body))["id"])
}

func TestAccountStream_Disabled(t *testing.T) {
	srv := NewServer(":0", Deps{}, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream/accounts", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
