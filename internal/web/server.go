// Package web exposes the dashboard API, the terminal webhook and the live
// account stream over HTTP.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"github.com/vadiminshakov/equitydash/internal/metrics"
	"github.com/vadiminshakov/equitydash/internal/services/accounts"
	"github.com/vadiminshakov/equitydash/internal/services/ingest"
	"github.com/vadiminshakov/equitydash/internal/services/reporting"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const (
	defaultHeartbeat = 30 * time.Second
	defaultPoll      = 3 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// Reports answers history and profit queries.
type Reports interface {
	AccountHistory(ctx context.Context, accountID int64, period domain.Period, opts reporting.Options) ([]domain.Point, error)
	PortfolioHistory(ctx context.Context, period domain.Period, opts reporting.Options) ([]domain.Point, error)
	AccountProfit(ctx context.Context, accountID int64, period domain.Period) (decimal.Decimal, error)
	PortfolioSummary(ctx context.Context, period domain.Period) (reporting.Summary, error)
}

// Accounts manages accounts and their trade logs.
type Accounts interface {
	Create(ctx context.Context, name string) (domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
	Get(ctx context.Context, id int64) (domain.Account, error)
	Rename(ctx context.Context, id int64, name string) (domain.Account, error)
	Delete(ctx context.Context, id int64) error
	Trades(ctx context.Context, id int64) ([]domain.Trade, error)
	CleanupTrades(ctx context.Context, id int64, c accounts.Cleanup) (int64, error)
}

// Webhooks processes terminal deliveries.
type Webhooks interface {
	HandleWebhook(ctx context.Context, token string, body []byte, admit ingest.Admit) (ingest.Result, error)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FeedReader replays the account feed.
type FeedReader interface {
	RecordsAfter(index uint64) ([]domain.FeedRecordEntry, error)
}

// Subscriber delivers new feed entries as they are written.
type Subscriber interface {
	Subscribe() chan domain.FeedRecordEntry
	Unsubscribe(ch chan domain.FeedRecordEntry)
}

// Deps services behind the HTTP API. Feed, Events and Gatherer are optional.
type Deps struct {
	Reports  Reports
	Accounts Accounts
	Webhooks Webhooks
	Health   Pinger
	Feed     FeedReader
	Events   Subscriber
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server HTTP front of the service.
type Server struct {
	addr      string
	deps      Deps
	logger    *zap.Logger
	loc       *time.Location
	apiKey    string
	limiter   *accountLimiter
	heartbeat time.Duration
	poll      time.Duration
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKey guards /api, except the webhook, with the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithLocation sets broker time used to read calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) { s.loc = loc }
}

// WithWebhookRate limits deliveries per token.
func WithWebhookRate(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = newAccountLimiter(perSecond, burst) }
}

// WithStreamIntervals overrides the stream heartbeat and feed poll intervals.
func WithStreamIntervals(heartbeat, poll time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = heartbeat
		s.poll = poll
	}
}

// NewServer creates a server listening on addr once started.
func NewServer(addr string, deps Deps, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		deps:      deps,
		logger:    logger.Named("web"),
		loc:       time.Local,
		limiter:   newAccountLimiter(5, 20),
		heartbeat: defaultHeartbeat,
		poll:      defaultPoll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// authenticated by its token
	r.HandleFunc("/api/webhook/mt5/{token}", s.handleWebhook).Methods(http.MethodPost)

	// streamed responses stay uncompressed
	stream := r.PathPrefix("/api/stream").Subrouter()
	stream.Use(s.requireAPIKey)
	stream.HandleFunc("/accounts", s.handleAccountStream).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireAPIKey, handlers.CompressHandler)
	api.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id:[0-9]+}", s.handleGetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id:[0-9]+}", s.handleRenameAccount).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id:[0-9]+}", s.handleDeleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{id:[0-9]+}/history", s.handleAccountHistory).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id:[0-9]+}/profit", s.handleAccountProfit).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id:[0-9]+}/trades", s.handleAccountTrades).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id:[0-9]+}/trades/cleanup", s.handleCleanupTrades).Methods(http.MethodPost)
	api.HandleFunc("/portfolio/history", s.handlePortfolioHistory).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/summary", s.handlePortfolioSummary).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-API-Key", "Last-Event-ID"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(s.logRequests(cors(r)))
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates plus an HTTP
// server on :80 answering HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	s.logger.Info("https server listening", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
