// Package postgres implements the event store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/equitydash/pkg/retrier"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// Config connection settings.
type Config struct {
	DSN            string
	ConnectTimeout time.Duration
	MaxOpenConns   int
	IdleTimeout    time.Duration
	ConnectRetries int
}

// Store event store backed by a database/sql pool.
type Store struct {
	db     *sql.DB
	loc    *time.Location
	zone   string
	logger *zap.Logger
}

// Open connects, pings with retries and applies the schema.
func Open(ctx context.Context, cfg Config, loc *time.Location, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if loc == nil {
		loc = time.Local
	}
	logger = logger.Named("postgres")

	dsn, err := withConnectTimeout(cfg.DSN, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	r := retrier.New(
		retrier.WithMaxRetries(cfg.ConnectRetries),
		retrier.WithRetryIf(isUnavailable),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			logger.Warn("postgres not reachable, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	db, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, retrier.Permanent(err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	})
	if err != nil {
		return nil, classify(err, "connect")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	s := &Store{db: db, loc: loc, zone: zoneName(loc), logger: logger}
	if s.zone != loc.String() {
		logger.Warn("time zone has no IANA name, bucketing in fallback zone", zap.String("zone", s.zone))
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, classify(err, "apply schema")
	}

	logger.Info("postgres store ready", zap.Int("max_open_conns", cfg.MaxOpenConns))
	return s, nil
}

// Ping checks store reachability.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx), "ping")
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withConnectTimeout adds connect_timeout to the DSN unless it is already set.
// Both URL and key=value forms are accepted.
func withConnectTimeout(dsn string, timeout time.Duration) (string, error) {
	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", errors.Wrap(err, "parse postgres dsn")
		}
		q := u.Query()
		if q.Get("connect_timeout") == "" {
			q.Set("connect_timeout", fmt.Sprint(seconds))
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	if strings.Contains(dsn, "connect_timeout=") {
		return dsn, nil
	}
	return fmt.Sprintf("%s connect_timeout=%d", dsn, seconds), nil
}

// zoneName returns the IANA name Postgres uses for bucketing.
func zoneName(loc *time.Location) string {
	name := loc.String()
	if name != "Local" {
		return name
	}
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	return "UTC"
}

// inLoc reinterprets a zone-less timestamp from date_trunc as wall time in loc.
func (s *Store) inLoc(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), s.loc)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
