// Package accounts manages tracked accounts and trade log maintenance.
package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/equitydash/internal/domain"
	"go.uber.org/zap"
)

const maxNameLength = 128

// Store account side of the event store.
type Store interface {
	CreateAccount(ctx context.Context, name, token string, now time.Time) (domain.Account, error)
	Account(ctx context.Context, id int64) (domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	RenameAccount(ctx context.Context, id int64, name string) (domain.Account, error)
	DeleteAccount(ctx context.Context, id int64) error

	ListTrades(ctx context.Context, q domain.TradeQuery) ([]domain.Trade, error)
	DeleteTrades(ctx context.Context, accountID int64, profit decimal.Decimal, from, to time.Time) (int64, error)
}

// Recomputer refreshes cached account stats after the trade log changes.
type Recomputer interface {
	RecomputeStats(ctx context.Context, accountID int64, supplied *domain.SnapshotEvent) (domain.Account, error)
}

// Service account management.
type Service struct {
	store      Store
	recomputer Recomputer
	logger     *zap.Logger
	now        func() time.Time
	loc        *time.Location
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets broker time.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// NewService creates an account service.
func NewService(store Store, recomputer Recomputer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		recomputer: recomputer,
		logger:     logger.Named("accounts"),
		now:        time.Now,
		loc:        time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

// Create registers an account with a fresh webhook token.
func (s *Service) Create(ctx context.Context, name string) (domain.Account, error) {
	name, err := cleanName(name)
	if err != nil {
		return domain.Account{}, err
	}

	acct, err := s.store.CreateAccount(ctx, name, uuid.NewString(), s.clock())
	if err != nil {
		return domain.Account{}, errors.Wrap(err, "create account")
	}
	s.logger.Info("account created", zap.Int64("account_id", acct.ID), zap.String("name", acct.Name))
	return acct, nil
}

// List returns every account, most recently updated first.
func (s *Service) List(ctx context.Context) ([]domain.Account, error) {
	return s.store.Accounts(ctx)
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (domain.Account, error) {
	return s.store.Account(ctx, id)
}

// Rename changes the display name.
func (s *Service) Rename(ctx context.Context, id int64, name string) (domain.Account, error) {
	name, err := cleanName(name)
	if err != nil {
		return domain.Account{}, err
	}
	return s.store.RenameAccount(ctx, id, name)
}

// Delete removes the account with its trades and snapshots.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.Int64("account_id", id))
	return nil
}

// Trades returns the account's trades, newest first.
func (s *Service) Trades(ctx context.Context, id int64) ([]domain.Trade, error) {
	if _, err := s.store.Account(ctx, id); err != nil {
		return nil, err
	}
	trades, err := s.store.ListTrades(ctx, domain.TradeQuery{AccountID: id})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", domain.Validationf("account name is required")
	case len(name) > maxNameLength:
		return "", domain.Validationf("account name is longer than %d bytes", maxNameLength)
	}
	return name, nil
}
