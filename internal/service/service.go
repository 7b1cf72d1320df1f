package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"smartcredit/backend/internal/cache"
	"smartcredit/backend/internal/domain"
	"smartcredit/backend/internal/logger"
	"smartcredit/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// RateSource provides the exchange rate and pricing margin used when a
// request does not carry its own.
type RateSource interface {
	ExchangeRate() decimal.Decimal
	MarginPercent() decimal.Decimal
	Update(exchangeRate decimal.Decimal, marginPercent decimal.Decimal) error
}

type Service struct {
	repo     store.Repository
	rates    RateSource
	board    cache.CreditBoardCache
	boardTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithCreditBoardCache stores computed credit boards for ttl. Every sale and
// payment drops the cached boards.
func WithCreditBoardCache(board cache.CreditBoardCache, ttl time.Duration) Option {
	return func(s *Service) {
		if board != nil {
			s.board = board
			s.boardTTL = ttl
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now. The calendar day of the returned instant is
// "today" for schedules and classification.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, rates RateSource, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		rates: rates,
		board: cache.NoopCreditBoardCache{},
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn inside one repository transaction. Any error from fn rolls
// everything back.
func (s *Service) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Service) Rates(_ context.Context) domain.RatesResponse {
	return domain.RatesResponse{
		ExchangeRate:  s.rates.ExchangeRate(),
		MarginPercent: s.rates.MarginPercent(),
	}
}

func (s *Service) UpdateRates(ctx context.Context, req domain.RatesUpdateRequest) (domain.RatesResponse, error) {
	current := s.Rates(ctx)
	rate := current.ExchangeRate
	if req.ExchangeRate.Valid {
		rate = req.ExchangeRate.Decimal
	}
	margin := current.MarginPercent
	if req.MarginPercent.Valid {
		margin = req.MarginPercent.Decimal
	}

	if !rate.IsPositive() {
		return domain.RatesResponse{}, fmt.Errorf("%w: exchange rate must be positive", store.ErrRuleViolation)
	}
	if margin.IsNegative() {
		return domain.RatesResponse{}, fmt.Errorf("%w: margin cannot be negative", store.ErrRuleViolation)
	}
	if err := s.rates.Update(rate, margin); err != nil {
		return domain.RatesResponse{}, err
	}

	s.logFor(ctx).Info("rates updated",
		zap.String("actor", actorName(ctx)),
		zap.String("exchange_rate", rate.String()),
		zap.String("margin_percent", margin.String()),
	)
	return domain.RatesResponse{ExchangeRate: rate, MarginPercent: margin}, nil
}

func (s *Service) invalidateBoard(ctx context.Context) {
	if err := s.board.Invalidate(ctx); err != nil {
		s.logFor(ctx).Warn("credit board invalidation failed", zap.Error(err))
	}
}

// logFor prefers the request-scoped logger so entries carry the request id.
func (s *Service) logFor(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, s.log)
}

func actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return "system"
	}
	return actor.Username
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
