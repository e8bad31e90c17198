package service

import (
	"context"
	"fmt"

	"duo-pass-api/internal/database"
	"duo-pass-api/internal/events"
	"duo-pass-api/internal/models"
	"duo-pass-api/internal/month"
	"duo-pass-api/internal/validation"
)

// Service owns the month-pass ledgers for every user. All mutations go
// through it; callers re-read state after a mutation instead of relying on
// any cached view.
type Service struct {
	db     *database.DB
	clock  month.Clock
	events *events.Manager
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for elapsed-month checks.
func WithClock(c month.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithEvents sets the manager that receives pass and match events.
func WithEvents(m *events.Manager) Option {
	return func(s *Service) {
		s.events = m
	}
}

// NewService creates a new service instance.
func NewService(db *database.DB, opts ...Option) *Service {
	s := &Service{
		db:     db,
		clock:  month.SystemClock{},
		events: events.NewManager(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentMonth returns the month the service considers "now".
func (s *Service) CurrentMonth() string {
	return month.Current(s.clock)
}

// GetPassForMonth returns the user's active pass for m, or nil when there is
// none.
func (s *Service) GetPassForMonth(ctx context.Context, userID, m string) (*models.MonthPass, error) {
	if err := validateUserMonth(userID, m); err != nil {
		return nil, err
	}
	return s.db.ActivePass(ctx, userID, m)
}

// ListPasses returns every pass the user has held, including upgraded and
// refunded ones.
func (s *Service) ListPasses(ctx context.Context, userID string) ([]models.MonthPass, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	passes, err := s.db.ListPasses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	if passes == nil {
		passes = []models.MonthPass{}
	}
	return passes, nil
}

// PassHistory returns the upgrade chain of one month, oldest pass first.
func (s *Service) PassHistory(ctx context.Context, userID, m string) ([]models.MonthPass, error) {
	if err := validateUserMonth(userID, m); err != nil {
		return nil, err
	}
	passes, err := s.db.PassesForMonth(ctx, userID, m)
	if err != nil {
		return nil, fmt.Errorf("failed to load pass history: %w", err)
	}
	if passes == nil {
		passes = []models.MonthPass{}
	}
	return passes, nil
}

// ListTransactions returns the user's ledger in write order.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, err
	}
	txns, err := s.db.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	return txns, nil
}

func validateUserMonth(userID, m string) error {
	if err := validation.ValidateUserID(userID); err != nil {
		return err
	}
	return validation.ValidateMonth(m, "month")
}
