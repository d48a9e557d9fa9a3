// Package payments is the operator-facing creation and abort boundary.
// Validation happens here, once; nothing invalid ever enters the pipeline.
package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// maxMemoBytes caps the operator-supplied memo.
const maxMemoBytes = 256

// Store is the subset of the store this service needs.
type Store interface {
	InsertPending(ctx context.Context, dest string, amount payout.Amount, memo string) (int64, error)
	Get(ctx context.Context, id int64) (*payout.Payment, error)
	ListByState(ctx context.Context, state payout.State, limit int) ([]*payout.Payment, error)
	MarkAborted(ctx context.Context, id int64) error
}

// Events receives creation and abort notifications.
type Events interface {
	PayoutCreated(p payout.Payment)
	PayoutAborted(p payout.Payment)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) PayoutCreated(payout.Payment) {}
func (NopEvents) PayoutAborted(payout.Payment) {}

// Service creates and aborts payouts.
type Service struct {
	store  Store
	events Events
	log    *logrus.Entry
}

// NewService builds a Service. Nil events and logger get no-op defaults.
func NewService(store Store, events Events, logger *logrus.Logger) *Service {
	if events == nil {
		events = NopEvents{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		store:  store,
		events: events,
		log:    logger.WithField("component", "payments"),
	}
}

// CreateRequest is one intended transfer as the operator states it. Amount is
// either a bare positive scalar (native asset) or a value/currency/issuer
// tuple.
type CreateRequest struct {
	Destination string          `json:"destination"`
	Value       decimal.Decimal `json:"value"`
	Currency    string          `json:"currency,omitempty"`
	Issuer      string          `json:"issuer,omitempty"`
	Memo        string          `json:"memo,omitempty"`
}

// Create validates the request and inserts a pending payout.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*payout.Payment, error) {
	if !payout.ValidAddress(req.Destination) {
		return nil, &payout.ValidationError{Field: "destination", Reason: "invalid ledger address"}
	}
	amount := payout.Amount{Value: req.Value, Currency: req.Currency, Issuer: req.Issuer}
	if err := amount.Validate(); err != nil {
		return nil, err
	}
	if len(req.Memo) > maxMemoBytes {
		return nil, &payout.ValidationError{Field: "memo", Reason: fmt.Sprintf("longer than %d bytes", maxMemoBytes)}
	}

	id, err := s.store.InsertPending(ctx, req.Destination, amount, req.Memo)
	if err != nil {
		return nil, fmt.Errorf("failed to create payout: %w", err)
	}
	created, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load created payout: %w", err)
	}

	s.events.PayoutCreated(*created)
	s.log.WithFields(logrus.Fields{
		"payout":      created.ID,
		"destination": created.Destination,
		"amount":      created.Amount.String(),
	}).Info("payout created")
	return created, nil
}

// Get returns one payout.
func (s *Service) Get(ctx context.Context, id int64) (*payout.Payment, error) {
	return s.store.Get(ctx, id)
}

// List returns payouts in a state, newest first.
func (s *Service) List(ctx context.Context, state payout.State, limit int) ([]*payout.Payment, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.store.ListByState(ctx, state, limit)
}

// Abort transitions a non-terminal payout to aborted. The driver notices on
// its next tick and re-signs the trailing window.
func (s *Service) Abort(ctx context.Context, id int64) (*payout.Payment, error) {
	if err := s.store.MarkAborted(ctx, id); err != nil {
		return nil, err
	}
	aborted, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load aborted payout: %w", err)
	}

	s.events.PayoutAborted(*aborted)
	s.log.WithField("payout", id).Info("payout aborted by operator")
	return aborted, nil
}
