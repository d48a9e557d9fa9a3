package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// Memory is an in-process Store with the same transition semantics as
// Postgres. It backs tests and -dev runs; it is not durable.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	payments map[int64]*payout.Payment
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1, payments: make(map[int64]*payout.Payment)}
}

func (s *Memory) InsertPending(ctx context.Context, dest string, amount payout.Amount, memo string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := s.nextID
	s.nextID++
	s.payments[id] = &payout.Payment{
		ID:          id,
		Reference:   uuid.New(),
		Destination: dest,
		Amount:      amount,
		Memo:        memo,
		State:       payout.StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

func (s *Memory) Get(ctx context.Context, id int64) (*payout.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, payout.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// sorted returns copies of all payouts matching keep, id ascending.
func (s *Memory) sorted(keep func(*payout.Payment) bool) []*payout.Payment {
	var payments []*payout.Payment
	for _, p := range s.payments {
		if keep(p) {
			cp := *p
			payments = append(payments, &cp)
		}
	}
	sort.Slice(payments, func(i, j int) bool { return payments[i].ID < payments[j].ID })
	return payments
}

func (s *Memory) ListUnsigned(ctx context.Context, limit int) ([]*payout.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payments := s.sorted(func(p *payout.Payment) bool { return p.State == payout.StatePending })
	if len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (s *Memory) ListSignedUnsubmitted(ctx context.Context) ([]*payout.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(p *payout.Payment) bool { return p.State == payout.StateSigned }), nil
}

func (s *Memory) ListSubmittedUnconfirmed(ctx context.Context) ([]*payout.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(func(p *payout.Payment) bool { return p.State == payout.StateSubmitted }), nil
}

func (s *Memory) ListByState(ctx context.Context, state payout.State, limit int) ([]*payout.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payments := s.sorted(func(p *payout.Payment) bool { return p.State == state })
	// operator listing is newest first
	for i, j := 0, len(payments)-1; i < j; i, j = i+1, j-1 {
		payments[i], payments[j] = payments[j], payments[i]
	}
	if len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (s *Memory) MarkSigned(ctx context.Context, id int64, sequence uint64, artifact []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.State != payout.StatePending {
		return payout.ErrInvalidTransition
	}
	seq := sequence
	p.State = payout.StateSigned
	p.Sequence = &seq
	p.Artifact = artifact
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) MarkSubmitted(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.State != payout.StateSigned {
		return payout.ErrInvalidTransition
	}
	now := time.Now().UTC()
	p.State = payout.StateSubmitted
	p.SubmittedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *Memory) MarkConfirmed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok || p.State != payout.StateSubmitted {
		return payout.ErrInvalidTransition
	}
	now := time.Now().UTC()
	p.State = payout.StateConfirmed
	p.ConfirmedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *Memory) MarkError(ctx context.Context, id int64, kind string, fatal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return payout.ErrInvalidTransition
	}
	allowed := p.State == payout.StatePending || p.State.InFlight() ||
		(p.State == payout.StateError && !p.Fatal)
	if !allowed {
		return payout.ErrInvalidTransition
	}
	p.State = payout.StateError
	p.ErrorKind = kind
	p.Fatal = fatal
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) MarkAborted(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return payout.ErrNotFound
	}
	switch p.State {
	case payout.StatePending, payout.StateSigned, payout.StateSubmitted, payout.StateError:
		p.State = payout.StateAborted
		p.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return payout.ErrNotAbortable
	}
}

func (s *Memory) IsAborted(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return false, payout.ErrNotFound
	}
	return p.State == payout.StateAborted, nil
}

func (s *Memory) HighestSequence(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max uint64
	found := false
	for _, p := range s.payments {
		if p.State.ConsumesSequence() && p.Sequence != nil && (!found || *p.Sequence > max) {
			max = *p.Sequence
			found = true
		}
	}
	return max, found, nil
}

func (s *Memory) ClearSignedFrom(ctx context.Context, from int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	now := time.Now().UTC()
	for _, p := range s.payments {
		if p.ID >= from && p.State.InFlight() {
			p.State = payout.StatePending
			p.Sequence = nil
			p.Artifact = nil
			p.SubmittedAt = nil
			p.UpdatedAt = now
			cleared++
		}
	}
	return cleared, nil
}
