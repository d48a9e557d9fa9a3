package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/payoutd/internal/ledger"
	"github.com/terminal-bench/payoutd/internal/payout"
)

const testDest = "rDarPNJEpCnpBZSfmcquydockkePkjPGA2"

func testAmount() payout.Amount {
	return payout.Native(decimal.NewFromInt(10))
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeLedger scripts the node's behavior per artifact.
type fakeLedger struct {
	mu           sync.Mutex
	nextSequence uint64
	accountErr   error
	accountCalls int
	submitFn     func(artifact []byte) (ledger.SubmitResult, error)
	confirmFn    func(artifact []byte) (ledger.ConfirmOutcome, error)
	submitted    []string
}

func (f *fakeLedger) AccountInfo(ctx context.Context, address string) (ledger.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.accountErr != nil {
		return ledger.AccountInfo{}, f.accountErr
	}
	return ledger.AccountInfo{Address: address, NextSequence: f.nextSequence}, nil
}

func (f *fakeLedger) Submit(ctx context.Context, artifact []byte) (ledger.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, string(artifact))
	if f.submitFn != nil {
		return f.submitFn(artifact)
	}
	return ledger.SubmitResult{Outcome: ledger.OutcomeAccepted, Code: ledger.CodeOK}, nil
}

func (f *fakeLedger) Confirm(ctx context.Context, artifact []byte) (ledger.ConfirmOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmFn != nil {
		return f.confirmFn(artifact)
	}
	return ledger.ConfirmPending, nil
}

// recordingEvents captures lifecycle notifications.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recordingEvents) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingEvents) PayoutSigned(p payout.Payment)    { r.record("signed:%d", p.ID) }
func (r *recordingEvents) PayoutSubmitted(p payout.Payment) { r.record("submitted:%d", p.ID) }
func (r *recordingEvents) PayoutConfirmed(p payout.Payment) { r.record("confirmed:%d", p.ID) }
func (r *recordingEvents) PayoutFailed(p payout.Payment, kind string, fatal bool) {
	r.record("failed:%d:%s:%t", p.ID, kind, fatal)
}
func (r *recordingEvents) PayoutsResigned(fromID int64, count int64) {
	r.record("resigned:%d:%d", fromID, count)
}

// failingStore injects a MarkSigned failure on one row.
type failingStore struct {
	Store
	failID int64
}

func (s *failingStore) MarkSigned(ctx context.Context, id int64, sequence uint64, artifact []byte) error {
	if id == s.failID {
		return fmt.Errorf("simulated store failure on %d", id)
	}
	return s.Store.MarkSigned(ctx, id, sequence, artifact)
}

// countingStore counts committed mutations.
type countingStore struct {
	Store
	mutations int32
}

func (s *countingStore) count(err error) error {
	if err == nil {
		atomic.AddInt32(&s.mutations, 1)
	}
	return err
}

func (s *countingStore) MarkSigned(ctx context.Context, id int64, sequence uint64, artifact []byte) error {
	return s.count(s.Store.MarkSigned(ctx, id, sequence, artifact))
}

func (s *countingStore) MarkSubmitted(ctx context.Context, id int64) error {
	return s.count(s.Store.MarkSubmitted(ctx, id))
}

func (s *countingStore) MarkConfirmed(ctx context.Context, id int64) error {
	return s.count(s.Store.MarkConfirmed(ctx, id))
}

func (s *countingStore) MarkError(ctx context.Context, id int64, kind string, fatal bool) error {
	return s.count(s.Store.MarkError(ctx, id, kind, fatal))
}

func (s *countingStore) ClearSignedFrom(ctx context.Context, from int64) (int64, error) {
	n, err := s.Store.ClearSignedFrom(ctx, from)
	if err == nil && n > 0 {
		atomic.AddInt32(&s.mutations, 1)
	}
	return n, err
}

// blockingStore parks the first ListSubmittedUnconfirmed call until released.
type blockingStore struct {
	Store
	entered   chan struct{}
	release   chan struct{}
	listCalls int32
	once      sync.Once
}

func newBlockingStore(inner Store) *blockingStore {
	return &blockingStore{
		Store:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingStore) ListSubmittedUnconfirmed(ctx context.Context) ([]*payout.Payment, error) {
	atomic.AddInt32(&s.listCalls, 1)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.ListSubmittedUnconfirmed(ctx)
}
