package pipeline

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// ErrSequenceUninitialized is returned when signing is attempted before the
// driver has established the next-sequence cursor.
var ErrSequenceUninitialized = errors.New("sequence cursor not initialized")

// Signer owns the in-memory next-sequence cursor and turns pending payouts
// into signed artifacts. The cursor is authoritative only while the driver is
// active; after a restart it is rebuilt from the store or the ledger.
type Signer struct {
	store          Store
	events         Events
	fundingAddress string
	key            ed25519.PrivateKey

	mu   sync.Mutex
	next *uint64
}

// NewSigner derives the signing key from the funding secret. The secret never
// leaves this struct. A nil events sink is replaced with NopEvents.
func NewSigner(store Store, events Events, fundingAddress, fundingSecret string) *Signer {
	if events == nil {
		events = NopEvents{}
	}
	seed := sha256.Sum256([]byte(fundingSecret))
	return &Signer{
		store:          store,
		events:         events,
		fundingAddress: fundingAddress,
		key:            ed25519.NewKeyFromSeed(seed[:]),
	}
}

// Sequence returns the current cursor; ok is false before initialization.
func (s *Signer) Sequence() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		return 0, false
	}
	return *s.next, true
}

// SetSequence overrides the cursor. Used at initialization and after a resign.
func (s *Signer) SetSequence(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = &n
}

// artifactPayload is the canonical signed body. Field order is fixed by the
// struct so the same payment always serializes identically.
type artifactPayload struct {
	Account     string    `json:"account"`
	Sequence    uint64    `json:"sequence"`
	Reference   uuid.UUID `json:"reference"`
	Destination string    `json:"destination"`
	Value       string    `json:"value"`
	Currency    string    `json:"currency,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	Memo        string    `json:"memo,omitempty"`
}

type artifactEnvelope struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
}

func (s *Signer) sign(p *payout.Payment, sequence uint64) ([]byte, error) {
	payload, err := json.Marshal(artifactPayload{
		Account:     s.fundingAddress,
		Sequence:    sequence,
		Reference:   p.Reference,
		Destination: p.Destination,
		Value:       p.Amount.Value.String(),
		Currency:    p.Amount.Currency,
		Issuer:      p.Amount.Issuer,
		Memo:        p.Memo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(artifactEnvelope{
		Payload:   payload,
		Signature: ed25519.Sign(s.key, payload),
		PublicKey: s.key.Public().(ed25519.PublicKey),
	})
}

// SignTransactions signs up to limit pending payouts in id order, stamping
// consecutive sequence numbers. The cursor only advances after the store
// commits each row, so a mid-batch failure leaves it pointing at the first
// unassigned sequence and no gap is ever introduced.
func (s *Signer) SignTransactions(ctx context.Context, limit int) error {
	if limit <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next == nil {
		return ErrSequenceUninitialized
	}

	pending, err := s.store.ListUnsigned(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list unsigned payouts: %w", err)
	}

	for _, p := range pending {
		sequence := *s.next
		artifact, err := s.sign(p, sequence)
		if err != nil {
			return fmt.Errorf("failed to sign payout %d: %w", p.ID, err)
		}
		if err := s.store.MarkSigned(ctx, p.ID, sequence, artifact); err != nil {
			return &payout.FatalError{PaymentID: p.ID, Err: fmt.Errorf("failed to mark signed: %w", err)}
		}
		next := sequence + 1
		s.next = &next

		signed := *p
		signed.State = payout.StateSigned
		signed.Sequence = &sequence
		s.events.PayoutSigned(signed)
	}
	return nil
}
