package payout

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a payout.
type State string

const (
	// StatePending means the payout is queued and carries no sequence number yet.
	StatePending State = "pending"
	// StateSigned means a sequence number has been stamped and a signed artifact stored.
	StateSigned State = "signed"
	// StateSubmitted means the signed artifact has been accepted by the ledger node
	// but is not yet confirmed in a closed ledger.
	StateSubmitted State = "submitted"
	// StateConfirmed is terminal: the ledger confirmed the transaction.
	StateConfirmed State = "confirmed"
	// StateError means the payout failed; terminal only when Fatal is set.
	StateError State = "error"
	// StateAborted is set by the operator to pull a payout out of the pipeline.
	StateAborted State = "aborted"
)

// InFlight reports whether the state consumes a sequence number the ledger
// has not confirmed yet.
func (s State) InFlight() bool {
	return s == StateSigned || s == StateSubmitted
}

// ConsumesSequence reports whether a row in this state holds a stamped
// sequence number (signed or beyond).
func (s State) ConsumesSequence() bool {
	return s == StateSigned || s == StateSubmitted || s == StateConfirmed
}

// Payment is one intended transfer from the funding account.
type Payment struct {
	ID          int64      `json:"id"`
	Reference   uuid.UUID  `json:"reference"`
	Destination string     `json:"destination"`
	Amount      Amount     `json:"amount"`
	Memo        string     `json:"memo,omitempty"`
	State       State      `json:"state"`
	Sequence    *uint64    `json:"sequence,omitempty"`
	Artifact    []byte     `json:"-"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Fatal       bool       `json:"fatal,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
