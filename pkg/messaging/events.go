package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Subjects for payout lifecycle events.
const (
	SubjectPayoutCreated   = "payout.created"
	SubjectPayoutSigned    = "payout.signed"
	SubjectPayoutSubmitted = "payout.submitted"
	SubjectPayoutConfirmed = "payout.confirmed"
	SubjectPayoutFailed    = "payout.failed"
	SubjectPayoutAborted   = "payout.aborted"
	SubjectPayoutsResigned = "payout.resigned"
)

// PayoutEvent describes one committed lifecycle transition.
type PayoutEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	PayoutID    int64     `json:"payout_id"`
	Reference   uuid.UUID `json:"reference,omitempty"`
	State       string    `json:"state"`
	Destination string    `json:"destination,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Sequence    *uint64   `json:"sequence,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Fatal       bool      `json:"fatal,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ResignEvent describes a resign recovery pass.
type ResignEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	FromID    int64     `json:"from_id"`
	Cleared   int64     `json:"cleared"`
	Timestamp time.Time `json:"timestamp"`
}
