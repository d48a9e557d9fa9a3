// Package pipeline drives queued payouts through sign, submit and confirm
// against a single funding account. One Driver owns the account's sequence
// stream; running two against the same account corrupts every in-flight row.
package pipeline

import (
	"context"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// Store is the persistence contract the pipeline depends on. Every method is
// atomic; ClearSignedFrom demotes its whole window in one transaction.
type Store interface {
	ListUnsigned(ctx context.Context, limit int) ([]*payout.Payment, error)
	ListSignedUnsubmitted(ctx context.Context) ([]*payout.Payment, error)
	ListSubmittedUnconfirmed(ctx context.Context) ([]*payout.Payment, error)
	MarkSigned(ctx context.Context, id int64, sequence uint64, artifact []byte) error
	MarkSubmitted(ctx context.Context, id int64) error
	MarkConfirmed(ctx context.Context, id int64) error
	MarkError(ctx context.Context, id int64, kind string, fatal bool) error
	IsAborted(ctx context.Context, id int64) (bool, error)
	HighestSequence(ctx context.Context) (uint64, bool, error)
	ClearSignedFrom(ctx context.Context, from int64) (int64, error)
}

// Events receives lifecycle notifications for committed transitions. The
// store stays the source of truth; implementations must not block a tick.
type Events interface {
	PayoutSigned(p payout.Payment)
	PayoutSubmitted(p payout.Payment)
	PayoutConfirmed(p payout.Payment)
	PayoutFailed(p payout.Payment, kind string, fatal bool)
	PayoutsResigned(fromID int64, count int64)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) PayoutSigned(payout.Payment)               {}
func (NopEvents) PayoutSubmitted(payout.Payment)            {}
func (NopEvents) PayoutConfirmed(payout.Payment)            {}
func (NopEvents) PayoutFailed(payout.Payment, string, bool) {}
func (NopEvents) PayoutsResigned(int64, int64)              {}

