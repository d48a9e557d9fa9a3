package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/payoutd/internal/ledger"
	"github.com/terminal-bench/payoutd/internal/payout"
)

// Submitter pushes signed artifacts to the ledger and reconciles submitted
// rows against confirmations.
type Submitter struct {
	store  Store
	client ledger.Client
	events Events
	log    *logrus.Entry
}

// NewSubmitter builds a Submitter. Nil events and logger get no-op defaults.
func NewSubmitter(store Store, client ledger.Client, events Events, logger *logrus.Logger) *Submitter {
	if events == nil {
		events = NopEvents{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Submitter{
		store:  store,
		client: client,
		events: events,
		log:    logger.WithField("component", "submitter"),
	}
}

// SubmitTransactions reconciles submitted rows against the ledger, then
// drains all signed-unsubmitted rows in id order. It stops at the first
// transient fault (retried next tick) or resign condition (recovered by the
// driver); non-invalidating rejects are recorded on their row and the drain
// continues.
func (s *Submitter) SubmitTransactions(ctx context.Context) error {
	if err := s.confirmSweep(ctx); err != nil {
		return err
	}
	return s.drain(ctx)
}

// confirmSweep runs first so quota freed by confirmations is usable in the
// same tick.
func (s *Submitter) confirmSweep(ctx context.Context) error {
	submitted, err := s.store.ListSubmittedUnconfirmed(ctx)
	if err != nil {
		return fmt.Errorf("failed to list submitted payouts: %w", err)
	}

	for _, p := range submitted {
		outcome, err := s.client.Confirm(ctx, p.Artifact)
		if err != nil {
			if payout.IsTransient(err) {
				return err
			}
			return &payout.FatalError{PaymentID: p.ID, Err: fmt.Errorf("failed to confirm: %w", err)}
		}
		switch outcome {
		case ledger.ConfirmConfirmed:
			if err := s.store.MarkConfirmed(ctx, p.ID); err != nil {
				return &payout.FatalError{PaymentID: p.ID, Err: fmt.Errorf("failed to mark confirmed: %w", err)}
			}
			confirmed := *p
			confirmed.State = payout.StateConfirmed
			s.events.PayoutConfirmed(confirmed)
		case ledger.ConfirmLost:
			// the node dropped it; its sequence was never applied and every
			// later in-flight row is built on top of it
			return &payout.ResignRequiredError{Payment: *p, Reason: "submitted transaction lost", DemoteSelf: true}
		case ledger.ConfirmPending:
			// still in flight
		}
	}
	return nil
}

func (s *Submitter) drain(ctx context.Context) error {
	signed, err := s.store.ListSignedUnsubmitted(ctx)
	if err != nil {
		return fmt.Errorf("failed to list signed payouts: %w", err)
	}

	for _, p := range signed {
		result, err := s.client.Submit(ctx, p.Artifact)
		if err != nil {
			if payout.IsTransient(err) {
				return err
			}
			return &payout.FatalError{PaymentID: p.ID, Err: fmt.Errorf("failed to submit: %w", err)}
		}

		switch result.Outcome {
		case ledger.OutcomeAccepted:
			if err := s.store.MarkSubmitted(ctx, p.ID); err != nil {
				return &payout.FatalError{PaymentID: p.ID, Err: fmt.Errorf("failed to mark submitted: %w", err)}
			}
			submitted := *p
			submitted.State = payout.StateSubmitted
			s.events.PayoutSubmitted(submitted)

		case ledger.OutcomeTransient:
			return &payout.TransientError{Err: fmt.Errorf("node busy submitting payout %d (%s)", p.ID, result.Code)}

		case ledger.OutcomeResign:
			return &payout.ResignRequiredError{Payment: *p, Reason: result.Code, DemoteSelf: true}

		case ledger.OutcomeReject:
			if err := s.store.MarkError(ctx, p.ID, result.Code, false); err != nil {
				return &payout.FatalError{PaymentID: p.ID, Err: fmt.Errorf("failed to mark rejected: %w", err)}
			}
			rejected := *p
			rejected.State = payout.StateError
			rejected.ErrorKind = result.Code
			s.events.PayoutFailed(rejected, result.Code, false)
			s.log.WithFields(logrus.Fields{
				"payout": p.ID,
				"code":   result.Code,
			}).Warn("payout rejected by ledger")
			if result.InvalidatesSequence {
				// the reject broke the chain: the row stays in error, but
				// everything signed after it must be re-sequenced
				return &payout.ResignRequiredError{Payment: *p, Reason: result.Code, DemoteSelf: false}
			}
		}
	}
	return nil
}
