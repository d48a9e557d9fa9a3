package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/payoutd/internal/ledger"
	"github.com/terminal-bench/payoutd/internal/payout"
)

// DefaultMaxInFlight caps submitted-unconfirmed rows when no limit is configured.
const DefaultMaxInFlight = 10

// Driver orchestrates one tick of the pipeline: fatal-error check, sequence
// initialization, quota calculation, signing, submission and recovery. At
// most one tick body executes at a time; overlapping calls return
// immediately with no side effect.
type Driver struct {
	store          Store
	client         ledger.Client
	signer         *Signer
	submitter      *Submitter
	events         Events
	log            *logrus.Entry
	fundingAddress string
	maxInFlight    int

	ticking int32 // CAS re-entrancy guard

	fatalMu sync.Mutex
	fatal   error
}

// DriverConfig wires a Driver.
type DriverConfig struct {
	Store          Store
	Client         ledger.Client
	Signer         *Signer
	Submitter      *Submitter
	Events         Events
	Logger         *logrus.Logger
	FundingAddress string
	MaxInFlight    int
}

// NewDriver builds a Driver. MaxInFlight defaults to DefaultMaxInFlight.
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Driver{
		store:          cfg.Store,
		client:         cfg.Client,
		signer:         cfg.Signer,
		submitter:      cfg.Submitter,
		events:         cfg.Events,
		log:            cfg.Logger.WithField("component", "driver"),
		fundingAddress: cfg.FundingAddress,
		maxInFlight:    cfg.MaxInFlight,
	}
}

// FatalError returns the wedging error, if any.
func (d *Driver) FatalError() error {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	return d.fatal
}

// Tick runs one pipeline pass. If a tick is already in progress it returns
// nil immediately. The returned error is the unrecovered failure of this
// tick; transient faults are logged and swallowed, resigns are recovered
// in place.
func (d *Driver) Tick(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.ticking, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&d.ticking, 0)

	if err := d.checkFatal(ctx); err != nil {
		return err
	}
	return d.classify(ctx, d.run(ctx))
}

// run is the tick body; its error is classified by the caller.
func (d *Driver) run(ctx context.Context) error {
	if err := d.ensureSequence(ctx); err != nil {
		return err
	}

	submitted, err := d.store.ListSubmittedUnconfirmed(ctx)
	if err != nil {
		return fmt.Errorf("failed to count in-flight payouts: %w", err)
	}
	quota := d.maxInFlight - len(submitted)
	if quota > 0 {
		if err := d.signer.SignTransactions(ctx, quota); err != nil {
			return err
		}
	}
	return d.submitter.SubmitTransactions(ctx)
}

// checkFatal enforces the wedge: a stored fatal error blocks every tick until
// the operator aborts the associated payout, at which point the trailing
// window is re-signed and the pipeline resumes.
func (d *Driver) checkFatal(ctx context.Context) error {
	d.fatalMu.Lock()
	fatal := d.fatal
	d.fatalMu.Unlock()
	if fatal == nil {
		return nil
	}

	var fe *payout.FatalError
	if errors.As(fatal, &fe) && fe.PaymentID != 0 {
		aborted, err := d.store.IsAborted(ctx, fe.PaymentID)
		if err != nil {
			// cannot verify operator intervention; stay wedged
			d.log.WithError(err).WithField("payout", fe.PaymentID).Warn("failed to check abort state")
			return fatal
		}
		if aborted {
			d.log.WithField("payout", fe.PaymentID).Info("operator aborted wedged payout, resuming")
			// the aborted row keeps its state; only rows signed after it are invalid
			if err := d.resign(ctx, fe.PaymentID+1); err != nil {
				if payout.IsTransient(err) {
					d.log.WithError(err).Warn("transient fault during resign, retrying next tick")
					return fatal
				}
				return d.promoteFatal(ctx, err)
			}
			d.fatalMu.Lock()
			d.fatal = nil
			d.fatalMu.Unlock()
			return nil
		}
	}
	return fatal
}

// ensureSequence establishes the signer cursor: from the store's highest
// stamped sequence when in-flight rows exist, otherwise from the ledger.
func (d *Driver) ensureSequence(ctx context.Context) error {
	if _, ok := d.signer.Sequence(); ok {
		return nil
	}
	highest, ok, err := d.store.HighestSequence(ctx)
	if err != nil {
		return err
	}
	if ok {
		d.signer.SetSequence(highest + 1)
		return nil
	}
	info, err := d.client.AccountInfo(ctx, d.fundingAddress)
	if err != nil {
		return err
	}
	d.signer.SetSequence(info.NextSequence)
	return nil
}

// resign demotes every signed or submitted-unconfirmed row with id >= from
// back to pending and refreshes the cursor from the ledger. The next tick
// re-signs the window in id order.
func (d *Driver) resign(ctx context.Context, from int64) error {
	// fetch the fresh window first so a ledger fault leaves everything untouched
	info, err := d.client.AccountInfo(ctx, d.fundingAddress)
	if err != nil {
		return err
	}
	cleared, err := d.store.ClearSignedFrom(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to demote payouts from %d: %w", from, err)
	}
	d.signer.SetSequence(info.NextSequence)
	d.events.PayoutsResigned(from, cleared)
	d.log.WithFields(logrus.Fields{
		"from":          from,
		"cleared":       cleared,
		"next_sequence": info.NextSequence,
	}).Warn("resigned trailing payout window")
	return nil
}

// classify applies the recovery policy: transient faults are logged and
// swallowed, resign conditions are recovered, anything else wedges the
// pipeline (fail closed).
func (d *Driver) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if payout.IsTransient(err) {
		d.log.WithError(err).Warn("transient fault, retrying next tick")
		return nil
	}

	var re *payout.ResignRequiredError
	if errors.As(err, &re) {
		from := re.Payment.ID
		if !re.DemoteSelf {
			from++
		}
		d.log.WithFields(logrus.Fields{
			"payout": re.Payment.ID,
			"reason": re.Reason,
		}).Warn("resign required")
		return d.classify(ctx, d.resign(ctx, from))
	}

	return d.promoteFatal(ctx, err)
}

// promoteFatal records err in the fatal slot, marking the associated row when
// there is one. Subsequent ticks short-circuit until the operator intervenes.
func (d *Driver) promoteFatal(ctx context.Context, err error) error {
	fe := &payout.FatalError{Err: err}
	var known *payout.FatalError
	if errors.As(err, &known) {
		fe = known
	}

	if fe.PaymentID != 0 {
		if markErr := d.store.MarkError(ctx, fe.PaymentID, fe.Error(), true); markErr != nil {
			d.log.WithError(markErr).WithField("payout", fe.PaymentID).Error("failed to record fatal error on payout")
		} else {
			d.events.PayoutFailed(payout.Payment{ID: fe.PaymentID, State: payout.StateError}, fe.Error(), true)
		}
	}

	d.fatalMu.Lock()
	d.fatal = fe
	d.fatalMu.Unlock()
	d.log.WithError(fe).Error("pipeline wedged on fatal error")
	return fe
}

// Run ticks the driver on the given cadence until ctx is cancelled. Tick
// errors are already logged and recorded; Run never stops on them.
func (d *Driver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.Tick(ctx)
		}
	}
}
