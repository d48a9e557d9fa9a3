// Package ledger talks to the distributed ledger node and maps its raw
// responses onto the small outcome vocabulary the pipeline acts on.
package ledger

import "context"

// SubmitOutcome classifies the ledger's answer to a submission.
type SubmitOutcome int

const (
	// OutcomeAccepted means the node took the artifact; the sequence is consumed.
	OutcomeAccepted SubmitOutcome = iota
	// OutcomeTransient means a temporary network or node fault; retry next tick.
	OutcomeTransient
	// OutcomeResign means the node will never accept this sequenced artifact;
	// the row and everything signed after it must be re-sequenced.
	OutcomeResign
	// OutcomeReject means a definitive rejection unrelated to sequencing,
	// recorded on the row alone.
	OutcomeReject
)

func (o SubmitOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeTransient:
		return "transient"
	case OutcomeResign:
		return "resign"
	case OutcomeReject:
		return "reject"
	default:
		return "unknown"
	}
}

// SubmitResult is the classified answer to a submission.
type SubmitResult struct {
	Outcome SubmitOutcome
	// Code is the raw engine result code, kept for logs and error records.
	Code string
	// InvalidatesSequence is set on rejects that broke the sequence chain and
	// must be escalated to a resign despite being definitive.
	InvalidatesSequence bool
}

// ConfirmOutcome classifies the ledger's answer to a confirmation probe.
type ConfirmOutcome int

const (
	// ConfirmConfirmed means the transaction is in a closed ledger.
	ConfirmConfirmed ConfirmOutcome = iota
	// ConfirmPending means the node still has it queued; check again later.
	ConfirmPending
	// ConfirmLost means the node no longer knows the transaction; it will
	// never confirm and the trailing window must be re-signed.
	ConfirmLost
)

// AccountInfo is the ledger's view of the funding account.
type AccountInfo struct {
	Address      string `json:"address"`
	NextSequence uint64 `json:"next_sequence"`
}

// Client is the pipeline's view of the ledger node.
type Client interface {
	AccountInfo(ctx context.Context, address string) (AccountInfo, error)
	Submit(ctx context.Context, artifact []byte) (SubmitResult, error)
	Confirm(ctx context.Context, artifact []byte) (ConfirmOutcome, error)
}
