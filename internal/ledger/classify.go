package ledger

// Engine result codes the node returns on submission. The node's vocabulary
// is wider than the pipeline's; everything funnels through ClassifySubmit.
const (
	CodeOK     = "ok"     // applied to the open ledger
	CodeQueued = "queued" // held for a later ledger, sequence consumed

	CodePastSequence   = "past_sequence"   // sequence already used by the account
	CodeFutureSequence = "future_sequence" // sequence ahead of the account's next
	CodeStaleSequence  = "stale_sequence"  // artifact expired before its sequence came up

	CodeRejDestination = "rej_destination" // destination does not exist or refuses the asset
	CodeRejAmount      = "rej_amount"      // amount violates ledger rules
	CodeRejPolicy      = "rej_policy"      // destination policy (e.g. deposit auth) refused
	CodeRejMemo        = "rej_memo"        // memo exceeds ledger limits

	CodeBusy = "busy" // node overloaded, retry
)

// nonInvalidating are definitive rejections that consume no sequence slot and
// leave the trailing chain intact, so later rows may still proceed. Any code
// not listed here or in the accepted/transient sets is treated as a resign:
// when in doubt we fail closed on sequence integrity.
var nonInvalidating = map[string]bool{
	CodeRejDestination: true,
	CodeRejAmount:      true,
	CodeRejPolicy:      true,
	CodeRejMemo:        true,
}

// ClassifySubmit maps a raw engine result code to a SubmitResult.
func ClassifySubmit(code string) SubmitResult {
	switch code {
	case CodeOK, CodeQueued:
		return SubmitResult{Outcome: OutcomeAccepted, Code: code}
	case CodeBusy:
		return SubmitResult{Outcome: OutcomeTransient, Code: code}
	case CodePastSequence, CodeFutureSequence, CodeStaleSequence:
		return SubmitResult{Outcome: OutcomeResign, Code: code}
	}
	if nonInvalidating[code] {
		return SubmitResult{Outcome: OutcomeReject, Code: code}
	}
	// unknown definitive failure: reject the row but escalate to resign
	return SubmitResult{Outcome: OutcomeReject, Code: code, InvalidatesSequence: true}
}
