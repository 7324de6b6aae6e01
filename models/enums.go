package models

// MatchBucket is the terminal classification of a transaction for one run.
type MatchBucket string

const (
	MatchBucketMatched      MatchBucket = "Matched"
	MatchBucketPartialMatch MatchBucket = "PartialMatch"
	MatchBucketUnmatched    MatchBucket = "Unmatched"
	MatchBucketNeedsReview  MatchBucket = "NeedsReview"
)

func (b MatchBucket) Valid() bool {
	switch b {
	case MatchBucketMatched, MatchBucketPartialMatch, MatchBucketUnmatched, MatchBucketNeedsReview:
		return true
	}
	return false
}

// Reason codes attached to MatchResults. Downstream consumers branch on
// these, so treat them as a wire contract.
const (
	ReasonNoCandidate    = "no_candidate"
	ReasonLowConfidence  = "low_confidence"
	ReasonAmbiguousTie   = "ambiguous_tie"
	ReasonAmountMismatch = "amount_mismatch"
	ReasonWeakSignal     = "weak_signal"
	ReasonOverpayment    = "overpayment"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen      InvoiceStatus = "Open"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

type IssueType string

const (
	IssueTypeDuplicatePayment      IssueType = "duplicate_payment"
	IssueTypeOverpayment           IssueType = "overpayment"
	IssueTypeStaleUnmatchedInvoice IssueType = "stale_unmatched_invoice"
	IssueTypeOrphanedCluster       IssueType = "orphaned_cluster"
)

type IssueSeverity string

const (
	IssueSeverityHigh   IssueSeverity = "HIGH"
	IssueSeverityMedium IssueSeverity = "MEDIUM"
	IssueSeverityLow    IssueSeverity = "LOW"
)

// severityRank orders issues for report sorting (highest first).
func severityRank(s IssueSeverity) int {
	switch s {
	case IssueSeverityHigh:
		return 0
	case IssueSeverityMedium:
		return 1
	default:
		return 2
	}
}

type RunStatus string

const (
	RunStatusPreview          RunStatus = "PREVIEW"
	RunStatusApplying         RunStatus = "APPLYING"
	RunStatusApplied          RunStatus = "APPLIED"
	RunStatusPartiallyApplied RunStatus = "PARTIALLY_APPLIED"
)

// ApplyOutcome is the per-transaction result of the apply step.
type ApplyOutcome string

const (
	ApplyOutcomeApplied         ApplyOutcome = "APPLIED"
	ApplyOutcomeAlreadyApplied  ApplyOutcome = "ALREADY_APPLIED"
	ApplyOutcomeVersionConflict ApplyOutcome = "VERSION_CONFLICT"
)
