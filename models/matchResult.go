package models

import (
	"github.com/shopspring/decimal"
)

// Signal names used in MatchCandidate.SignalScores.
const (
	SignalReferenceMatch = "reference_match"
	SignalAmountMatch    = "amount_match"
	SignalIdentityMatch  = "identity_match"
	SignalRecency        = "recency"
)

// MatchCandidate pairs a transaction with a plausible invoice. Ephemeral,
// produced per run; SignalScores is empty until the scoring pass.
type MatchCandidate struct {
	TransactionId  int                `json:"transaction_id"`
	InvoiceId      int                `json:"invoice_id"`
	Invoice        *Invoice           `json:"-"`
	SignalScores   map[string]float64 `json:"signal_scores"`
	CompositeScore float64            `json:"composite_score"`
	// AmountDiff = transaction.amount - invoice.outstanding at scoring time.
	AmountDiff decimal.Decimal `json:"amount_diff"`
}

// MatchResult is the terminal classification of one transaction for one run.
// The union of results over a run partitions the valid transaction set.
type MatchResult struct {
	TransactionId int         `json:"transaction_id"`
	Bucket        MatchBucket `json:"bucket"`
	BestInvoiceId *int        `json:"best_invoice_id"`
	Confidence    float64     `json:"confidence"`
	ReasonCodes   []string    `json:"reason_codes"`
	// OverpayAmount is set when the winning match exceeds the invoice's
	// outstanding balance beyond tolerance.
	OverpayAmount decimal.Decimal `json:"overpay_amount"`
}

func (r *MatchResult) HasReason(code string) bool {
	for _, c := range r.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}

// TransactionMatch is the report row: the transaction together with its
// classification outcome.
type TransactionMatch struct {
	Transaction Transaction `json:"transaction"`
	Result      MatchResult `json:"result"`
}
