package models

import (
	"github.com/shopspring/decimal"
)

// Issue is a human-actionable discrepancy detected over the classified
// bucket set: duplicates, overpayments, stale debts, orphaned clusters.
type Issue struct {
	Type            IssueType       `json:"type"`
	Severity        IssueSeverity   `json:"severity"`
	Description     string          `json:"description"`
	TransactionIds  []int           `json:"transaction_ids"`
	InvoiceIds      []int           `json:"invoice_ids"`
	AggregateAmount decimal.Decimal `json:"aggregate_amount"`
}
