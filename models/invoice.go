package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is owned by the invoice store; this engine reads it for a run and,
// on explicit apply, bumps AmountPaid and Version through the repository.
// Outstanding is always recomputed, never stored.
type Invoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;index;not null" json:"business_id"`
	InvoiceNumber string          `gorm:"size:100;index" json:"invoice_number"`
	CustomerId    int             `gorm:"index" json:"customer_id"`
	CustomerName  string          `gorm:"size:255" json:"customer_name"`
	CustomerPhone string          `gorm:"size:50" json:"customer_phone"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_amount"`
	AmountPaid    decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount_paid"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `gorm:"index" json:"due_date"`
	CurrentStatus InvoiceStatus   `gorm:"size:20;index" json:"current_status"`
	// Version is the optimistic-concurrency counter. Every applied payment
	// increments it; writers condition their UPDATE on the value they read.
	Version   int       `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (inv *Invoice) Outstanding() decimal.Decimal {
	return inv.TotalAmount.Sub(inv.AmountPaid)
}

func (inv *Invoice) IsOverdue(asOf time.Time) bool {
	return inv.Outstanding().Sign() > 0 && asOf.After(inv.DueDate)
}

// DaysOverdue is 0 for invoices not yet due.
func (inv *Invoice) DaysOverdue(asOf time.Time) int {
	if !asOf.After(inv.DueDate) {
		return 0
	}
	return int(asOf.Sub(inv.DueDate).Hours() / 24)
}

// AgingBucket mirrors the AR aging report buckets.
func (inv *Invoice) AgingBucket(asOf time.Time) string {
	days := inv.DaysOverdue(asOf)
	switch {
	case days == 0:
		return "current"
	case days <= 15:
		return "1-15"
	case days <= 30:
		return "16-30"
	case days <= 45:
		return "31-45"
	default:
		return "46+"
	}
}

// InvoiceAging is the report row for an unmatched invoice.
type InvoiceAging struct {
	Invoice     Invoice         `json:"invoice"`
	Outstanding decimal.Decimal `json:"outstanding"`
	DaysOverdue int             `json:"days_overdue"`
	AgingBucket string          `json:"aging_bucket"`
}
