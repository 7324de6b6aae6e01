package models

import (
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/shopspring/decimal"
)

// Transaction is an incoming payment (mobile money, bank, cash) already
// normalized by the ingestion service. Immutable once ingested; this engine
// only reads it.
type Transaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"size:64;index;not null" json:"business_id"`
	TransactionDate time.Time       `gorm:"index" json:"transaction_date"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Reference       string          `gorm:"size:255" json:"reference"`
	Description     string          `gorm:"type:text" json:"description"`
	CustomerId      *int            `gorm:"index" json:"customer_id"`
	CustomerName    string          `gorm:"size:255" json:"customer_name"`
	CustomerPhone   string          `gorm:"size:50" json:"customer_phone"`
	Channel         string          `gorm:"size:50" json:"channel"` // MOBILE_MONEY | BANK | CASH
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Validate gates entry into classification. Malformed transactions are
// tallied as validation errors, never silently bucketed as Unmatched.
func (t *Transaction) Validate() error {
	if t.TransactionDate.IsZero() {
		return utils.NewValidationError("transaction_date", "missing date")
	}
	if t.Amount.IsZero() {
		return utils.NewValidationError("amount", "missing amount")
	}
	if t.Amount.Sign() < 0 {
		return utils.NewValidationError("amount", "amount must be positive")
	}
	return nil
}

// HasCustomer reports whether the payment carries any customer linkage at
// all (id or phone). Without it, candidate generation scans all invoices.
func (t *Transaction) HasCustomer() bool {
	return t.CustomerId != nil || utils.NormalizePhone(t.CustomerPhone) != ""
}
