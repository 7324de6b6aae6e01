package models

import (
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/shopspring/decimal"
)

// ReconciliationRun is the durable record of one engine run. The report
// itself is stored as JSON so apply can be invoked later against a stored
// preview.
type ReconciliationRun struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:64;index;not null" json:"business_id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	Status        RunStatus `gorm:"size:20;index;not null" json:"status"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	ReportJSON    []byte    `gorm:"type:longtext" json:"-"`
	MatchedCount  int       `json:"matched_count"`
	AppliedCount  int       `json:"applied_count"`
	ConflictCount int       `json:"conflict_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SetReport stores the assembled report payload on the run.
func (r *ReconciliationRun) SetReport(report *ReconciliationReport) error {
	s, err := utils.MarshalToJSON(report)
	if err != nil {
		return err
	}
	r.ReportJSON = []byte(s)
	return nil
}

// Report decodes the stored payload.
func (r *ReconciliationRun) Report() (*ReconciliationReport, error) {
	var report ReconciliationReport
	if err := utils.UnmarshalFromJSON(r.ReportJSON, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// AppliedTransaction is the durable idempotence marker. The unique key on
// (business_id, transaction_id) guarantees a payment is applied at most once
// across all runs; a duplicate-key insert means "already applied, skip".
type AppliedTransaction struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"size:64;not null;index:uniq_applied_txn,unique" json:"business_id"`
	TransactionId int             `gorm:"not null;index:uniq_applied_txn,unique" json:"transaction_id"`
	RunId         int             `gorm:"index;not null" json:"run_id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
