package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ReconciliationStore is the engine's view of persistence. The classification
// phase only reads; all writes go through ApplyTransaction and the run
// methods. Tests swap in an in-memory implementation.
type ReconciliationStore interface {
	GetTransactions(ctx context.Context, businessId string, period ReportPeriod, customerId *int) ([]Transaction, error)
	GetOpenInvoices(ctx context.Context, businessId string, customerId *int) ([]Invoice, error)
	GetInvoice(ctx context.Context, businessId string, invoiceId int) (*Invoice, error)

	// AppliedTransactionIds reports which of the given transactions already
	// carry an applied-marker from a previous run.
	AppliedTransactionIds(ctx context.Context, businessId string, transactionIds []int) (map[int]bool, error)

	// ApplyTransaction commits one payment onto one invoice: it inserts the
	// idempotence marker and bumps amount_paid/version in a single database
	// transaction, conditioned on the version the caller read. Outcomes:
	// Applied, AlreadyApplied (marker existed, nothing written), or
	// VersionConflict (another writer raced; re-read and retry).
	ApplyTransaction(ctx context.Context, marker AppliedTransaction, expectedVersion int) (ApplyOutcome, error)

	CreateRun(ctx context.Context, run *ReconciliationRun) error
	GetRun(ctx context.Context, businessId string, runId int) (*ReconciliationRun, error)
	UpdateRun(ctx context.Context, run *ReconciliationRun) error
}

// GormStore is the MySQL-backed store used in production.
type GormStore struct{}

func NewGormStore() *GormStore { return &GormStore{} }

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func (s *GormStore) GetTransactions(ctx context.Context, businessId string, period ReportPeriod, customerId *int) ([]Transaction, error) {
	db := config.GetDB()
	var txns []Transaction
	q := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("transaction_date BETWEEN ? AND ?", period.Start, period.End)
	if customerId != nil {
		q = q.Where("customer_id = ?", *customerId)
	}
	if err := q.Order("id").Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (s *GormStore) GetOpenInvoices(ctx context.Context, businessId string, customerId *int) ([]Invoice, error) {
	db := config.GetDB()
	var invoices []Invoice
	q := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("current_status IN ?", []InvoiceStatus{InvoiceStatusOpen, InvoiceStatusOverdue}).
		Where("total_amount > amount_paid")
	if customerId != nil {
		q = q.Where("customer_id = ?", *customerId)
	}
	if err := q.Order("id").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *GormStore) GetInvoice(ctx context.Context, businessId string, invoiceId int) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	err := db.WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, invoiceId).
		Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *GormStore) AppliedTransactionIds(ctx context.Context, businessId string, transactionIds []int) (map[int]bool, error) {
	applied := make(map[int]bool, len(transactionIds))
	if len(transactionIds) == 0 {
		return applied, nil
	}
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&AppliedTransaction{}).
		Where("business_id = ? AND transaction_id IN ?", businessId, utils.UniqueSlice(transactionIds)).
		Pluck("transaction_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		applied[id] = true
	}
	return applied, nil
}

var errVersionConflict = errors.New("invoice version conflict")
var errAlreadyApplied = errors.New("transaction already applied")

func (s *GormStore) ApplyTransaction(ctx context.Context, marker AppliedTransaction, expectedVersion int) (ApplyOutcome, error) {
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&marker).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return errAlreadyApplied
			}
			return err
		}
		res := tx.Model(&Invoice{}).
			Where("business_id = ? AND id = ? AND version = ?", marker.BusinessId, marker.InvoiceId, expectedVersion).
			Updates(map[string]interface{}{
				"amount_paid": gorm.Expr("amount_paid + ?", marker.Amount),
				"version":     gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errVersionConflict
		}
		// Settled invoices flip to Paid inside the same transaction so the
		// status never disagrees with the balance.
		return tx.Model(&Invoice{}).
			Where("business_id = ? AND id = ? AND amount_paid >= total_amount AND current_status <> ?",
				marker.BusinessId, marker.InvoiceId, InvoiceStatusCancelled).
			Update("current_status", InvoiceStatusPaid).Error
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		return ApplyOutcomeAlreadyApplied, nil
	case errors.Is(err, errVersionConflict):
		return ApplyOutcomeVersionConflict, nil
	case err != nil:
		return ApplyOutcomeVersionConflict, err
	}
	return ApplyOutcomeApplied, nil
}

func (s *GormStore) CreateRun(ctx context.Context, run *ReconciliationRun) error {
	return config.GetDB().WithContext(ctx).Create(run).Error
}

func (s *GormStore) GetRun(ctx context.Context, businessId string, runId int) (*ReconciliationRun, error) {
	var run ReconciliationRun
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND id = ?", businessId, runId).
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *GormStore) UpdateRun(ctx context.Context, run *ReconciliationRun) error {
	return config.GetDB().WithContext(ctx).Save(run).Error
}
