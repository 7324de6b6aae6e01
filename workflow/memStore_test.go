package workflow

// NOTE: These tests are intentionally DB-free. The in-memory store below
// implements models.ReconciliationStore with the same semantics the MySQL
// store provides: version-conditioned payment application and a unique
// applied-marker per (business, transaction).
//
// Full DB integration tests should be added in an environment that can run
// MySQL.

import (
	"context"
	"sync"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
)

type memStore struct {
	mu           sync.Mutex
	transactions []models.Transaction
	invoices     map[int]*models.Invoice
	applied      map[int]models.AppliedTransaction
	runs         map[int]*models.ReconciliationRun
	nextRunId    int

	// onGetInvoice lets tests race the optimistic version check.
	onGetInvoice func(inv *models.Invoice)
}

func newMemStore() *memStore {
	return &memStore{
		invoices: map[int]*models.Invoice{},
		applied:  map[int]models.AppliedTransaction{},
		runs:     map[int]*models.ReconciliationRun{},
	}
}

func (s *memStore) addInvoice(inv models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.Version == 0 {
		inv.Version = 1
	}
	if inv.CurrentStatus == "" {
		inv.CurrentStatus = models.InvoiceStatusOpen
	}
	cp := inv
	s.invoices[inv.ID] = &cp
}

func (s *memStore) addTransaction(txn models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, txn)
}

func (s *memStore) invoice(id int) models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.invoices[id]
}

func (s *memStore) GetTransactions(ctx context.Context, businessId string, period models.ReportPeriod, customerId *int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, txn := range s.transactions {
		if txn.BusinessId != businessId || !period.Contains(txn.TransactionDate) {
			continue
		}
		if customerId != nil && (txn.CustomerId == nil || *txn.CustomerId != *customerId) {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (s *memStore) GetOpenInvoices(ctx context.Context, businessId string, customerId *int) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Invoice
	for _, inv := range s.invoices {
		if inv.BusinessId != businessId {
			continue
		}
		if inv.CurrentStatus != models.InvoiceStatusOpen && inv.CurrentStatus != models.InvoiceStatusOverdue {
			continue
		}
		if inv.Outstanding().Sign() <= 0 {
			continue
		}
		if customerId != nil && inv.CustomerId != *customerId {
			continue
		}
		out = append(out, *inv)
	}
	// map iteration is random; callers rely on deterministic input order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (s *memStore) GetInvoice(ctx context.Context, businessId string, invoiceId int) (*models.Invoice, error) {
	s.mu.Lock()
	inv, ok := s.invoices[invoiceId]
	if !ok || inv.BusinessId != businessId {
		s.mu.Unlock()
		return nil, utils.ErrorRecordNotFound
	}
	cp := *inv
	s.mu.Unlock()
	if s.onGetInvoice != nil {
		s.onGetInvoice(&cp)
	}
	return &cp, nil
}

func (s *memStore) AppliedTransactionIds(ctx context.Context, businessId string, transactionIds []int) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int]bool{}
	for _, id := range transactionIds {
		if _, ok := s.applied[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *memStore) ApplyTransaction(ctx context.Context, marker models.AppliedTransaction, expectedVersion int) (models.ApplyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[marker.TransactionId]; ok {
		return models.ApplyOutcomeAlreadyApplied, nil
	}
	inv, ok := s.invoices[marker.InvoiceId]
	if !ok {
		return models.ApplyOutcomeVersionConflict, utils.ErrorRecordNotFound
	}
	if inv.Version != expectedVersion {
		return models.ApplyOutcomeVersionConflict, nil
	}
	inv.AmountPaid = inv.AmountPaid.Add(marker.Amount)
	inv.Version++
	if inv.AmountPaid.GreaterThanOrEqual(inv.TotalAmount) {
		inv.CurrentStatus = models.InvoiceStatusPaid
	}
	s.applied[marker.TransactionId] = marker
	return models.ApplyOutcomeApplied, nil
}

func (s *memStore) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunId++
	run.ID = s.nextRunId
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) GetRun(ctx context.Context, businessId string, runId int) (*models.ReconciliationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runId]
	if !ok || run.BusinessId != businessId {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *memStore) UpdateRun(ctx context.Context, run *models.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}
