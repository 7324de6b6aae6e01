package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
)

func TestApply_SecondRunIsNoOp(t *testing.T) {
	store := newMemStore()
	store.addInvoice(openInvoice(1, "INV-001", 7, 5000, jan15))
	store.addInvoice(openInvoice(2, "INV-002", 8, 9000, jan15))
	store.addTransaction(payment(100, intPtr(7), 5000, "INV-001", jan15))
	store.addTransaction(payment(101, intPtr(8), 4000, "INV-002 part", jan15))

	r := newTestReconciler(t, store)
	report, err := r.Preview(context.Background(), testBusiness, testPeriod, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	first, err := r.ApplyMatches(context.Background(), report)
	if err != nil {
		t.Fatalf("first ApplyMatches: %v", err)
	}
	if first.AppliedCount != 2 || first.SkippedCount != 0 {
		t.Fatalf("first apply: %+v", first)
	}

	second, err := r.ApplyMatches(context.Background(), report)
	if err != nil {
		t.Fatalf("second ApplyMatches: %v", err)
	}
	if second.AppliedCount != 0 {
		t.Errorf("second apply must not re-apply, got %+v", second)
	}
	if second.SkippedCount != 2 {
		t.Errorf("expected 2 skips on re-apply, got %+v", second)
	}

	if paid := store.invoice(1).AmountPaid; !paid.Equal(dec(5000)) {
		t.Errorf("invoice 1 amount_paid = %s, want 5000 (not doubled)", paid)
	}
	if paid := store.invoice(2).AmountPaid; !paid.Equal(dec(4000)) {
		t.Errorf("invoice 2 amount_paid = %s, want 4000 (not doubled)", paid)
	}
}

func TestApply_VersionConflictExhaustsRetries(t *testing.T) {
	store := newMemStore()
	store.addInvoice(openInvoice(1, "INV-001", 7, 5000, jan15))
	store.addInvoice(openInvoice(2, "INV-002", 8, 9000, jan15))
	store.addTransaction(payment(100, intPtr(7), 5000, "INV-001", jan15))
	store.addTransaction(payment(101, intPtr(8), 9000, "INV-002", jan15))

	r := newTestReconciler(t, store)
	report, err := r.Preview(context.Background(), testBusiness, testPeriod, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	// Every read of invoice 1 sees a version that a concurrent writer has
	// already moved past, so the conditioned write never lands.
	store.onGetInvoice = func(inv *models.Invoice) {
		if inv.ID == 1 {
			inv.Version--
		}
	}

	result, err := r.ApplyMatches(context.Background(), report)
	if err != nil {
		t.Fatalf("ApplyMatches: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0] != 100 {
		t.Fatalf("expected transaction 100 in conflicts, got %+v", result)
	}
	if result.AppliedCount != 1 {
		t.Errorf("other transactions must still apply, got %+v", result)
	}
	if !store.invoice(1).AmountPaid.IsZero() {
		t.Errorf("conflicted invoice must be untouched, got %s", store.invoice(1).AmountPaid)
	}
	if !store.invoice(2).AmountPaid.Equal(dec(9000)) {
		t.Errorf("invoice 2 amount_paid = %s, want 9000", store.invoice(2).AmountPaid)
	}

	run, err := store.GetRun(context.Background(), testBusiness, report.RunId)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != models.RunStatusPartiallyApplied {
		t.Errorf("run status = %s, want %s", run.Status, models.RunStatusPartiallyApplied)
	}
	if run.ConflictCount != 1 {
		t.Errorf("run conflict count = %d, want 1", run.ConflictCount)
	}
}

func TestApply_ConflictRetrySucceedsAfterTransientRace(t *testing.T) {
	store := newMemStore()
	store.addInvoice(openInvoice(1, "INV-001", 7, 5000, jan15))
	store.addTransaction(payment(100, intPtr(7), 5000, "INV-001", jan15))

	r := newTestReconciler(t, store)
	report, err := r.Preview(context.Background(), testBusiness, testPeriod, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}

	// First read races; the retry re-reads the current version and wins.
	raced := false
	store.onGetInvoice = func(inv *models.Invoice) {
		if !raced {
			raced = true
			inv.Version--
		}
	}

	result, err := r.ApplyMatches(context.Background(), report)
	if err != nil {
		t.Fatalf("ApplyMatches: %v", err)
	}
	if result.AppliedCount != 1 || len(result.Conflicts) != 0 {
		t.Fatalf("expected retry to recover, got %+v", result)
	}
	if !store.invoice(1).AmountPaid.Equal(dec(5000)) {
		t.Errorf("amount_paid = %s, want 5000", store.invoice(1).AmountPaid)
	}
}

func TestApply_RerunPreviewExcludesAppliedTransactions(t *testing.T) {
	store := newMemStore()
	store.addInvoice(openInvoice(1, "INV-001", 7, 5000, jan15))
	store.addTransaction(payment(100, intPtr(7), 5000, "INV-001", jan15))
	store.addTransaction(payment(101, nil, 333, "mystery", jan15))

	r := newTestReconciler(t, store)
	report, err := r.Preview(context.Background(), testBusiness, testPeriod, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if _, err := r.ApplyMatches(context.Background(), report); err != nil {
		t.Fatalf("ApplyMatches: %v", err)
	}

	rerun, err := r.Preview(context.Background(), testBusiness, testPeriod, nil)
	if err != nil {
		t.Fatalf("rerun Preview: %v", err)
	}
	if rerun.Summary.TotalTransactions != 1 {
		t.Fatalf("applied transaction must be excluded from rerun, got %+v", rerun.Summary)
	}
	if len(rerun.Transactions.Unmatched) != 1 || rerun.Transactions.Unmatched[0].Transaction.ID != 101 {
		t.Errorf("expected only transaction 101 reclassified")
	}
}

func TestApply_NeedsReviewNeverMutatesState(t *testing.T) {
	store := newMemStore()
	// Two identical invoices make the best candidates tie into NeedsReview.
	store.addInvoice(openInvoice(1, "INV-001", 7, 5000, jan15))
	store.addInvoice(openInvoice(2, "INV-002", 7, 5000, jan15))
	store.addTransaction(payment(100, intPtr(7), 5000, "", jan15))

	r := newTestReconciler(t, store)
	report, err := r.Preview(context.Background(), testBusiness, testPeriod, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(report.Transactions.NeedsReview) != 1 {
		t.Fatalf("expected a review-bucket transaction, got %+v", report.Summary)
	}

	result, err := r.ApplyMatches(context.Background(), report)
	if err != nil {
		t.Fatalf("ApplyMatches: %v", err)
	}
	if result.AppliedCount != 0 {
		t.Errorf("NeedsReview must not apply, got %+v", result)
	}
	for _, id := range []int{1, 2} {
		if !store.invoice(id).AmountPaid.IsZero() {
			t.Errorf("invoice %d mutated by a review-only report", id)
		}
	}
}

func TestApply_ConflictErrorCarriesIds(t *testing.T) {
	err := &utils.ConflictError{InvoiceId: 4, TransactionId: 9}
	if !utils.IsConflict(err) {
		t.Fatal("IsConflict must recognize ConflictError")
	}
	if utils.IsConflict(utils.ErrorRecordNotFound) {
		t.Error("IsConflict must not match unrelated errors")
	}
}
