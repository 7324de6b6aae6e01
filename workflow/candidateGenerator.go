package workflow

import (
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
)

// referencesInvoice reports whether the transaction's free text carries the
// invoice's number (or raw id) verbatim.
func referencesInvoice(txn *models.Transaction, inv *models.Invoice) bool {
	if utils.ContainsReference(txn.Reference, inv.InvoiceNumber) ||
		utils.ContainsReference(txn.Description, inv.InvoiceNumber) {
		return true
	}
	id := strconv.Itoa(inv.ID)
	return utils.ContainsReference(txn.Reference, "INV"+id) ||
		utils.ContainsReference(txn.Description, "INV"+id)
}

// sameCustomer scopes the invoice set when the payment carries a customer
// linkage. Id wins; phone is the fallback for mobile-money payments.
func sameCustomer(txn *models.Transaction, inv *models.Invoice) bool {
	if txn.CustomerId != nil {
		return *txn.CustomerId == inv.CustomerId
	}
	phone := utils.NormalizePhone(txn.CustomerPhone)
	return phone != "" && phone == utils.NormalizePhone(inv.CustomerPhone)
}

// GenerateCandidates enumerates plausible invoice matches for one
// transaction. An invoice qualifies when it still has an outstanding
// balance, was issued on or before the payment date, and sits inside the
// lookback window. A verbatim reference match bypasses the window: a payment
// that names an invoice is always considered, however old the debt.
func GenerateCandidates(txn *models.Transaction, invoices []models.Invoice, cfg ReconcilerConfig) []models.MatchCandidate {
	var candidates []models.MatchCandidate
	windowStart := txn.TransactionDate.AddDate(0, 0, -cfg.LookbackDays)

	for i := range invoices {
		inv := &invoices[i]
		if inv.CurrentStatus == models.InvoiceStatusCancelled || inv.CurrentStatus == models.InvoiceStatusPaid {
			continue
		}
		if inv.Outstanding().Sign() <= 0 {
			continue
		}
		if txn.HasCustomer() && !sameCustomer(txn, inv) {
			continue
		}
		if inv.IssueDate.After(txn.TransactionDate) {
			continue
		}
		direct := referencesInvoice(txn, inv)
		if !direct && inv.IssueDate.Before(windowStart) {
			continue
		}
		candidates = append(candidates, models.MatchCandidate{
			TransactionId: txn.ID,
			InvoiceId:     inv.ID,
			Invoice:       inv,
			SignalScores:  map[string]float64{},
		})
	}
	return candidates
}

// withinDays is a small helper for the recency signal.
func withinDays(a, b time.Time, days int) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= time.Duration(days)*24*time.Hour
}
