package workflow

import (
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/shopspring/decimal"
)

// DetectIssues post-processes the classified bucket set for one period into
// human-actionable issues. It never mutates its inputs.
func DetectIssues(matches []models.TransactionMatch, invoices []models.Invoice, period models.ReportPeriod, cfg ReconcilerConfig) []models.Issue {
	var issues []models.Issue
	issues = append(issues, detectDuplicatePayments(matches, cfg)...)
	issues = append(issues, detectOverpayments(matches)...)
	issues = append(issues, detectStaleInvoices(matches, invoices, period)...)
	issues = append(issues, detectOrphanedClusters(matches, cfg)...)
	return issues
}

// customerKey groups transactions by whoever they appear to be from. Id
// wins, then phone, then the raw name; payments with no linkage at all are
// not groupable.
func customerKey(txn *models.Transaction) string {
	if txn.CustomerId != nil {
		return fmt.Sprintf("id:%d", *txn.CustomerId)
	}
	if phone := utils.NormalizePhone(txn.CustomerPhone); phone != "" {
		return "ph:" + phone
	}
	if name := utils.NormalizeReference(txn.CustomerName); name != "" {
		return "nm:" + name
	}
	return ""
}

// detectDuplicatePayments: two or more payments with the same customer,
// amount and reference landing inside the duplicate window almost always
// mean a double charge or a double ingest.
func detectDuplicatePayments(matches []models.TransactionMatch, cfg ReconcilerConfig) []models.Issue {
	type groupKey struct {
		customer  string
		amount    string
		reference string
	}
	groups := map[groupKey][]*models.Transaction{}
	var order []groupKey
	for i := range matches {
		txn := &matches[i].Transaction
		ck := customerKey(txn)
		if ck == "" {
			continue
		}
		k := groupKey{
			customer:  ck,
			amount:    txn.Amount.String(),
			reference: utils.NormalizeReference(txn.Reference),
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], txn)
	}

	window := time.Duration(cfg.DuplicateWindowHours) * time.Hour
	var issues []models.Issue
	for _, k := range order {
		txns := groups[k]
		if len(txns) < 2 {
			continue
		}
		sort.Slice(txns, func(i, j int) bool { return txns[i].TransactionDate.Before(txns[j].TransactionDate) })

		// Each chain of payments within the window of its predecessor is one
		// incident; a wider gap closes the chain and seeds the next one.
		chain := []*models.Transaction{txns[0]}
		for i := 1; i < len(txns); i++ {
			if txns[i].TransactionDate.Sub(txns[i-1].TransactionDate) > window {
				if len(chain) >= 2 {
					issues = append(issues, duplicateIssue(chain, cfg))
				}
				chain = []*models.Transaction{txns[i]}
				continue
			}
			chain = append(chain, txns[i])
		}
		if len(chain) >= 2 {
			issues = append(issues, duplicateIssue(chain, cfg))
		}
	}
	return issues
}

func duplicateIssue(chain []*models.Transaction, cfg ReconcilerConfig) models.Issue {
	var ids []int
	total := decimal.Zero
	for _, t := range chain {
		ids = append(ids, t.ID)
		total = total.Add(t.Amount)
	}
	return models.Issue{
		Type:     models.IssueTypeDuplicatePayment,
		Severity: models.IssueSeverityHigh,
		Description: fmt.Sprintf("%d payments of %s with reference %q within %dh",
			len(chain), chain[0].Amount.String(), chain[0].Reference, cfg.DuplicateWindowHours),
		TransactionIds:  ids,
		AggregateAmount: total,
	}
}

// detectOverpayments picks up the classifier's overpayment flags. Severity
// scales with how far past the outstanding balance the payment went.
func detectOverpayments(matches []models.TransactionMatch) []models.Issue {
	var issues []models.Issue
	for i := range matches {
		m := &matches[i]
		if !m.Result.HasReason(models.ReasonOverpayment) || m.Result.BestInvoiceId == nil {
			continue
		}
		overpay := m.Result.OverpayAmount
		paid := m.Transaction.Amount
		severity := models.IssueSeverityMedium
		// Overshooting by half the payment or more is no rounding artifact.
		if overpay.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(paid) {
			severity = models.IssueSeverityHigh
		}
		issues = append(issues, models.Issue{
			Type:     models.IssueTypeOverpayment,
			Severity: severity,
			Description: fmt.Sprintf("payment %d exceeds invoice %d outstanding by %s",
				m.Transaction.ID, *m.Result.BestInvoiceId, overpay.String()),
			TransactionIds:  []int{m.Transaction.ID},
			InvoiceIds:      []int{*m.Result.BestInvoiceId},
			AggregateAmount: overpay,
		})
	}
	return issues
}

// detectStaleInvoices flags overdue invoices that attracted no matched or
// partial payment this period.
func detectStaleInvoices(matches []models.TransactionMatch, invoices []models.Invoice, period models.ReportPeriod) []models.Issue {
	touched := map[int]bool{}
	for i := range matches {
		r := &matches[i].Result
		if r.BestInvoiceId == nil {
			continue
		}
		if r.Bucket == models.MatchBucketMatched || r.Bucket == models.MatchBucketPartialMatch {
			touched[*r.BestInvoiceId] = true
		}
	}

	asOf := period.End
	var issues []models.Issue
	for i := range invoices {
		inv := &invoices[i]
		if touched[inv.ID] || !inv.IsOverdue(asOf) {
			continue
		}
		days := inv.DaysOverdue(asOf)
		severity := models.IssueSeverityLow
		switch {
		case days >= 60:
			severity = models.IssueSeverityHigh
		case days >= 30:
			severity = models.IssueSeverityMedium
		}
		issues = append(issues, models.Issue{
			Type:     models.IssueTypeStaleUnmatchedInvoice,
			Severity: severity,
			Description: fmt.Sprintf("invoice %s is %d days overdue with %s outstanding and no payments this period",
				inv.InvoiceNumber, days, inv.Outstanding().String()),
			InvoiceIds:      []int{inv.ID},
			AggregateAmount: inv.Outstanding(),
		})
	}
	return issues
}

// detectOrphanedClusters: several unmatched payments from the same customer
// usually mean an invoice was never raised or never ingested.
func detectOrphanedClusters(matches []models.TransactionMatch, cfg ReconcilerConfig) []models.Issue {
	groups := map[string][]*models.Transaction{}
	var order []string
	for i := range matches {
		m := &matches[i]
		if m.Result.Bucket != models.MatchBucketUnmatched {
			continue
		}
		ck := customerKey(&m.Transaction)
		if ck == "" {
			continue
		}
		if _, seen := groups[ck]; !seen {
			order = append(order, ck)
		}
		groups[ck] = append(groups[ck], &m.Transaction)
	}

	var issues []models.Issue
	for _, ck := range order {
		txns := groups[ck]
		if len(txns) < cfg.OrphanClusterSize {
			continue
		}
		var ids []int
		total := decimal.Zero
		for _, t := range txns {
			ids = append(ids, t.ID)
			total = total.Add(t.Amount)
		}
		severity := models.IssueSeverityLow
		if len(txns) >= cfg.OrphanClusterSize+2 {
			severity = models.IssueSeverityMedium
		}
		issues = append(issues, models.Issue{
			Type:     models.IssueTypeOrphanedCluster,
			Severity: severity,
			Description: fmt.Sprintf("%d unmatched payments totalling %s from the same customer; possible missing invoice",
				len(txns), total.String()),
			TransactionIds:  ids,
			AggregateAmount: total,
		})
	}
	return issues
}
