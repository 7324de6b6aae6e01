package workflow

import (
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"github.com/shopspring/decimal"
)

// AssembleReport folds classified matches, issues and the invoice snapshot
// into the immutable report shape consumed by UI/export collaborators.
func AssembleReport(
	businessId string,
	period models.ReportPeriod,
	matches []models.TransactionMatch,
	invoices []models.Invoice,
	issues []models.Issue,
	validationErrors int,
	correlationId string,
) *models.ReconciliationReport {

	// Stable order inside each bucket keeps two runs over the same snapshot
	// byte-identical.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Transaction.ID < matches[j].Transaction.ID
	})

	report := &models.ReconciliationReport{
		BusinessId:    businessId,
		ReportPeriod:  period,
		CorrelationId: correlationId,
		GeneratedAt:   time.Now().UTC(),
	}

	summary := models.ReportSummary{
		TotalTransactions:    len(matches),
		ValidationErrors:     validationErrors,
		TotalMatchedAmount:   decimal.Zero,
		TotalUnmatchedAmount: decimal.Zero,
		TotalPartialAmount:   decimal.Zero,
		TotalOutstanding:     decimal.Zero,
	}

	matchedInvoice := map[int]bool{}
	for _, m := range matches {
		switch m.Result.Bucket {
		case models.MatchBucketMatched:
			summary.MatchedCount++
			summary.TotalMatchedAmount = summary.TotalMatchedAmount.Add(m.Transaction.Amount)
			report.Transactions.Matched = append(report.Transactions.Matched, m)
		case models.MatchBucketPartialMatch:
			summary.PartialCount++
			summary.TotalPartialAmount = summary.TotalPartialAmount.Add(m.Transaction.Amount)
			report.Transactions.Partial = append(report.Transactions.Partial, m)
		case models.MatchBucketNeedsReview:
			summary.NeedsReviewCount++
			report.Transactions.NeedsReview = append(report.Transactions.NeedsReview, m)
		default:
			summary.UnmatchedCount++
			summary.TotalUnmatchedAmount = summary.TotalUnmatchedAmount.Add(m.Transaction.Amount)
			report.Transactions.Unmatched = append(report.Transactions.Unmatched, m)
		}
		if m.Result.BestInvoiceId != nil &&
			(m.Result.Bucket == models.MatchBucketMatched || m.Result.Bucket == models.MatchBucketPartialMatch) {
			matchedInvoice[*m.Result.BestInvoiceId] = true
		}
	}

	if summary.TotalTransactions > 0 {
		summary.MatchRate = float64(summary.MatchedCount) / float64(summary.TotalTransactions) * 100
	}

	for i := range invoices {
		inv := invoices[i]
		outstanding := inv.Outstanding()
		if outstanding.Sign() <= 0 || matchedInvoice[inv.ID] {
			continue
		}
		summary.UnmatchedInvoices++
		summary.TotalOutstanding = summary.TotalOutstanding.Add(outstanding)
		report.UnmatchedInvoices = append(report.UnmatchedInvoices, models.InvoiceAging{
			Invoice:     inv,
			Outstanding: outstanding,
			DaysOverdue: inv.DaysOverdue(period.End),
			AgingBucket: inv.AgingBucket(period.End),
		})
	}
	models.SortUnmatchedInvoices(report.UnmatchedInvoices)

	models.SortIssues(issues)
	report.Issues = issues
	report.Summary = summary
	return report
}
