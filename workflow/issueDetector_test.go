package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"github.com/shopspring/decimal"
)

func unmatchedResult(txnId int) models.MatchResult {
	return models.MatchResult{
		TransactionId: txnId,
		Bucket:        models.MatchBucketUnmatched,
		ReasonCodes:   []string{models.ReasonLowConfidence},
	}
}

func issuesOfType(issues []models.Issue, typ models.IssueType) []models.Issue {
	var out []models.Issue
	for _, iss := range issues {
		if iss.Type == typ {
			out = append(out, iss)
		}
	}
	return out
}

func TestDetectIssues_DuplicatePayments(t *testing.T) {
	cfg := DefaultReconcilerConfig()

	t.Run("same customer amount and reference within window", func(t *testing.T) {
		a := payment(1, intPtr(7), 5000, "INV-001", jan15)
		b := payment(2, intPtr(7), 5000, "INV-001", jan15.Add(1*time.Hour))
		matches := []models.TransactionMatch{
			{Transaction: a, Result: unmatchedResult(1)},
			{Transaction: b, Result: unmatchedResult(2)},
		}

		issues := issuesOfType(DetectIssues(matches, nil, testPeriod, cfg), models.IssueTypeDuplicatePayment)
		if len(issues) != 1 {
			t.Fatalf("expected 1 duplicate issue, got %d", len(issues))
		}
		iss := issues[0]
		if iss.Severity != models.IssueSeverityHigh {
			t.Errorf("duplicate severity = %s, want HIGH", iss.Severity)
		}
		if len(iss.TransactionIds) != 2 {
			t.Errorf("expected both transactions grouped, got %v", iss.TransactionIds)
		}
		if !iss.AggregateAmount.Equal(dec(10000)) {
			t.Errorf("aggregate = %s, want 10000", iss.AggregateAmount)
		}
	})

	t.Run("a wide gap splits incidents", func(t *testing.T) {
		a := payment(1, intPtr(7), 5000, "INV-001", jan15)
		b := payment(2, intPtr(7), 5000, "INV-001", jan15.Add(1*time.Hour))
		c := payment(3, intPtr(7), 5000, "INV-001", jan15.Add(40*time.Hour))
		d := payment(4, intPtr(7), 5000, "INV-001", jan15.Add(41*time.Hour))
		matches := []models.TransactionMatch{
			{Transaction: a, Result: unmatchedResult(1)},
			{Transaction: b, Result: unmatchedResult(2)},
			{Transaction: c, Result: unmatchedResult(3)},
			{Transaction: d, Result: unmatchedResult(4)},
		}

		issues := issuesOfType(DetectIssues(matches, nil, testPeriod, cfg), models.IssueTypeDuplicatePayment)
		if len(issues) != 2 {
			t.Fatalf("expected one issue per incident, got %d", len(issues))
		}
		wantIds := [][]int{{1, 2}, {3, 4}}
		for i, want := range wantIds {
			got := issues[i].TransactionIds
			if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
				t.Errorf("incident %d grouped %v, want %v", i, got, want)
			}
			if !issues[i].AggregateAmount.Equal(dec(10000)) {
				t.Errorf("incident %d aggregate = %s, want 10000", i, issues[i].AggregateAmount)
			}
		}
	})

	t.Run("outside the window is not a duplicate", func(t *testing.T) {
		a := payment(1, intPtr(7), 5000, "INV-001", jan15)
		b := payment(2, intPtr(7), 5000, "INV-001", jan15.Add(30*time.Hour))
		matches := []models.TransactionMatch{
			{Transaction: a, Result: unmatchedResult(1)},
			{Transaction: b, Result: unmatchedResult(2)},
		}
		if got := issuesOfType(DetectIssues(matches, nil, testPeriod, cfg), models.IssueTypeDuplicatePayment); len(got) != 0 {
			t.Errorf("expected no duplicate issue across 30h, got %v", got)
		}
	})

	t.Run("different amounts are not duplicates", func(t *testing.T) {
		a := payment(1, intPtr(7), 5000, "INV-001", jan15)
		b := payment(2, intPtr(7), 5500, "INV-001", jan15.Add(time.Hour))
		matches := []models.TransactionMatch{
			{Transaction: a, Result: unmatchedResult(1)},
			{Transaction: b, Result: unmatchedResult(2)},
		}
		if got := issuesOfType(DetectIssues(matches, nil, testPeriod, cfg), models.IssueTypeDuplicatePayment); len(got) != 0 {
			t.Errorf("expected no duplicate issue for differing amounts, got %v", got)
		}
	})

	t.Run("phone links customers when ids are absent", func(t *testing.T) {
		a := payment(1, nil, 5000, "topup", jan15)
		a.CustomerPhone = "09-555-0101"
		b := payment(2, nil, 5000, "topup", jan15.Add(2*time.Hour))
		b.CustomerPhone = "09 555 0101"
		matches := []models.TransactionMatch{
			{Transaction: a, Result: unmatchedResult(1)},
			{Transaction: b, Result: unmatchedResult(2)},
		}
		if got := issuesOfType(DetectIssues(matches, nil, testPeriod, cfg), models.IssueTypeDuplicatePayment); len(got) != 1 {
			t.Errorf("expected phone-normalized duplicate grouping, got %v", got)
		}
	})
}

func TestDetectIssues_OverpaymentSeverity(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	invoiceId := 1

	build := func(txnId int, amount, overpay int64) models.TransactionMatch {
		txn := payment(txnId, intPtr(7), amount, "INV-001", jan15)
		return models.TransactionMatch{
			Transaction: txn,
			Result: models.MatchResult{
				TransactionId: txnId,
				Bucket:        models.MatchBucketMatched,
				BestInvoiceId: &invoiceId,
				ReasonCodes:   []string{models.ReasonOverpayment},
				OverpayAmount: dec(overpay),
			},
		}
	}

	// Overpay is half the payment: HIGH. A sliver over: MEDIUM.
	issues := issuesOfType(DetectIssues([]models.TransactionMatch{
		build(1, 6000, 3000),
		build(2, 6000, 100),
	}, nil, testPeriod, cfg), models.IssueTypeOverpayment)
	if len(issues) != 2 {
		t.Fatalf("expected 2 overpayment issues, got %d", len(issues))
	}
	if issues[0].Severity != models.IssueSeverityHigh {
		t.Errorf("large overpay severity = %s, want HIGH", issues[0].Severity)
	}
	if issues[1].Severity != models.IssueSeverityMedium {
		t.Errorf("small overpay severity = %s, want MEDIUM", issues[1].Severity)
	}
	if !issues[0].AggregateAmount.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("aggregate should be the overpaid excess, got %s", issues[0].AggregateAmount)
	}
}

func TestDetectIssues_StaleInvoices(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	asOf := testPeriod.End

	fresh := openInvoice(1, "INV-001", 7, 5000, asOf.AddDate(0, 0, 10))
	mild := openInvoice(2, "INV-002", 8, 5000, asOf.AddDate(0, 0, -10))
	worrying := openInvoice(3, "INV-003", 9, 5000, asOf.AddDate(0, 0, -35))
	ancient := openInvoice(4, "INV-004", 10, 5000, asOf.AddDate(0, 0, -90))
	invoices := []models.Invoice{fresh, mild, worrying, ancient}

	issues := issuesOfType(DetectIssues(nil, invoices, testPeriod, cfg), models.IssueTypeStaleUnmatchedInvoice)
	if len(issues) != 3 {
		t.Fatalf("expected 3 stale issues, got %d", len(issues))
	}
	bySeverity := map[models.IssueSeverity]int{}
	for _, iss := range issues {
		bySeverity[iss.Severity]++
	}
	if bySeverity[models.IssueSeverityLow] != 1 || bySeverity[models.IssueSeverityMedium] != 1 || bySeverity[models.IssueSeverityHigh] != 1 {
		t.Errorf("severity tiers wrong: %v", bySeverity)
	}

	// A partial payment this period clears the flag.
	invoiceId := 4
	matches := []models.TransactionMatch{{
		Transaction: payment(1, intPtr(10), 1000, "INV-004", jan15),
		Result: models.MatchResult{
			TransactionId: 1,
			Bucket:        models.MatchBucketPartialMatch,
			BestInvoiceId: &invoiceId,
		},
	}}
	issues = issuesOfType(DetectIssues(matches, invoices, testPeriod, cfg), models.IssueTypeStaleUnmatchedInvoice)
	if len(issues) != 2 {
		t.Errorf("touched invoice must not be stale, got %d issues", len(issues))
	}
}

func TestDetectIssues_OrphanedClusters(t *testing.T) {
	cfg := DefaultReconcilerConfig()

	cluster := func(customerId, n int) []models.TransactionMatch {
		var matches []models.TransactionMatch
		for i := 0; i < n; i++ {
			txn := payment(customerId*100+i, intPtr(customerId), 100, "", jan15.Add(time.Duration(i)*time.Hour))
			matches = append(matches, models.TransactionMatch{Transaction: txn, Result: unmatchedResult(txn.ID)})
		}
		return matches
	}

	t.Run("below threshold is quiet", func(t *testing.T) {
		if got := issuesOfType(DetectIssues(cluster(7, 2), nil, testPeriod, cfg), models.IssueTypeOrphanedCluster); len(got) != 0 {
			t.Errorf("2 payments must not cluster, got %v", got)
		}
	})

	t.Run("threshold raises LOW", func(t *testing.T) {
		got := issuesOfType(DetectIssues(cluster(7, 3), nil, testPeriod, cfg), models.IssueTypeOrphanedCluster)
		if len(got) != 1 || got[0].Severity != models.IssueSeverityLow {
			t.Fatalf("expected one LOW cluster issue, got %v", got)
		}
		if !got[0].AggregateAmount.Equal(dec(300)) {
			t.Errorf("aggregate = %s, want 300", got[0].AggregateAmount)
		}
	})

	t.Run("larger cluster escalates", func(t *testing.T) {
		got := issuesOfType(DetectIssues(cluster(7, 5), nil, testPeriod, cfg), models.IssueTypeOrphanedCluster)
		if len(got) != 1 || got[0].Severity != models.IssueSeverityMedium {
			t.Fatalf("expected one MEDIUM cluster issue, got %v", got)
		}
	})

	t.Run("anonymous payments never cluster", func(t *testing.T) {
		var matches []models.TransactionMatch
		for i := 0; i < 5; i++ {
			matches = append(matches, models.TransactionMatch{
				Transaction: payment(i, nil, 100, "", jan15),
				Result:      unmatchedResult(i),
			})
		}
		if got := issuesOfType(DetectIssues(matches, nil, testPeriod, cfg), models.IssueTypeOrphanedCluster); len(got) != 0 {
			t.Errorf("payments with no customer linkage must not cluster, got %v", got)
		}
	})
}
