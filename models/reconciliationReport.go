package models

import (
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"github.com/shopspring/decimal"
)

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p ReportPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

type ReportSummary struct {
	TotalTransactions    int             `json:"total_transactions"`
	MatchedCount         int             `json:"matched_count"`
	UnmatchedCount       int             `json:"unmatched_count"`
	PartialCount         int             `json:"partial_count"`
	NeedsReviewCount     int             `json:"needs_review_count"`
	ValidationErrors     int             `json:"validation_errors"`
	MatchRate            float64         `json:"match_rate"`
	TotalMatchedAmount   decimal.Decimal `json:"total_matched_amount"`
	TotalUnmatchedAmount decimal.Decimal `json:"total_unmatched_amount"`
	TotalPartialAmount   decimal.Decimal `json:"total_partial_amount"`
	UnmatchedInvoices    int             `json:"unmatched_invoices"`
	TotalOutstanding     decimal.Decimal `json:"total_outstanding"`
}

type BucketedTransactions struct {
	Matched     []TransactionMatch `json:"matched"`
	Unmatched   []TransactionMatch `json:"unmatched"`
	Partial     []TransactionMatch `json:"partial"`
	NeedsReview []TransactionMatch `json:"needs_review"`
}

// ReconciliationReport is created fresh per run and never mutated afterward.
// Re-running produces a new report, not an update to the old one.
type ReconciliationReport struct {
	RunId             int                  `json:"run_id"`
	BusinessId        string               `json:"business_id"`
	ReportPeriod      ReportPeriod         `json:"report_period"`
	Summary           ReportSummary        `json:"summary"`
	Transactions      BucketedTransactions `json:"transactions"`
	UnmatchedInvoices []InvoiceAging       `json:"unmatched_invoices"`
	Issues            []Issue              `json:"issues"`
	CorrelationId     string               `json:"correlation_id"`
	GeneratedAt       time.Time            `json:"generated_at"`
}

// SortIssues orders issues by severity (HIGH first), then aggregate amount
// descending. Stable so equal issues keep detection order (determinism).
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		ri, rj := severityRank(issues[i].Severity), severityRank(issues[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return issues[i].AggregateAmount.GreaterThan(issues[j].AggregateAmount)
	})
}

// SortUnmatchedInvoices orders by outstanding descending, invoice id as the
// deterministic tie-break.
func SortUnmatchedInvoices(rows []InvoiceAging) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Outstanding.Equal(rows[j].Outstanding) {
			return rows[i].Outstanding.GreaterThan(rows[j].Outstanding)
		}
		return rows[i].Invoice.ID < rows[j].Invoice.ID
	})
}

func reportCacheKey(businessId string, runId int) string {
	return fmt.Sprintf("recon:report:%s:%d", businessId, runId)
}

// CacheReport stores the assembled report in redis; best effort only.
func CacheReport(report *ReconciliationReport) error {
	if !config.ReportCacheEnabled() {
		return nil
	}
	ttl := time.Duration(config.ReportCacheTTLSeconds()) * time.Second
	return config.SetRedisObject(reportCacheKey(report.BusinessId, report.RunId), report, ttl)
}

// DropCachedReport evicts a run's cached report, forcing the next read to go
// through the durable run record.
func DropCachedReport(businessId string, runId int) error {
	return config.RemoveRedisKey(reportCacheKey(businessId, runId))
}

// GetCachedReport returns (nil, nil) on miss or when the cache is disabled.
func GetCachedReport(businessId string, runId int) (*ReconciliationReport, error) {
	if !config.ReportCacheEnabled() {
		return nil, nil
	}
	var report ReconciliationReport
	found, err := config.GetRedisObject(reportCacheKey(businessId, runId), &report)
	if err != nil || !found {
		return nil, err
	}
	return &report, nil
}
