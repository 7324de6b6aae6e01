package workflow

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/reconcile_backend/workflow")

// Reconciler runs the payment-to-invoice reconciliation pipeline:
// snapshot -> candidates -> scores -> buckets -> issues -> report.
// Classification is pure over the snapshot; only ApplyMatches writes.
type Reconciler struct {
	store  models.ReconciliationStore
	logger *logrus.Logger
	cfg    ReconcilerConfig
}

// NewReconciler validates the configuration before anything can run.
func NewReconciler(store models.ReconciliationStore, logger *logrus.Logger, cfg ReconcilerConfig) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{store: store, logger: logger, cfg: cfg}, nil
}

func (r *Reconciler) Config() ReconcilerConfig { return r.cfg }

// classifyOne runs the full pipeline for a single transaction against the
// invoice snapshot. Pure; safe to call from any worker.
func (r *Reconciler) classifyOne(txn *models.Transaction, invoices []models.Invoice) models.MatchResult {
	candidates := GenerateCandidates(txn, invoices, r.cfg)
	for i := range candidates {
		ScoreCandidate(txn, &candidates[i], r.cfg)
	}
	return ClassifyTransaction(txn, candidates, r.cfg)
}

// Preview runs classification over the period and persists the resulting
// report as a PREVIEW run. No invoice state is touched; cancelling mid-run
// has no side effects beyond an unpersisted run.
func (r *Reconciler) Preview(ctx context.Context, businessId string, period models.ReportPeriod, customerId *int) (*models.ReconciliationReport, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.preview")
	defer span.End()

	if businessId == "" {
		businessId, _ = utils.GetBusinessIdFromContext(ctx)
	}
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}

	transactions, err := r.store.GetTransactions(ctx, businessId, period, customerId)
	if err != nil {
		config.LogError(r.logger, "reconciliationWorkflow.go", "Preview", "GetTransactions", businessId, err)
		return nil, err
	}
	invoices, err := r.store.GetOpenInvoices(ctx, businessId, nil)
	if err != nil {
		config.LogError(r.logger, "reconciliationWorkflow.go", "Preview", "GetOpenInvoices", businessId, err)
		return nil, err
	}

	// Transactions applied in a prior run are settled history; re-running
	// must not reclassify them. NeedsReview ones were never applied, so they
	// stay eligible and pick up any newly arrived invoices.
	allIds := make([]int, 0, len(transactions))
	for i := range transactions {
		allIds = append(allIds, transactions[i].ID)
	}
	applied, err := r.store.AppliedTransactionIds(ctx, businessId, allIds)
	if err != nil {
		config.LogError(r.logger, "reconciliationWorkflow.go", "Preview", "AppliedTransactionIds", businessId, err)
		return nil, err
	}

	var valid []models.Transaction
	validationErrors := 0
	for i := range transactions {
		txn := transactions[i]
		if applied[txn.ID] {
			continue
		}
		if verr := txn.Validate(); verr != nil {
			validationErrors++
			r.logger.WithFields(logrus.Fields{
				"module":         "reconciliationWorkflow.go",
				"transaction_id": txn.ID,
				"business_id":    businessId,
			}).Warn(verr.Error())
			continue
		}
		valid = append(valid, txn)
	}

	results, err := r.classifyAll(ctx, valid, invoices)
	if err != nil {
		return nil, err
	}

	matches := make([]models.TransactionMatch, len(valid))
	for i := range valid {
		matches[i] = models.TransactionMatch{Transaction: valid[i], Result: results[i]}
	}

	issues := DetectIssues(matches, invoices, period, r.cfg)
	report := AssembleReport(businessId, period, matches, invoices, issues, validationErrors, correlationId)

	run := &models.ReconciliationRun{
		BusinessId:    businessId,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		Status:        models.RunStatusPreview,
		CorrelationId: correlationId,
		MatchedCount:  report.Summary.MatchedCount,
	}
	if err := run.SetReport(report); err != nil {
		return nil, err
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		config.LogError(r.logger, "reconciliationWorkflow.go", "Preview", "CreateRun", businessId, err)
		return nil, err
	}
	report.RunId = run.ID

	if cacheErr := models.CacheReport(report); cacheErr != nil {
		config.LogError(r.logger, "reconciliationWorkflow.go", "Preview", "CacheReport", report.RunId, cacheErr)
	}
	r.publishEvent(ctx, config.ReconEvent{
		RunId:         run.ID,
		BusinessId:    businessId,
		Event:         "RUN_COMPLETED",
		MatchedCount:  report.Summary.MatchedCount,
		CorrelationId: correlationId,
		OccurredAt:    time.Now().UTC(),
	})

	r.logger.WithFields(logrus.Fields{
		"module":            "reconciliationWorkflow.go",
		"business_id":       businessId,
		"run_id":            run.ID,
		"correlation_id":    correlationId,
		"transactions":      report.Summary.TotalTransactions,
		"matched":           report.Summary.MatchedCount,
		"needs_review":      report.Summary.NeedsReviewCount,
		"validation_errors": validationErrors,
	}).Info("reconciliation run completed")
	return report, nil
}

// classifyAll fans classification out across a bounded worker pool. Results
// land at the transaction's own index, so output order never depends on
// worker scheduling.
func (r *Reconciler) classifyAll(ctx context.Context, transactions []models.Transaction, invoices []models.Invoice) ([]models.MatchResult, error) {
	results := make([]models.MatchResult, len(transactions))

	workers := config.ReconWorkerCount(r.cfg.WorkerCount)
	if workers <= 1 || len(transactions) <= 1 {
		for i := range transactions {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = r.classifyOne(&transactions[i], invoices)
		}
		return results, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = r.classifyOne(&transactions[idx], invoices)
			}
		}()
	}

	var err error
feed:
	for i := range transactions {
		if err = ctx.Err(); err != nil {
			break feed
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetReport returns a stored run's report, consulting the redis cache first.
func (r *Reconciler) GetReport(ctx context.Context, businessId string, runId int) (*models.ReconciliationReport, error) {
	if cached, err := models.GetCachedReport(businessId, runId); err == nil && cached != nil {
		return cached, nil
	}
	run, err := r.store.GetRun(ctx, businessId, runId)
	if err != nil {
		return nil, err
	}
	return run.Report()
}

func (r *Reconciler) publishEvent(ctx context.Context, event config.ReconEvent) {
	// Events are advisory; a publish failure never fails the run.
	if _, err := config.PublishReconEvent(ctx, event); err != nil {
		r.logger.WithFields(logrus.Fields{
			"module":      "reconciliationWorkflow.go",
			"business_id": event.BusinessId,
			"run_id":      event.RunId,
			"event":       event.Event,
		}).Warn("failed to publish recon event: " + err.Error())
	}
}
