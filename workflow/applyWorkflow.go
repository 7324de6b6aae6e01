package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// ApplyResult is the outcome surface of ApplyMatches.
type ApplyResult struct {
	AppliedCount int   `json:"applied_count"`
	SkippedCount int   `json:"skipped_count"`
	Conflicts    []int `json:"conflicts"`
}

var ErrApplyInProgress = errors.New("an apply run is already in progress for this business")

// ApplyMatches commits Matched and PartialMatch outcomes onto invoice
// balances. Each transaction's apply is atomic (marker + balance bump in one
// DB transaction); the run as a whole is not, and does not need to be: a
// partially-applied run is recoverable by re-running because applied
// transactions are skip-marked. Unmatched/NeedsReview never mutate state.
func (r *Reconciler) ApplyMatches(ctx context.Context, report *models.ReconciliationReport) (*ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.apply")
	defer span.End()

	businessId := report.BusinessId
	runId := report.RunId
	if runId == 0 {
		// Report decoded from somewhere other than the store; the handler
		// still carries the run id on the context.
		runId, _ = utils.GetRunIdFromContext(ctx)
	}

	// Best-effort serialization of apply runs per business. Correctness does
	// not depend on the lock; the per-invoice version check is the guard.
	// The lock just keeps two operators from burning retries against each
	// other.
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "recon:apply:"+businessId, 5*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return nil, ErrApplyInProgress
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
	}

	var run *models.ReconciliationRun
	if runId != 0 {
		var err error
		run, err = r.store.GetRun(ctx, businessId, runId)
		if err != nil {
			return nil, err
		}
		run.Status = models.RunStatusApplying
		if err := r.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
	}

	toApply := make([]models.TransactionMatch, 0,
		len(report.Transactions.Matched)+len(report.Transactions.Partial))
	toApply = append(toApply, report.Transactions.Matched...)
	toApply = append(toApply, report.Transactions.Partial...)

	result := &ApplyResult{}
	for i := range toApply {
		// Cancellation mid-apply leaves already-applied transactions
		// committed; the skip-markers make the rerun safe.
		if err := ctx.Err(); err != nil {
			r.finishApplyRun(ctx, run, result, toApply)
			return result, err
		}
		m := &toApply[i]
		if m.Result.BestInvoiceId == nil {
			continue
		}
		if err := r.applyOne(ctx, businessId, runId, m, result); err != nil {
			if utils.IsConflict(err) {
				result.Conflicts = append(result.Conflicts, m.Transaction.ID)
				if config.StrictApplyVersionCheck() {
					r.finishApplyRun(ctx, run, result, toApply)
					return result, err
				}
				continue
			}
			r.finishApplyRun(ctx, run, result, toApply)
			return result, err
		}
	}

	r.finishApplyRun(ctx, run, result, toApply)
	if runId != 0 {
		// The run is no longer a plain preview; evict the cached copy.
		_ = models.DropCachedReport(businessId, runId)
	}
	r.publishEvent(ctx, config.ReconEvent{
		RunId:         runId,
		BusinessId:    businessId,
		Event:         "APPLY_COMPLETED",
		AppliedCount:  result.AppliedCount,
		ConflictCount: len(result.Conflicts),
		CorrelationId: report.CorrelationId,
		OccurredAt:    time.Now().UTC(),
	})

	r.logger.WithFields(logrus.Fields{
		"module":      "applyWorkflow.go",
		"business_id": businessId,
		"run_id":      runId,
		"applied":     result.AppliedCount,
		"skipped":     result.SkippedCount,
		"conflicts":   len(result.Conflicts),
	}).Info("apply completed")
	return result, nil
}

// applyOne performs the optimistic-concurrency loop for a single
// transaction: read version, attempt the conditioned write, re-read on
// conflict, bounded by ApplyRetryLimit.
func (r *Reconciler) applyOne(ctx context.Context, businessId string, runId int, m *models.TransactionMatch, result *ApplyResult) error {
	invoiceId := *m.Result.BestInvoiceId

	for attempt := 0; attempt < r.cfg.ApplyRetryLimit; attempt++ {
		invoice, err := r.store.GetInvoice(ctx, businessId, invoiceId)
		if err != nil {
			return fmt.Errorf("reading invoice %d: %w", invoiceId, err)
		}

		outcome, err := r.store.ApplyTransaction(ctx, models.AppliedTransaction{
			BusinessId:    businessId,
			TransactionId: m.Transaction.ID,
			RunId:         runId,
			InvoiceId:     invoiceId,
			Amount:        m.Transaction.Amount,
		}, invoice.Version)
		if err != nil {
			return err
		}
		switch outcome {
		case models.ApplyOutcomeApplied:
			result.AppliedCount++
			return nil
		case models.ApplyOutcomeAlreadyApplied:
			// Second apply of the same report, or a prior partially-applied
			// run. No-op per transaction.
			result.SkippedCount++
			return nil
		case models.ApplyOutcomeVersionConflict:
			r.logger.WithFields(logrus.Fields{
				"module":         "applyWorkflow.go",
				"business_id":    businessId,
				"invoice_id":     invoiceId,
				"transaction_id": m.Transaction.ID,
				"attempt":        attempt + 1,
			}).Warn("invoice version conflict; retrying")
		}
	}
	return &utils.ConflictError{InvoiceId: invoiceId, TransactionId: m.Transaction.ID}
}

func (r *Reconciler) finishApplyRun(ctx context.Context, run *models.ReconciliationRun, result *ApplyResult, toApply []models.TransactionMatch) {
	if run == nil {
		return
	}
	// The status write must survive a cancelled apply context.
	ctx = context.WithoutCancel(ctx)
	run.AppliedCount = result.AppliedCount
	run.ConflictCount = len(result.Conflicts)
	if result.AppliedCount+result.SkippedCount >= len(toApply) && len(result.Conflicts) == 0 {
		run.Status = models.RunStatusApplied
	} else {
		run.Status = models.RunStatusPartiallyApplied
	}
	if err := r.store.UpdateRun(ctx, run); err != nil {
		config.LogError(r.logger, "applyWorkflow.go", "finishApplyRun", "UpdateRun", run.ID, err)
	}
}
