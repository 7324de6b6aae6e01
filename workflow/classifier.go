package workflow

import (
	"sort"

	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"github.com/shopspring/decimal"
)

// ClassifyTransaction buckets one transaction from its scored candidates.
// The classification is pure: it reads the snapshot and produces exactly one
// MatchResult, so the caller can fan transactions out across workers.
//
// Rule order: below-review scores fall out first, then ambiguous ties force
// review regardless of absolute score, then the threshold rules run against
// the winner's amount difference.
func ClassifyTransaction(txn *models.Transaction, candidates []models.MatchCandidate, cfg ReconcilerConfig) models.MatchResult {
	result := models.MatchResult{
		TransactionId: txn.ID,
		OverpayAmount: decimal.Zero,
	}

	if len(candidates) == 0 {
		result.Bucket = models.MatchBucketUnmatched
		result.ReasonCodes = []string{models.ReasonNoCandidate}
		return result
	}

	// Deterministic ranking: score descending, invoice id ascending so equal
	// snapshots always produce identical winners.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CompositeScore != candidates[j].CompositeScore {
			return candidates[i].CompositeScore > candidates[j].CompositeScore
		}
		return candidates[i].InvoiceId < candidates[j].InvoiceId
	})

	best := &candidates[0]
	result.Confidence = best.CompositeScore

	if best.CompositeScore < cfg.ReviewThreshold {
		result.Bucket = models.MatchBucketUnmatched
		result.ReasonCodes = []string{models.ReasonLowConfidence}
		return result
	}

	invoiceId := best.InvoiceId
	result.BestInvoiceId = &invoiceId

	if len(candidates) > 1 {
		runnerUp := &candidates[1]
		if best.CompositeScore-runnerUp.CompositeScore <= cfg.TieEpsilon {
			result.Bucket = models.MatchBucketNeedsReview
			result.ReasonCodes = []string{models.ReasonAmbiguousTie}
			return result
		}
	}

	outstanding := best.Invoice.Outstanding()
	switch {
	case best.CompositeScore >= cfg.MatchedThreshold && best.AmountDiff.Abs().LessThanOrEqual(cfg.AmountTolerance):
		result.Bucket = models.MatchBucketMatched

	case best.CompositeScore >= cfg.MatchedThreshold && txn.Amount.LessThan(outstanding):
		result.Bucket = models.MatchBucketPartialMatch

	case best.CompositeScore >= cfg.MatchedThreshold:
		// Overpayment beyond tolerance: still Matched, but flagged so the
		// issue detector surfaces it. Not a classification failure.
		result.Bucket = models.MatchBucketMatched
		result.ReasonCodes = []string{models.ReasonOverpayment}
		result.OverpayAmount = best.AmountDiff

	default:
		result.Bucket = models.MatchBucketNeedsReview
		if best.SignalScores[models.SignalReferenceMatch] >= 1 {
			result.ReasonCodes = []string{models.ReasonAmountMismatch}
		} else {
			result.ReasonCodes = []string{models.ReasonWeakSignal}
		}
	}
	return result
}
