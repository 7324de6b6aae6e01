package workflow

import (
	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
)

// ScoreCandidate fills in the candidate's signal scores and composite.
// Every signal is normalized to [0,1] before weighting; a missing or
// uncomputable signal contributes 0, it never aborts scoring.
func ScoreCandidate(txn *models.Transaction, c *models.MatchCandidate, cfg ReconcilerConfig) {
	inv := c.Invoice
	outstanding := inv.Outstanding()
	c.AmountDiff = txn.Amount.Sub(outstanding)

	c.SignalScores[models.SignalReferenceMatch] = referenceSignal(txn, c)
	c.SignalScores[models.SignalAmountMatch] = amountSignal(txn, c, cfg)
	c.SignalScores[models.SignalIdentityMatch] = identitySignal(txn, c)
	c.SignalScores[models.SignalRecency] = recencySignal(txn, c, cfg)

	score := cfg.Weights.ReferenceMatch*c.SignalScores[models.SignalReferenceMatch] +
		cfg.Weights.AmountMatch*c.SignalScores[models.SignalAmountMatch] +
		cfg.Weights.IdentityMatch*c.SignalScores[models.SignalIdentityMatch] +
		cfg.Weights.Recency*c.SignalScores[models.SignalRecency]
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	c.CompositeScore = score
}

func referenceSignal(txn *models.Transaction, c *models.MatchCandidate) float64 {
	if referencesInvoice(txn, c.Invoice) {
		return 1.0
	}
	return 0
}

// amountSignal: full credit when the payment settles the outstanding balance
// within tolerance; a linearly decayed credit for candidate partial
// payments; nothing for overpayments beyond tolerance.
func amountSignal(txn *models.Transaction, c *models.MatchCandidate, cfg ReconcilerConfig) float64 {
	outstanding := c.Invoice.Outstanding()
	if outstanding.Sign() <= 0 {
		return 0
	}
	diff := c.AmountDiff
	if diff.Abs().LessThanOrEqual(cfg.AmountTolerance) {
		return 1.0
	}
	if txn.Amount.LessThan(outstanding) {
		ratio, _ := diff.Abs().Div(outstanding).Float64()
		if ratio >= 1 {
			return 0
		}
		return 1 - ratio
	}
	return 0
}

func identitySignal(txn *models.Transaction, c *models.MatchCandidate) float64 {
	inv := c.Invoice
	if txn.CustomerId != nil && *txn.CustomerId == inv.CustomerId {
		return 1.0
	}
	phone := utils.NormalizePhone(txn.CustomerPhone)
	if phone != "" && phone == utils.NormalizePhone(inv.CustomerPhone) {
		return 1.0
	}
	if utils.FuzzyNameMatch(txn.CustomerName, inv.CustomerName) {
		return 0.5
	}
	return 0
}

// recencySignal: full credit within the plateau around the due date, then a
// linear decay reaching 0 at the edge of the lookback window.
func recencySignal(txn *models.Transaction, c *models.MatchCandidate, cfg ReconcilerConfig) float64 {
	if c.Invoice.DueDate.IsZero() {
		return 0
	}
	if withinDays(txn.TransactionDate, c.Invoice.DueDate, cfg.RecencyPlateauDays) {
		return 1.0
	}
	gap := txn.TransactionDate.Sub(c.Invoice.DueDate)
	if gap < 0 {
		gap = -gap
	}
	days := gap.Hours() / 24
	span := float64(cfg.LookbackDays - cfg.RecencyPlateauDays)
	decayed := 1 - (days-float64(cfg.RecencyPlateauDays))/span
	if decayed < 0 {
		return 0
	}
	return decayed
}
