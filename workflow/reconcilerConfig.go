package workflow

import (
	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SignalWeights enumerates the named scoring signals. Weights are policy,
// not constants: tune them against historical data before trusting them.
type SignalWeights struct {
	ReferenceMatch float64 `validate:"gte=0,lte=1"`
	AmountMatch    float64 `validate:"gte=0,lte=1"`
	IdentityMatch  float64 `validate:"gte=0,lte=1"`
	Recency        float64 `validate:"gte=0,lte=1"`
}

func (w SignalWeights) Sum() float64 {
	return w.ReferenceMatch + w.AmountMatch + w.IdentityMatch + w.Recency
}

type ReconcilerConfig struct {
	Weights SignalWeights `validate:"required"`

	// Bucketing thresholds on the composite score.
	MatchedThreshold float64 `validate:"gt=0,lte=1"`
	ReviewThreshold  float64 `validate:"gte=0,lt=1"`
	// TieEpsilon: two top candidates closer than this force NeedsReview.
	TieEpsilon float64 `validate:"gte=0,lte=0.5"`

	// AmountTolerance absorbs rounding between channels (absolute units).
	AmountTolerance decimal.Decimal

	// LookbackDays bounds candidate generation; a verbatim reference match
	// bypasses it.
	LookbackDays int `validate:"gt=0"`
	// RecencyPlateauDays: full recency credit within this many days of the
	// due date, then linear decay to the lookback edge.
	RecencyPlateauDays int `validate:"gt=0"`

	// WorkerCount fans classification out across transactions. 0 means
	// single-threaded.
	WorkerCount int `validate:"gte=0"`
	// ApplyRetryLimit bounds optimistic-concurrency retries per transaction.
	ApplyRetryLimit int `validate:"gte=1"`

	// DuplicateWindowHours: identical payments inside this window raise a
	// duplicate_payment issue.
	DuplicateWindowHours int `validate:"gt=0"`
	// OrphanClusterSize: this many unmatched payments from one customer
	// suggest a missing invoice.
	OrphanClusterSize int `validate:"gte=2"`
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Weights: SignalWeights{
			ReferenceMatch: 0.45,
			AmountMatch:    0.30,
			IdentityMatch:  0.15,
			Recency:        0.10,
		},
		MatchedThreshold:     0.80,
		ReviewThreshold:      0.40,
		TieEpsilon:           0.05,
		AmountTolerance:      decimal.NewFromInt(1),
		LookbackDays:         config.ReconLookbackDays(120),
		RecencyPlateauDays:   7,
		WorkerCount:          4,
		ApplyRetryLimit:      3,
		DuplicateWindowHours: 24,
		OrphanClusterSize:    3,
	}
}

var configValidator = validator.New()

// Validate fails fast at engine construction; a misconfigured engine must
// never start a run.
func (c ReconcilerConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return utils.NewConfigError("%v", err)
	}
	if c.ReviewThreshold >= c.MatchedThreshold {
		return utils.NewConfigError("review_threshold (%v) must be below matched_threshold (%v)",
			c.ReviewThreshold, c.MatchedThreshold)
	}
	if c.AmountTolerance.Sign() < 0 {
		return utils.NewConfigError("amount_tolerance must not be negative")
	}
	if sum := c.Weights.Sum(); sum <= 0 || sum > 1+1e-9 {
		return utils.NewConfigError("signal weights must sum to (0, 1], got %v", sum)
	}
	if c.RecencyPlateauDays >= c.LookbackDays {
		return utils.NewConfigError("recency_plateau_days (%d) must be below lookback_days (%d)",
			c.RecencyPlateauDays, c.LookbackDays)
	}
	return nil
}
