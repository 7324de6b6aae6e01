package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"github.com/shopspring/decimal"
)

func TestReconcilerConfig_DefaultIsValid(t *testing.T) {
	if err := DefaultReconcilerConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestReconcilerConfig_RejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ReconcilerConfig)
	}{
		{"review threshold above matched", func(c *ReconcilerConfig) {
			c.ReviewThreshold = 0.9
		}},
		{"review threshold equal to matched", func(c *ReconcilerConfig) {
			c.ReviewThreshold = c.MatchedThreshold
		}},
		{"matched threshold above one", func(c *ReconcilerConfig) {
			c.MatchedThreshold = 1.5
		}},
		{"negative weight", func(c *ReconcilerConfig) {
			c.Weights.Recency = -0.1
		}},
		{"weights sum above one", func(c *ReconcilerConfig) {
			c.Weights.ReferenceMatch = 0.9
		}},
		{"weights sum to zero", func(c *ReconcilerConfig) {
			c.Weights = SignalWeights{}
		}},
		{"negative tolerance", func(c *ReconcilerConfig) {
			c.AmountTolerance = decimal.NewFromInt(-1)
		}},
		{"zero lookback", func(c *ReconcilerConfig) {
			c.LookbackDays = 0
		}},
		{"plateau swallows lookback", func(c *ReconcilerConfig) {
			c.RecencyPlateauDays = c.LookbackDays
		}},
		{"zero retry limit", func(c *ReconcilerConfig) {
			c.ApplyRetryLimit = 0
		}},
		{"orphan cluster of one", func(c *ReconcilerConfig) {
			c.OrphanClusterSize = 1
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultReconcilerConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cerr *utils.ConfigError
			if !errors.As(err, &cerr) {
				t.Errorf("expected ConfigError, got %T: %v", err, err)
			}
		})
	}
}

func TestNewReconciler_FailsFastOnBadConfig(t *testing.T) {
	cfg := DefaultReconcilerConfig()
	cfg.ReviewThreshold = 0.95
	if _, err := NewReconciler(newMemStore(), quietLogger(), cfg); err == nil {
		t.Fatal("a misconfigured engine must not construct")
	}
}
