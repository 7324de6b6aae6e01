package config

import (
	"os"
	"strconv"
	"strings"
)

// StrictApplyVersionCheck aborts the whole apply run on the first version
// conflict instead of collecting per-transaction conflicts.
//
// Set via env:
// - STRICT_APPLY_VERSION_CHECK=true
func StrictApplyVersionCheck() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_APPLY_VERSION_CHECK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ReconWorkerCount overrides the classification fan-out width.
//
// Set via env:
// - RECON_WORKER_COUNT=8
func ReconWorkerCount(def int) int {
	v := strings.TrimSpace(os.Getenv("RECON_WORKER_COUNT"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ReconLookbackDays overrides the candidate lookback window.
//
// Set via env:
// - RECON_LOOKBACK_DAYS=90
func ReconLookbackDays(def int) int {
	v := strings.TrimSpace(os.Getenv("RECON_LOOKBACK_DAYS"))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ReportCacheEnabled gates the redis-backed report cache.
//
// Set via env:
// - ENABLE_REPORT_CACHE=true
func ReportCacheEnabled() bool {
	v := strings.TrimSpace(os.Getenv("ENABLE_REPORT_CACHE"))
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
}

// ReportCacheTTLSeconds is the report cache TTL (default 120s).
//
// Set via env:
// - REPORT_CACHE_TTL_SECONDS=300
func ReportCacheTTLSeconds() int {
	ttl := 120
	if v := strings.TrimSpace(os.Getenv("REPORT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return ttl
}
