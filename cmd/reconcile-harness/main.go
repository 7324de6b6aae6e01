// reconcile-harness runs a preview reconciliation for one business against
// the configured database and prints the report JSON. Debug tool; never
// applies anything.
//
// Usage:
//
//	go run ./cmd/reconcile-harness -business <id> -start 2026-01-01 -end 2026-01-31
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"bitbucket.org/mmdatafocus/reconcile_backend/workflow"
	"github.com/google/uuid"
)

func main() {
	businessId := flag.String("business", "", "business id (required)")
	start := flag.String("start", "", "period start YYYY-MM-DD (required)")
	end := flag.String("end", "", "period end YYYY-MM-DD (required)")
	customerId := flag.Int("customer", 0, "optional customer id filter")
	flag.Parse()

	if *businessId == "" || *start == "" || *end == "" {
		log.Fatal("usage: reconcile-harness -business <id> -start YYYY-MM-DD -end YYYY-MM-DD")
	}
	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatalf("bad -end: %v", err)
	}

	config.ConnectDatabaseWithRetry()

	reconciler, err := workflow.NewReconciler(models.NewGormStore(), config.GetLogger(), workflow.DefaultReconcilerConfig())
	if err != nil {
		log.Fatalf("reconciler construction failed: %v", err)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessId)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	var customer *int
	if *customerId > 0 {
		customer = customerId
	}
	period := models.ReportPeriod{
		Start: startDate,
		End:   endDate.Add(24*time.Hour - time.Nanosecond),
	}

	report, err := reconciler.Preview(ctx, *businessId, period, customer)
	if err != nil {
		log.Fatalf("preview failed: %v", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("marshal report: %v", err)
	}
	fmt.Println(string(out))
}
