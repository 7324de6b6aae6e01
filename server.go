package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/reconcile_backend/config"
	"bitbucket.org/mmdatafocus/reconcile_backend/models"
	"bitbucket.org/mmdatafocus/reconcile_backend/utils"
	"bitbucket.org/mmdatafocus/reconcile_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultPort = "8080"

type runRequest struct {
	BusinessId  string `json:"business_id" binding:"required"`
	PeriodStart string `json:"period_start" binding:"required"` // YYYY-MM-DD
	PeriodEnd   string `json:"period_end" binding:"required"`   // YYYY-MM-DD
	CustomerId  *int   `json:"customer_id"`
}

func (req *runRequest) period() (models.ReportPeriod, error) {
	start, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		return models.ReportPeriod{}, err
	}
	end, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		return models.ReportPeriod{}, err
	}
	// End of day, so a single-day period still covers its transactions.
	end = end.Add(24*time.Hour - time.Nanosecond)
	if end.Before(start) {
		return models.ReportPeriod{}, errors.New("period_end before period_start")
	}
	return models.ReportPeriod{Start: start, End: end}, nil
}

// pubSubPush is the envelope Google Pub/Sub push subscriptions deliver.
type pubSubPush struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func runHandler(reconciler *workflow.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req runRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		period, err := req.period()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

		report, err := reconciler.Preview(ctx, req.BusinessId, period, req.CustomerId)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "runHandler", "Preview", req, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation run failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func reportHandler(reconciler *workflow.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.Query("business_id")
		runId, err := parseIntParam(c.Param("id"))
		if businessId == "" || err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id and numeric run id are required"})
			return
		}
		report, err := reconciler.GetReport(c.Request.Context(), businessId, runId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "reportHandler", "GetReport", runId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func applyHandler(reconciler *workflow.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.Query("business_id")
		runId, err := parseIntParam(c.Param("id"))
		if businessId == "" || err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id and numeric run id are required"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		ctx = utils.SetRunIdInContext(ctx, runId)

		report, err := reconciler.GetReport(ctx, businessId, runId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
			return
		}

		result, err := reconciler.ApplyMatches(ctx, report)
		if errors.Is(err, workflow.ErrApplyInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil && !utils.IsConflict(err) {
			config.LogError(config.GetLogger(), "server.go", "applyHandler", "ApplyMatches", runId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "apply failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// reconPubSubHandler lets a scheduler trigger runs through a Pub/Sub push
// subscription. Malformed payloads are acked and dropped to avoid retry
// storms; real failures are nacked for redelivery.
func reconPubSubHandler(reconciler *workflow.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "reconPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var push pubSubPush
		if err := json.Unmarshal(body, &push); err != nil {
			config.LogError(logger, "server.go", "reconPubSubHandler", "unmarshal envelope", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var req runRequest
		if err := json.Unmarshal(push.Message.Data, &req); err != nil {
			config.LogError(logger, "server.go", "reconPubSubHandler", "unmarshal payload", push.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}
		period, err := req.period()
		if err != nil || req.BusinessId == "" {
			c.Status(http.StatusNoContent)
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		ctx = utils.SetCorrelationIdInContext(ctx, push.Message.ID)
		if _, err := reconciler.Preview(ctx, req.BusinessId, period, req.CustomerId); err != nil {
			config.LogError(logger, "server.go", "reconPubSubHandler", "Preview", req, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func parseIntParam(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative id")
	}
	return n, nil
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	reconciler, err := workflow.NewReconciler(models.NewGormStore(), config.GetLogger(), workflow.DefaultReconcilerConfig())
	if err != nil {
		log.Fatalf("reconciler construction failed: %v", err)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/reconciliation/runs", runHandler(reconciler))
	router.GET("/reconciliation/runs/:id", reportHandler(reconciler))
	router.POST("/reconciliation/runs/:id/apply", applyHandler(reconciler))
	router.POST("/pubsub/reconcile", reconPubSubHandler(reconciler))

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Connect dependencies AFTER the server is listening (Cloud Run).
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("server exited")
}
