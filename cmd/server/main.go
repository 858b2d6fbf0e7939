package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/complygate/complygate/internal/config"
	"github.com/complygate/complygate/internal/handler"
	"github.com/complygate/complygate/internal/middleware"
	"github.com/complygate/complygate/internal/pkg/logger"
	"github.com/complygate/complygate/internal/repository"
	"github.com/complygate/complygate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(cfg.LogLevel)

	// 3. Initialize Persistence (Postgres > Memory)
	var (
		auditStore   service.AuditStore
		requestStore service.RequestStore
		consentStore service.ConsentStore
		markerStore  service.MarkerStore
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
			auditStore = repository.NewPostgresAuditStore(db)
			requestStore = repository.NewPostgresRequestStore(db)
			consentStore = repository.NewPostgresConsentStore(db)
			markerStore = repository.NewPostgresMarkerStore(db)
		} else {
			logger.Error("⚠️ Failed to connect to DB, falling back to memory", "error", err)
		}
	}
	if auditStore == nil {
		mem := service.NewMemoryAuditStore()
		auditStore = mem
		requestStore = service.NewMemoryRequestStore(mem)
		consentStore = service.NewMemoryConsentStore(mem)
		markerStore = service.NewMemoryMarkerStore(mem)
	}

	// Job Persistence (Redis > Memory)
	var jobStore service.JobStore
	if cfg.Redis.Addr != "" {
		redisJobs, err := repository.NewRedisJobStore(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			jobStore = redisJobs
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if jobStore == nil {
		jobStore = service.NewMemoryJobStore()
	}

	// 4. Initialize Core Services
	recorder, err := service.NewAuditRecorder(auditStore, cfg.Compliance.AuditArchiveDir, cfg.Compliance.AuditRetention())
	if err != nil {
		log.Fatalf("Failed to initialize audit recorder: %v", err)
	}

	resolver := service.NewInventoryResolver()
	for _, dc := range cfg.Domains {
		resolver.Register(service.NewHTTPDomain(dc))
		logger.Info("Registered data domain", "key", dc.Key, "base_url", dc.BaseURL)
	}

	policy := service.NewPolicyTable(cfg.Compliance.RetentionRules)

	orchestrator, err := service.NewOrchestrator(resolver, policy, markerStore, recorder, jobStore,
		cfg.Compliance.ExportDir, cfg.Compliance.DomainRetryAttempts, cfg.Compliance.DomainRetryBackoff())
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}

	manager := service.NewLifecycleManager(requestStore, orchestrator,
		cfg.Compliance.SLAWindow(), cfg.Compliance.WarningWindow())
	ledger := service.NewConsentLedger(consentStore)

	// 5. Initialize Handlers
	requestHandler := handler.NewRequestHandler(manager)
	auditHandler := handler.NewAuditHandler(recorder)
	consentHandler := handler.NewConsentHandler(ledger)
	jobHandler := handler.NewJobHandler(manager, orchestrator, resolver, cfg.Compliance.ExportDir)

	// 6. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestIDMiddleware())

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "complygate"})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Public intake: data subjects file requests without an admin key.
	r.POST("/v1/requests", requestHandler.Create)

	// Admin API
	v1 := r.Group("/v1")
	v1.Use(middleware.AdminMiddleware(cfg))
	v1.Use(middleware.RateLimitMiddleware(cfg))
	{
		v1.GET("/requests", requestHandler.List)
		v1.GET("/requests/:id", requestHandler.Get)
		v1.POST("/requests/:id/assign", requestHandler.Assign)
		v1.POST("/requests/:id/notes", requestHandler.AddNote)
		v1.POST("/requests/:id/verify", requestHandler.Verify)
		v1.POST("/requests/:id/start", requestHandler.StartProcessing)
		v1.POST("/requests/:id/complete", requestHandler.Complete)
		v1.POST("/requests/:id/reject", requestHandler.Reject)
		v1.POST("/requests/:id/acknowledge-retained", requestHandler.AcknowledgeRetention)

		v1.POST("/requests/:id/export", jobHandler.TriggerExport)
		v1.POST("/requests/:id/delete", jobHandler.TriggerDeletion)
		v1.GET("/requests/:id/jobs/latest", jobHandler.LatestJob)
		v1.GET("/jobs/:id", jobHandler.JobStatus)
		v1.DELETE("/jobs/:id", jobHandler.CancelJob)
		v1.GET("/exports/:name", jobHandler.DownloadExport)
		v1.GET("/inventory", jobHandler.Inventory)

		v1.GET("/audit", auditHandler.Query)

		v1.POST("/consent-types", consentHandler.CreateType)
		v1.GET("/consent-types", consentHandler.ListTypes)
		v1.PUT("/consent-types/:slug", consentHandler.UpdateType)
		v1.POST("/consents", consentHandler.Decide)
		v1.POST("/consents/withdraw", consentHandler.Withdraw)
		v1.GET("/consents/:slug/current", consentHandler.Current)
		v1.GET("/consents/:slug/history", consentHandler.History)
		v1.GET("/consents/:slug/rate", consentHandler.Rate)
	}

	// 7. Periodic Audit Retention Sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		interval := time.Duration(cfg.Compliance.SweepIntervalMinutes) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				archived, purged, err := recorder.RetentionSweep(sweepCtx, time.Now())
				if err != nil {
					logger.Error("Audit retention sweep failed", "error", err)
					continue
				}
				if archived > 0 || purged > 0 {
					logger.Info("Audit retention sweep finished", "archived", archived, "purged", purged)
				}
			}
		}
	}()

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 ComplyGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopSweep()
	orchestrator.Close()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
