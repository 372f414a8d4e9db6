package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/iff-guardian/siem-gateway/internal/alert"
	"github.com/iff-guardian/siem-gateway/internal/broadcast"
	"github.com/iff-guardian/siem-gateway/internal/correlate"
	"github.com/iff-guardian/siem-gateway/internal/httpapi"
	"github.com/iff-guardian/siem-gateway/internal/pipeline"
	"github.com/iff-guardian/siem-gateway/internal/store"
	"github.com/iff-guardian/siem-gateway/internal/tailer"
	"github.com/iff-guardian/siem-gateway/pkg/config"
	"github.com/iff-guardian/siem-gateway/pkg/health"
	"github.com/iff-guardian/siem-gateway/pkg/logger"
	"github.com/iff-guardian/siem-gateway/pkg/metrics"
)

// tailerStaleAfter bounds how long the tailer may go without a successful
// read before /health/ready reports it unhealthy.
const tailerStaleAfter = 5 * time.Minute

func main() {
	cfg, err := config.Load("siem-gateway")
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	appLogger := logger.New(cfg.LogLevel, cfg.ServiceName)
	metricsCollector := metrics.NewCollector(cfg.ServiceName)
	healthChecker := health.New()

	st, err := store.Open(cfg.DBFile)
	if err != nil {
		appLogger.Fatal("failed to open store", "error", err)
	}
	defer st.Close()
	healthChecker.AddCheck("store", func(ctx context.Context) error {
		return st.Ping()
	})

	broadcaster := broadcast.New(appLogger)
	correlator := correlate.New(cfg.CorrelationWindowSeconds, cfg.CorrelationThreshold)

	orchestrator := pipeline.New(st, broadcaster, correlator, metricsCollector, pipeline.Config{
		RetentionLimit: cfg.RetentionLimit,
		PruneInterval:  cfg.PruneInterval,
		RingSize:       cfg.StartupLoadLimit,
	}, appLogger)
	orchestrator.LoadRing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orchestrator.Run(ctx)

	logTailer := tailer.New(cfg.AlertsFile, func(raw alert.RawAlert) {
		orchestrator.Ingest(alert.SourceWazuh, raw)
	}, appLogger)

	healthChecker.AddCheck("tailer", func(ctx context.Context) error {
		last := logTailer.LastReadAt()
		if last.IsZero() {
			return nil // nothing tailed yet; not itself unhealthy
		}
		if time.Since(last) > tailerStaleAfter {
			return fmt.Errorf("no alert read from %s in over %s", cfg.AlertsFile, tailerStaleAfter)
		}
		return nil
	})

	go func() {
		if err := logTailer.Run(ctx); err != nil {
			appLogger.Error("tailer stopped", "error", err)
		}
	}()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.LoggingMiddleware(appLogger))
	router.Use(metrics.Middleware(cfg.ServiceName, metricsCollector))

	router.GET("/health", health.HandlerFunc(healthChecker))
	router.GET("/health/ready", health.ReadinessHandlerFunc(healthChecker))
	router.GET("/metrics", metrics.HandlerFunc())

	api := httpapi.New(orchestrator, appLogger)
	api.RegisterRoutes(router)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"*"},
		AllowedHeaders: []string{"*"},
	}).Handler(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		appLogger.Info("starting siem-gateway", "port", cfg.Port, "alerts_file", cfg.AlertsFile)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down siem-gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
	}

	appLogger.Info("siem-gateway shutdown complete")
}
