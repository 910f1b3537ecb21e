// Command server runs the epiwatch outbreak early-warning service:
// REST ingestion and alert API, the periodic aggregation/detection/
// escalation pipeline, and the live alert stream.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/aggregation"
	"github.com/epiwatch/epiwatch/internal/api/rest"
	"github.com/epiwatch/epiwatch/internal/api/ws"
	"github.com/epiwatch/epiwatch/internal/config"
	"github.com/epiwatch/epiwatch/internal/detection"
	"github.com/epiwatch/epiwatch/internal/detection/learned"
	"github.com/epiwatch/epiwatch/internal/escalation"
	"github.com/epiwatch/epiwatch/internal/logging"
	"github.com/epiwatch/epiwatch/internal/middleware"
	"github.com/epiwatch/epiwatch/internal/notify"
	"github.com/epiwatch/epiwatch/internal/scheduler"
	"github.com/epiwatch/epiwatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "epiwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	logger.Info("epiwatch starting",
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DatabasePath))

	s, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Learned models. A missing autoencoder artifact degrades the
	// reconstruction score to absent; the service still runs.
	autoencoder := learned.LoadAutoencoder(cfg.ML.ModelPath, logger)
	if cfg.ML.WatchModel {
		go func() {
			if err := autoencoder.Watch(ctx); err != nil {
				logger.Warn("model watcher stopped", zap.Error(err))
			}
		}()
	}
	forest := learned.NewIsolationForest(cfg.ML.ForestSeed)

	// Pipeline stages.
	aggEngine := aggregation.NewEngine(s, s, logger)
	detPipeline := detection.NewPipeline(s, s, autoencoder, forest, cfg.Detection.AnomalyThreshold, logger)
	escalator := escalation.NewEscalator(s, s, cfg.Detection.ConfidenceMin, logger)

	hub := ws.NewHub(logger)
	defer hub.Close()

	var notifiers []escalation.Notifier
	notifiers = append(notifiers, hub)
	if len(cfg.Alerts.WebhookURLs) > 0 {
		webhook := notify.NewWebhook(cfg.Alerts.WebhookURLs,
			time.Duration(cfg.Alerts.WebhookTimeout)*time.Second, logger)
		notifiers = append(notifiers, webhook)
	}

	trigger := escalation.NewTrigger(escalator, s, notifiers,
		time.Duration(cfg.Alerts.DedupHours)*time.Hour, logger)

	runner := scheduler.NewRunner(aggEngine, detPipeline, trigger,
		cfg.Scheduler.AggregationDaysBack, logger)
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(runner,
			time.Duration(cfg.Scheduler.IntervalMinutes)*time.Minute, logger)
		go sched.Start(ctx)
	} else {
		logger.Info("scheduler disabled, pipeline runs on demand only")
	}

	// HTTP surface.
	var limiter *middleware.RateLimiter
	if cfg.IngestRatePerMin > 0 {
		limiter = middleware.NewRateLimiter(cfg.IngestRatePerMin)
		defer limiter.Stop()
	}

	handler := rest.NewHandler(s, runner, autoencoder, logger)
	router := rest.NewRouter(handler, cfg.AllowedOrigins, limiter, func(r *mux.Router) {
		r.HandleFunc("/ws/alerts", hub.HandleWS)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}

	logger.Info("epiwatch stopped")
	return nil
}
