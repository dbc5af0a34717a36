package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"capacity-checker/config"
	"capacity-checker/internal/api"
	"capacity-checker/internal/app"
	"capacity-checker/internal/crawler"
	"capacity-checker/internal/observability"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, "checkerd")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	a, err := app.New(cfg, logger, observability.NewMetrics())
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.StartAlerts(ctx)

	scheduler, err := startCron(ctx, a)
	if err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}

	// warm the company index so the first search does not pay for it
	go func() {
		if n, err := a.Search.Index().Build(ctx); err != nil {
			logger.Warn("initial company index build failed", zap.Error(err))
		} else {
			logger.Info("company index built", zap.Int("companies", n))
		}
	}()

	router, err := api.NewRouter(a.APIDeps(), cfg.Server)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server Shutdown", zap.Error(err))
	}
	if err := stopScheduler(shutdownCtx, scheduler, cancel); err != nil {
		logger.Warn("scheduled jobs still running at shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}

// stopScheduler cancels the context running jobs were given, then waits for
// them to return or for ctx to expire.
func stopScheduler(ctx context.Context, scheduler *cron.Cron, cancelJobs context.CancelFunc) error {
	cancelJobs()
	select {
	case <-scheduler.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startCron schedules the registry crawl and the cache rebuild.
func startCron(ctx context.Context, a *app.App) (*cron.Cron, error) {
	cfg := a.Config.Crawler
	logger := a.Logger.Named("cron")

	scheduler := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	if cfg.Enabled {
		if _, err := scheduler.AddFunc(cfg.Schedule, func() {
			run, err := a.Crawler.CrawlAll(ctx, crawler.Options{BatchSize: cfg.BatchSize, Limit: cfg.MaxCMUsPerRun})
			switch {
			case errors.Is(err, crawler.ErrAlreadyRunning):
				logger.Info("crawl skipped, one is already running")
			case err != nil:
				logger.Error("scheduled crawl failed", zap.Error(err))
			default:
				logger.Info("scheduled crawl finished",
					zap.Int("cmus", run.CMUsProcessed),
					zap.Int("components_added", run.ComponentsAdded),
				)
				if run.ComponentsAdded == 0 {
					return
				}
				if _, err := a.Crawler.GeocodeComponents(ctx, a.Postcode, crawler.GeocodeOptions{BatchSize: cfg.BatchSize}); err != nil {
					logger.Error("geocoding new components failed", zap.Error(err))
				}
			}
		}); err != nil {
			return nil, fmt.Errorf("crawl schedule %q: %w", cfg.Schedule, err)
		}
	} else {
		logger.Info("scheduled crawl disabled")
	}

	if _, err := scheduler.AddFunc(cfg.CacheSchedule, func() {
		if n, err := a.Search.Index().Build(ctx); err != nil {
			logger.Error("company index rebuild failed", zap.Error(err))
		} else {
			logger.Info("company index rebuilt", zap.Int("companies", n))
		}
		if n, err := a.Maps.Warm(ctx); err != nil {
			logger.Error("map cache warm failed", zap.Error(err))
		} else {
			logger.Info("map cache warmed", zap.Int("entries", n))
		}
	}); err != nil {
		return nil, fmt.Errorf("cache schedule %q: %w", cfg.CacheSchedule, err)
	}

	scheduler.Start()
	return scheduler, nil
}
