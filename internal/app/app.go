// Package app wires the services shared by the server and the command line tool.
package app

import (
	"context"
	"fmt"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"capacity-checker/config"
	"capacity-checker/internal/api"
	"capacity-checker/internal/crawler"
	"capacity-checker/internal/db"
	"capacity-checker/internal/mapdata"
	"capacity-checker/internal/neso"
	"capacity-checker/internal/notification"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/postcode"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/search"
	"capacity-checker/internal/store"
)

// App holds every long-lived service.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Clock    clockwork.Clock
	DB       *gorm.DB
	Store    store.Store
	Redis    *redis.Client
	Cache    *rcache.Cache
	Registry *neso.Client
	Postcode *postcode.Resolver
	Search   *search.Service
	Maps     *mapdata.Service
	Crawler  *crawler.Service
	WebPush  *webpush.Options
	Alerts   *notification.WorkerPool // nil without VAPID keys
}

// New connects to the database and Redis and builds the services on top.
func New(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*App, error) {
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		Clock:   clockwork.NewRealClock(),
		DB:      gormDB,
		Store:   store.NewGormStore(gormDB),
		Redis:   rcache.NewClient(cfg.Redis),
	}
	a.Cache = rcache.New(a.Redis, metrics, logger.Named("rcache"))
	if !a.Cache.Enabled() {
		logger.Warn("redis is not configured, shared caches are disabled")
	}

	a.Registry = neso.NewClient(cfg.NESO, metrics, logger.Named("neso"))

	mappings := postcode.NewMappingStore(cfg.Postcode.MappingFile)
	if err := mappings.Load(); err != nil {
		return nil, err
	}
	pio := postcode.NewPostcodesIO(cfg.Postcode.PostcodesIOURL, cfg.Postcode.Timeout,
		postcode.NewLimiter(cfg.Postcode.LookupInterval, a.Clock), metrics, logger.Named("postcodes_io"))
	nominatim := postcode.NewNominatim(cfg.Postcode.NominatimURL, cfg.Postcode.UserAgent, cfg.Postcode.Timeout,
		postcode.NewLimiter(cfg.Postcode.MinInterval, a.Clock), metrics, logger.Named("nominatim"))
	a.Postcode = postcode.NewResolver(cfg.Postcode, mappings, a.Cache, pio, nominatim, logger.Named("postcode"))

	index := search.NewCompanyIndex(a.Store, a.Cache, a.Clock, logger.Named("company_index"))
	a.Search = search.NewService(a.Store, a.Cache, index, search.NewCMUMapping(a.Cache), a.Postcode, a.Clock, logger.Named("search"))
	a.Maps = mapdata.NewService(a.Store, a.Cache, a.Clock, logger.Named("mapdata"))

	var alerts crawler.Alerter
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		a.WebPush = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		a.Alerts = notification.NewWorkerPool(cfg.WorkerPool.Size, a.Store, a.WebPush, metrics, logger.Named("notification"))
		alerts = a.Alerts
	} else {
		logger.Warn("VAPID keys are not configured, company watch alerts are disabled")
	}
	a.Crawler = crawler.NewService(a.Registry, a.Store, a.Search, a.Maps, alerts, metrics, a.Clock, logger.Named("crawler"))

	return a, nil
}

// APIDeps returns the dependencies of the HTTP handlers.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Store:     a.Store,
		Cache:     a.Cache,
		Search:    a.Search,
		Maps:      a.Maps,
		Postcodes: a.Postcode,
		WebPush:   a.WebPush,
		Logger:    a.Logger.Named("api"),
	}
}

// StartAlerts launches the alert workers when push is configured.
func (a *App) StartAlerts(ctx context.Context) {
	if a.Alerts != nil {
		a.Alerts.Start(ctx)
	}
}

// Close drains queued alerts and releases connections.
func (a *App) Close() {
	if a.Alerts != nil {
		a.Alerts.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
