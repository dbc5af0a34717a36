package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"capacity-checker/internal/model"
	"capacity-checker/internal/neso"
	"capacity-checker/internal/notification"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/search"
	"capacity-checker/internal/store"
)

// ErrAlreadyRunning is returned when a crawl is requested while one is in progress.
var ErrAlreadyRunning = errors.New("crawl already running")

// Registry is the part of the NESO client the crawler needs.
type Registry interface {
	TotalCMUs(ctx context.Context) (int, error)
	FetchCMUs(ctx context.Context, offset, limit int) ([]neso.Record, int, error)
	FetchComponents(ctx context.Context, cmuID string) ([]neso.Record, error)
}

// Alerter receives company watch alerts.
type Alerter interface {
	Dispatch(ctx context.Context, alert notification.Alert) error
}

// MapCache is dropped after a crawl adds components.
type MapCache interface {
	Clear(ctx context.Context) (int, error)
}

// Options bound a full crawl.
type Options struct {
	BatchSize int // CMUs per registry page
	Limit     int // stop after this many CMUs, 0 for all
	Offset    int // registry offset to start at
}

// Service copies the capacity market registry into the database.
type Service struct {
	registry Registry
	store    store.Store
	search   *search.Service
	maps     MapCache
	alerts   Alerter
	metrics  *observability.Metrics
	clock    clockwork.Clock
	logger   *zap.Logger
	running  atomic.Bool
}

// NewService creates a crawler. maps and alerts may be nil.
func NewService(registry Registry, st store.Store, searchSvc *search.Service, maps MapCache, alerts Alerter, metrics *observability.Metrics, clock clockwork.Clock, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		store:    st,
		search:   searchSvc,
		maps:     maps,
		alerts:   alerts,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// Running reports whether a crawl is in progress.
func (s *Service) Running() bool {
	return s.running.Load()
}

// crawl holds the state of one run.
type crawl struct {
	run   *model.CrawlRun
	added map[string]*notification.Alert
}

func (s *Service) begin(ctx context.Context) (*crawl, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	s.metrics.CrawlRunning.Set(1)

	c := &crawl{
		run:   &model.CrawlRun{ID: uuid.New(), StartedAt: s.clock.Now().UTC()},
		added: make(map[string]*notification.Alert),
	}
	if err := s.store.CreateCrawlRun(ctx, c.run); err != nil {
		s.logger.Warn("failed to record crawl run", zap.Error(err))
	}
	return c, nil
}

// CrawlAll pages through the CMU registry and stores every CMU's components.
// Per-CMU failures are logged, counted and skipped.
func (s *Service) CrawlAll(ctx context.Context, opts Options) (*model.CrawlRun, error) {
	c, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.running.Store(false)

	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	log := s.logger.With(zap.String("run_id", c.run.ID.String()))

	total, err := s.registry.TotalCMUs(ctx)
	if err != nil {
		s.fail(c.run, err)
		log.Warn("failed to read registry size", zap.Error(err))
	}
	c.run.TotalCMUs = total
	log.Info("crawl started", zap.Int("total_cmus", total), zap.Int("offset", opts.Offset), zap.Int("limit", opts.Limit))

	var crawlErr error
	offset := opts.Offset
pages:
	for {
		if err := ctx.Err(); err != nil {
			crawlErr = err
			break
		}
		records, _, err := s.registry.FetchCMUs(ctx, offset, opts.BatchSize)
		if err != nil {
			s.fail(c.run, err)
			log.Error("failed to fetch cmu page", zap.Int("offset", offset), zap.Error(err))
			crawlErr = ctx.Err()
			break
		}
		if len(records) == 0 {
			break
		}
		s.metrics.CrawlPages.Inc()

		cmus := make([]model.CMURecord, 0, len(records))
		for _, r := range records {
			if rec := toCMURecord(r); rec.CMUID != "" {
				cmus = append(cmus, rec)
			}
		}
		if err := s.store.UpsertCMURecords(ctx, cmus); err != nil {
			s.fail(c.run, err)
			log.Error("failed to store cmu records", zap.Int("offset", offset), zap.Error(err))
		}

		for i := range cmus {
			if err := ctx.Err(); err != nil {
				crawlErr = err
				break pages
			}
			s.crawlCMU(ctx, c, cmus[i].CMUID, cmus[i].FullName)
			if opts.Limit > 0 && c.run.CMUsProcessed >= opts.Limit {
				log.Info("cmu limit reached", zap.Int("limit", opts.Limit))
				break pages
			}
		}
		offset += len(records)
		log.Info("crawl progress",
			zap.Int("processed", c.run.CMUsProcessed),
			zap.Int("total", total),
			zap.Int("components_added", c.run.ComponentsAdded),
		)
	}

	s.finish(ctx, c, true)
	return c.run, crawlErr
}

// CrawlCMU refreshes the components of a single CMU.
func (s *Service) CrawlCMU(ctx context.Context, cmuID string) (*model.CrawlRun, error) {
	c, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.running.Store(false)

	var company string
	rec, err := s.store.GetCMURecord(ctx, cmuID)
	switch {
	case err == nil:
		company = rec.FullName
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("look up cmu %s: %w", cmuID, err)
	}

	c.run.TotalCMUs = 1
	s.crawlCMU(ctx, c, cmuID, company)
	s.finish(ctx, c, false)
	return c.run, nil
}

func (s *Service) crawlCMU(ctx context.Context, c *crawl, cmuID, company string) {
	c.run.CMUsProcessed++
	s.metrics.CMUsProcessed.Inc()
	log := s.logger.With(zap.String("cmu_id", cmuID))

	records, err := s.registry.FetchComponents(ctx, cmuID)
	if err != nil {
		s.fail(c.run, err)
		log.Warn("failed to fetch components", zap.Error(err))
		return
	}
	c.run.ComponentsFound += len(records)
	if len(records) == 0 {
		log.Debug("no components found")
		return
	}
	c.run.CMUsWithComponents++

	comps := make([]model.Component, 0, len(records))
	for _, r := range records {
		comps = append(comps, toComponent(r, cmuID, company))
	}
	added, err := s.store.SaveComponents(ctx, comps)
	if err != nil {
		s.fail(c.run, err)
		log.Error("failed to save components", zap.Error(err))
		return
	}
	c.run.ComponentsAdded += len(added)
	s.metrics.ComponentsAdded.Add(float64(len(added)))

	for _, comp := range added {
		id := parse.Normalize(comp.CompanyName)
		if id == "" {
			continue
		}
		a, ok := c.added[id]
		if !ok {
			a = &notification.Alert{CompanyID: id, CompanyName: comp.CompanyName}
			c.added[id] = a
		}
		a.Added++
	}
	log.Debug("components stored", zap.Int("found", len(records)), zap.Int("added", len(added)))
}

func (s *Service) fail(run *model.CrawlRun, err error) {
	run.Errors++
	run.LastError = err.Error()
	s.metrics.CrawlErrors.Inc()
}

// finish refreshes the derived caches, sends watch alerts and closes the run.
// The run is recorded even when ctx is already cancelled.
func (s *Service) finish(ctx context.Context, c *crawl, rebuildIndex bool) {
	defer s.metrics.CrawlRunning.Set(0)
	bg := context.WithoutCancel(ctx)

	if rebuildIndex && s.search != nil {
		records, err := s.store.AllCMURecords(bg)
		if err != nil {
			s.logger.Warn("failed to load cmu records for mapping", zap.Error(err))
		} else if n, err := s.search.Mapping().Rebuild(bg, records); err != nil {
			s.logger.Warn("failed to rebuild cmu mapping", zap.Error(err))
		} else {
			s.logger.Info("cmu mapping rebuilt", zap.Int("entries", n))
		}
		if _, err := s.search.Index().Build(bg); err != nil {
			s.logger.Warn("failed to rebuild company index", zap.Error(err))
		}
	}

	if c.run.ComponentsAdded > 0 {
		if s.search != nil {
			if err := s.search.InvalidateStatistics(bg); err != nil {
				s.logger.Warn("failed to invalidate statistics", zap.Error(err))
			}
		}
		if s.maps != nil {
			if _, err := s.maps.Clear(bg); err != nil {
				s.logger.Warn("failed to clear map cache", zap.Error(err))
			}
		}
		s.dispatchAlerts(bg, c)
	}

	now := s.clock.Now().UTC()
	c.run.FinishedAt = &now
	if err := s.store.FinishCrawlRun(bg, c.run); err != nil {
		s.logger.Warn("failed to record crawl result", zap.Error(err))
	}
	s.logger.Info("crawl finished",
		zap.String("run_id", c.run.ID.String()),
		zap.Int("cmus_processed", c.run.CMUsProcessed),
		zap.Int("cmus_with_components", c.run.CMUsWithComponents),
		zap.Int("components_found", c.run.ComponentsFound),
		zap.Int("components_added", c.run.ComponentsAdded),
		zap.Int("errors", c.run.Errors),
		zap.Duration("elapsed", now.Sub(c.run.StartedAt)),
	)
}

func (s *Service) dispatchAlerts(ctx context.Context, c *crawl) {
	if s.alerts == nil || len(c.added) == 0 {
		return
	}
	ids := make([]string, 0, len(c.added))
	for id := range c.added {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.logger.Info("dispatching company watch alerts", zap.Int("companies", len(ids)))
	for _, id := range ids {
		if err := s.alerts.Dispatch(ctx, *c.added[id]); err != nil {
			s.logger.Warn("failed to queue alert", zap.String("company_id", id), zap.Error(err))
			return
		}
	}
}
