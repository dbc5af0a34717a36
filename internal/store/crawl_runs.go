package store

import (
	"context"

	"capacity-checker/internal/model"
)

// CreateCrawlRun records the start of a crawl.
func (s *gormStore) CreateCrawlRun(ctx context.Context, run *model.CrawlRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// FinishCrawlRun persists the final counters of a crawl.
func (s *gormStore) FinishCrawlRun(ctx context.Context, run *model.CrawlRun) error {
	return s.db.WithContext(ctx).Save(run).Error
}

// LatestCrawlRun returns the most recently started crawl.
func (s *gormStore) LatestCrawlRun(ctx context.Context) (*model.CrawlRun, error) {
	var run model.CrawlRun
	if err := s.db.WithContext(ctx).Order("started_at DESC").First(&run).Error; err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}
