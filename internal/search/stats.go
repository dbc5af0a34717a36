package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"capacity-checker/internal/parse"
	"capacity-checker/internal/store"
)

const (
	statisticsKey = "statistics_v1"
	statisticsTTL = time.Hour
	topCompanies  = 20
)

// Statistics returns the dashboard figures, cached in Redis for an hour.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	var cached Statistics
	if err := s.cache.GetJSON(ctx, statisticsKey, &cached); err == nil {
		return &cached, nil
	}

	stats := &Statistics{}
	var err error
	if stats.Totals, err = s.store.Totals(ctx); err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}
	if stats.Technologies, err = s.store.TechnologyStats(ctx); err != nil {
		return nil, fmt.Errorf("technology stats: %w", err)
	}
	companies, err := s.store.CompanyStats(ctx, topCompanies)
	if err != nil {
		return nil, fmt.Errorf("company stats: %w", err)
	}
	if stats.DeliveryYears, err = s.store.DeliveryYearStats(ctx); err != nil {
		return nil, fmt.Errorf("delivery year stats: %w", err)
	}

	for _, c := range companies {
		stats.TopCompanies = append(stats.TopCompanies, TopCompany{CompanyStat: c, CompanyID: parse.Normalize(c.CompanyName)})
	}
	stats.Categories = categorize(stats.Technologies)

	run, err := s.store.LatestCrawlRun(ctx)
	switch {
	case err == nil:
		stats.LastCrawl = run
	case errors.Is(err, store.ErrNotFound):
	default:
		s.logger.Warn("failed to load latest crawl run", zap.Error(err))
	}

	if err := s.cache.SetJSON(ctx, statisticsKey, stats, statisticsTTL); err != nil {
		s.logger.Warn("failed to cache statistics", zap.Error(err))
	}
	return stats, nil
}

// InvalidateStatistics drops the cached dashboard.
func (s *Service) InvalidateStatistics(ctx context.Context) error {
	return s.cache.Delete(ctx, statisticsKey)
}

func categorize(techs []store.TechnologyStat) []CategoryStat {
	byCat := make(map[string]*CategoryStat)
	for _, t := range techs {
		cat := parse.SimplifyTechnology(t.Technology)
		cs, ok := byCat[cat]
		if !ok {
			cs = &CategoryStat{Category: cat}
			byCat[cat] = cs
		}
		cs.Count += t.Count
		cs.Capacity += t.Capacity
	}
	out := make([]CategoryStat, 0, len(byCat))
	for _, cs := range byCat {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}
