package mapdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"capacity-checker/internal/parse"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/store"
)

const (
	cacheTTL     = 7 * 24 * time.Hour
	featureLimit = 5000
)

// Service builds and caches the map GeoJSON.
type Service struct {
	store  store.Store
	cache  *rcache.Cache
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewService creates a map data service.
func NewService(st store.Store, cache *rcache.Cache, clock clockwork.Clock, logger *zap.Logger) *Service {
	return &Service{store: st, cache: cache, clock: clock, logger: logger}
}

// Features returns the markers for q, from Redis when cached.
func (s *Service) Features(ctx context.Context, q MapQuery) (*FeatureCollection, error) {
	key := CacheKey(q)
	var cached FeatureCollection
	err := s.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		cached.Metadata.Cached = true
		return &cached, nil
	}
	if !errors.Is(err, rcache.ErrMiss) {
		s.logger.Warn("map cache read failed", zap.String("key", key), zap.Error(err))
	}

	fc, err := s.build(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetJSON(ctx, key, fc, cacheTTL); err != nil {
		s.logger.Warn("failed to cache map data", zap.String("key", key), zap.Error(err))
	}
	return fc, nil
}

func (s *Service) build(ctx context.Context, q MapQuery) (*FeatureCollection, error) {
	filter := store.MapFilter{
		CompanyName:  q.Company,
		DeliveryYear: q.Year,
		CMUID:        q.CMUID,
		North:        q.North,
		South:        q.South,
		East:         q.East,
		West:         q.West,
		Limit:        featureLimit,
	}

	if q.Technology != "" {
		techs, err := s.technologiesFor(ctx, q.Technology)
		if err != nil {
			return nil, err
		}
		if len(techs) == 0 {
			fc := BuildGeoJSON(nil)
			s.stamp(&fc, q)
			return &fc, nil
		}
		filter.Technologies = techs
	}

	comps, err := s.store.MapComponents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load map components: %w", err)
	}
	fc := BuildGeoJSON(comps)
	s.stamp(&fc, q)
	return &fc, nil
}

func (s *Service) stamp(fc *FeatureCollection, q MapQuery) {
	fc.Metadata.Filtered = q.Technology != "" || q.Company != "" || q.Year != "" || q.CMUID != ""
	fc.Metadata.Technology = q.Technology
	fc.Metadata.Company = q.Company
	fc.Metadata.BuiltAt = s.clock.Now().UTC()
}

// technologiesFor expands a display bucket into the raw technology classes
// stored on components. A raw class is accepted as is.
func (s *Service) technologiesFor(ctx context.Context, tech string) ([]string, error) {
	all, err := s.store.DistinctTechnologies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list technologies: %w", err)
	}
	var out []string
	for _, t := range all {
		if t == tech || parse.SimplifyTechnology(t) == tech {
			out = append(out, t)
		}
	}
	return out, nil
}

// Warm pre-builds the UK viewport for every map technology, and the England
// viewport at close zoom, and returns how many entries were written.
func (s *Service) Warm(ctx context.Context) (int, error) {
	start := s.clock.Now()
	var queries []MapQuery
	for _, tech := range parse.MapTechnologies {
		queries = append(queries, MapQuery{Technology: tech}.WithViewport(UKViewport))
	}
	for _, tech := range parse.MapTechnologies {
		queries = append(queries, MapQuery{Technology: tech, Zoom: 8}.WithViewport(EnglandViewport))
	}

	n := 0
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		fc, err := s.build(ctx, q)
		if err != nil {
			return n, err
		}
		if err := s.cache.SetJSON(ctx, CacheKey(q), fc, cacheTTL); err != nil {
			return n, fmt.Errorf("cache %s: %w", q.Technology, err)
		}
		n++
	}
	s.logger.Info("map cache warmed", zap.Int("entries", n), zap.Duration("elapsed", s.clock.Since(start)))
	return n, nil
}

// Clear drops every cached map entry.
func (s *Service) Clear(ctx context.Context) (int, error) {
	return s.cache.DeletePattern(ctx, keyPrefix+"*")
}
