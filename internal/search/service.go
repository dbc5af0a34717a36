package search

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"capacity-checker/internal/rcache"
	"capacity-checker/internal/store"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
	pageWindow     = 2
	maxCompanies   = 50
)

// AreaResolver turns areas and postcodes into outcodes.
type AreaResolver interface {
	OutcodesForArea(ctx context.Context, area string) ([]string, error)
	OutcodesForPostcode(ctx context.Context, postcode string) ([]string, error)
}

// Service answers the company, component and statistics queries behind the web pages.
type Service struct {
	store    store.Store
	cache    *rcache.Cache
	index    *CompanyIndex
	mapping  *CMUMapping
	resolver AreaResolver
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewService wires the search service.
func NewService(st store.Store, cache *rcache.Cache, index *CompanyIndex, mapping *CMUMapping, resolver AreaResolver, clock clockwork.Clock, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		cache:    cache,
		index:    index,
		mapping:  mapping,
		resolver: resolver,
		clock:    clock,
		logger:   logger,
	}
}

// Index exposes the company index.
func (s *Service) Index() *CompanyIndex {
	return s.index
}

// Mapping exposes the CMU to company mapping.
func (s *Service) Mapping() *CMUMapping {
	return s.mapping
}
