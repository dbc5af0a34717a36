package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"capacity-checker/internal/model"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/store"
)

const (
	companyIndexKey        = "company_index_v1"
	companyIndexUpdatedKey = "company_index_last_updated"

	fuzzyCutoff = 75
	fuzzyLimit  = 20

	// How long a process keeps its in-memory copy before re-reading Redis.
	indexMemoryTTL = 10 * time.Minute
)

// CompanyMatch is a company found by name, with its similarity score (0-100).
type CompanyMatch struct {
	Company   model.Company
	Score     int
	Substring bool
}

// CompanyIndex maps normalized company names to companies. It is built from
// the CMU registry, shared through Redis and kept in memory per process.
type CompanyIndex struct {
	store  store.Store
	cache  *rcache.Cache
	clock  clockwork.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	entries  map[string]model.Company
	loadedAt time.Time
}

// NewCompanyIndex creates an empty index; it is loaded lazily.
func NewCompanyIndex(st store.Store, cache *rcache.Cache, clock clockwork.Clock, logger *zap.Logger) *CompanyIndex {
	return &CompanyIndex{store: st, cache: cache, clock: clock, logger: logger}
}

// BuildCompanies groups registry records into companies keyed by company id.
func BuildCompanies(records []model.CMURecord) map[string]model.Company {
	type acc struct {
		company model.Company
		cmus    map[string]struct{}
		years   map[string]struct{}
	}
	byID := make(map[string]*acc)
	for _, r := range records {
		if r.CompanyID == "" || r.FullName == "" {
			continue
		}
		a, ok := byID[r.CompanyID]
		if !ok {
			a = &acc{
				company: model.Company{ID: r.CompanyID, Name: r.FullName},
				cmus:    map[string]struct{}{},
				years:   map[string]struct{}{},
			}
			byID[r.CompanyID] = a
		}
		a.cmus[r.CMUID] = struct{}{}
		if r.DeliveryYear != "" {
			a.years[r.DeliveryYear] = struct{}{}
		}
	}

	out := make(map[string]model.Company, len(byID))
	for id, a := range byID {
		a.company.CMUIDs = sortedKeys(a.cmus)
		a.company.DeliveryYears = sortedKeys(a.years)
		out[id] = a.company
	}
	return out
}

// Build rebuilds the index from the database and publishes it to Redis.
func (ci *CompanyIndex) Build(ctx context.Context) (int, error) {
	records, err := ci.store.AllCMURecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cmu records: %w", err)
	}
	entries := BuildCompanies(records)

	if err := ci.cache.SetJSON(ctx, companyIndexKey, entries, 0); err != nil {
		return 0, fmt.Errorf("store company index: %w", err)
	}
	now := ci.clock.Now()
	if err := ci.cache.SetString(ctx, companyIndexUpdatedKey, now.UTC().Format(time.RFC3339), 0); err != nil {
		ci.logger.Warn("failed to store company index timestamp", zap.Error(err))
	}

	ci.mu.Lock()
	ci.entries = entries
	ci.loadedAt = now
	ci.mu.Unlock()

	ci.logger.Info("built company index", zap.Int("companies", len(entries)), zap.Int("cmu_records", len(records)))
	return len(entries), nil
}

// LastUpdated returns when the shared index was last built.
func (ci *CompanyIndex) LastUpdated(ctx context.Context) (time.Time, bool) {
	raw, err := ci.cache.GetString(ctx, companyIndexUpdatedKey)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Companies returns the current index, loading or building it when needed.
func (ci *CompanyIndex) Companies(ctx context.Context) (map[string]model.Company, error) {
	ci.mu.RLock()
	entries, loadedAt := ci.entries, ci.loadedAt
	ci.mu.RUnlock()
	if entries != nil && ci.clock.Since(loadedAt) < indexMemoryTTL {
		return entries, nil
	}

	var shared map[string]model.Company
	err := ci.cache.GetJSON(ctx, companyIndexKey, &shared)
	switch {
	case err == nil:
		ci.mu.Lock()
		ci.entries = shared
		ci.loadedAt = ci.clock.Now()
		ci.mu.Unlock()
		return shared, nil
	case errors.Is(err, rcache.ErrMiss):
		ci.logger.Info("company index not cached, building")
	default:
		ci.logger.Warn("failed to read company index from redis", zap.Error(err))
	}

	if _, err := ci.Build(ctx); err != nil {
		return nil, err
	}
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.entries, nil
}

// Lookup returns the company with the given id.
func (ci *CompanyIndex) Lookup(ctx context.Context, companyID string) (model.Company, bool, error) {
	entries, err := ci.Companies(ctx)
	if err != nil {
		return model.Company{}, false, err
	}
	c, ok := entries[companyID]
	return c, ok, nil
}

// Find returns companies matching term by substring of name or CMU id, or
// by fuzzy similarity of the normalized name.
func (ci *CompanyIndex) Find(ctx context.Context, term string) ([]CompanyMatch, error) {
	entries, err := ci.Companies(ctx)
	if err != nil {
		return nil, err
	}
	return FindCompanies(term, entries, fuzzyCutoff, fuzzyLimit), nil
}

// FindCompanies matches term against companies. Substring hits on the
// normalized name or a CMU id are always returned; fuzzy hits need a score
// of at least cutoff and at most limit of them are kept.
func FindCompanies(term string, companies map[string]model.Company, cutoff, limit int) []CompanyMatch {
	norm := parse.Normalize(term)
	if norm == "" {
		return nil
	}

	var substr, fuzzy []CompanyMatch
	for id, c := range companies {
		score := Ratio(norm, id)
		if strings.Contains(id, norm) || containsCMU(c.CMUIDs, norm) {
			substr = append(substr, CompanyMatch{Company: c, Score: score, Substring: true})
			continue
		}
		if score >= cutoff {
			fuzzy = append(fuzzy, CompanyMatch{Company: c, Score: score})
		}
	}

	byScore := func(ms []CompanyMatch) {
		sort.Slice(ms, func(i, j int) bool {
			if ms[i].Score != ms[j].Score {
				return ms[i].Score > ms[j].Score
			}
			return ms[i].Company.Name < ms[j].Company.Name
		})
	}
	byScore(substr)
	byScore(fuzzy)
	if limit > 0 && len(fuzzy) > limit {
		fuzzy = fuzzy[:limit]
	}
	return append(substr, fuzzy...)
}

// Ratio is the Levenshtein similarity of a and b scaled to 0-100.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(100 * (1 - float64(dist)/float64(longest)))
}

func containsCMU(cmuIDs []string, norm string) bool {
	for _, id := range cmuIDs {
		if strings.Contains(parse.Normalize(id), norm) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
