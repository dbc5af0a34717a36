package search

import (
	"context"
	"errors"
	"strings"

	"capacity-checker/internal/model"
	"capacity-checker/internal/rcache"
)

const cmuMappingKey = "cmu_to_company_mapping"

// CMUMapping is the Redis map from CMU id to company name, used to label
// components whose own company name is blank.
type CMUMapping struct {
	cache *rcache.Cache
}

// NewCMUMapping wraps cache.
func NewCMUMapping(cache *rcache.Cache) *CMUMapping {
	return &CMUMapping{cache: cache}
}

// All returns the whole mapping. A missing mapping is empty.
func (m *CMUMapping) All(ctx context.Context) (map[string]string, error) {
	mapping := map[string]string{}
	if err := m.cache.GetJSON(ctx, cmuMappingKey, &mapping); err != nil && !errors.Is(err, rcache.ErrMiss) {
		return nil, err
	}
	return mapping, nil
}

// Company returns the company for cmuID, matching the id case-insensitively.
func (m *CMUMapping) Company(ctx context.Context, cmuID string) (string, bool) {
	mapping, err := m.All(ctx)
	if err != nil {
		return "", false
	}
	return companyFor(mapping, cmuID)
}

func companyFor(mapping map[string]string, cmuID string) (string, bool) {
	if name, ok := mapping[cmuID]; ok {
		return name, true
	}
	for id, name := range mapping {
		if strings.EqualFold(id, cmuID) {
			return name, true
		}
	}
	return "", false
}

// Set stores one entry.
func (m *CMUMapping) Set(ctx context.Context, cmuID, company string) error {
	mapping, err := m.All(ctx)
	if err != nil {
		return err
	}
	mapping[strings.TrimSpace(cmuID)] = strings.TrimSpace(company)
	return m.cache.SetJSON(ctx, cmuMappingKey, mapping, 0)
}

// Delete removes one entry.
func (m *CMUMapping) Delete(ctx context.Context, cmuID string) error {
	mapping, err := m.All(ctx)
	if err != nil {
		return err
	}
	delete(mapping, cmuID)
	return m.cache.SetJSON(ctx, cmuMappingKey, mapping, 0)
}

// Rebuild replaces the mapping from registry records and returns its size.
func (m *CMUMapping) Rebuild(ctx context.Context, records []model.CMURecord) (int, error) {
	mapping := make(map[string]string, len(records))
	for _, r := range records {
		if r.CMUID != "" && r.FullName != "" {
			mapping[r.CMUID] = r.FullName
		}
	}
	if err := m.cache.SetJSON(ctx, cmuMappingKey, mapping, 0); err != nil {
		return 0, err
	}
	return len(mapping), nil
}
