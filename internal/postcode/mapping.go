package postcode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// mappingFile is the on-disk layout of the area mapping store.
type mappingFile struct {
	AreaToPostcodes map[string][]string `json:"area_to_postcodes"`
	PostcodeToArea  map[string]string   `json:"postcode_to_area"`
}

// MappingStore is the persistent area to outcode mapping. Areas are stored
// lowercased and outcodes uppercased; both directions are kept in step.
type MappingStore struct {
	path string

	mu   sync.RWMutex
	data mappingFile
}

// NewMappingStore returns an empty store backed by path. Call Load to read it.
func NewMappingStore(path string) *MappingStore {
	return &MappingStore{
		path: path,
		data: mappingFile{
			AreaToPostcodes: map[string][]string{},
			PostcodeToArea:  map[string]string{},
		},
	}
}

// Load reads the mapping file. A missing file leaves the store empty.
func (m *MappingStore) Load() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read postcode mappings: %w", err)
	}

	var data mappingFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode postcode mappings %s: %w", m.path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = mappingFile{
		AreaToPostcodes: make(map[string][]string, len(data.AreaToPostcodes)),
		PostcodeToArea:  make(map[string]string, len(data.PostcodeToArea)),
	}
	// recorded owners win; areas then claim only unowned outcodes, in a
	// stable order
	for code, area := range data.PostcodeToArea {
		code = strings.ToUpper(strings.TrimSpace(code))
		area = normalizeArea(area)
		if code != "" && area != "" {
			m.data.PostcodeToArea[code] = area
		}
	}
	areas := make([]string, 0, len(data.AreaToPostcodes))
	for area := range data.AreaToPostcodes {
		areas = append(areas, area)
	}
	sort.Strings(areas)
	for _, area := range areas {
		m.mergeLocked(area, data.AreaToPostcodes[area])
	}
	return nil
}

// Save writes the store atomically through a temp file and rename.
func (m *MappingStore) Save() error {
	m.mu.RLock()
	raw, err := json.MarshalIndent(m.data, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode postcode mappings: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create mapping dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".postcode_mappings-*.json")
	if err != nil {
		return fmt.Errorf("create temp mapping file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp mapping file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}

// Lookup returns the outcodes mapped to area, case-insensitively.
func (m *MappingStore) Lookup(area string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	codes, ok := m.data.AreaToPostcodes[normalizeArea(area)]
	if !ok || len(codes) == 0 {
		return nil, false
	}
	return append([]string(nil), codes...), true
}

// AreaForPostcode returns the area owning the outcode part of postcode.
func (m *MappingStore) AreaForPostcode(postcode string) (string, bool) {
	fields := strings.Fields(strings.ToUpper(postcode))
	if len(fields) == 0 {
		return "", false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	area, ok := m.data.PostcodeToArea[fields[0]]
	return area, ok
}

// Merge adds outcodes to area and reports whether anything changed.
func (m *MappingStore) Merge(area string, outcodes []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeLocked(area, outcodes)
}

// Areas returns the number of areas in the store.
func (m *MappingStore) Areas() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data.AreaToPostcodes)
}

// Has reports whether area is already mapped.
func (m *MappingStore) Has(area string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data.AreaToPostcodes[normalizeArea(area)]
	return ok
}

// Snapshot copies the area to outcode map.
func (m *MappingStore) Snapshot() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.data.AreaToPostcodes))
	for area, codes := range m.data.AreaToPostcodes {
		out[area] = append([]string(nil), codes...)
	}
	return out
}

func (m *MappingStore) mergeLocked(area string, outcodes []string) bool {
	area = normalizeArea(area)
	if area == "" {
		return false
	}

	existing := m.data.AreaToPostcodes[area]
	set := make(map[string]struct{}, len(existing)+len(outcodes))
	for _, c := range existing {
		set[c] = struct{}{}
	}

	changed := false
	for _, c := range outcodes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := set[c]; !ok {
			set[c] = struct{}{}
			changed = true
		}
		if _, owned := m.data.PostcodeToArea[c]; !owned {
			m.data.PostcodeToArea[c] = area
		}
	}
	if !changed {
		return false
	}

	merged := make([]string, 0, len(set))
	for c := range set {
		merged = append(merged, c)
	}
	sort.Strings(merged)
	m.data.AreaToPostcodes[area] = merged
	return true
}

func normalizeArea(area string) string {
	return strings.ToLower(strings.Join(strings.Fields(area), " "))
}
