// Package dupes finds components stored more than once.
package dupes

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"capacity-checker/internal/model"
	"capacity-checker/internal/store"
)

// Level sets how many fields two components must share to be duplicates.
type Level string

const (
	LevelExact    Level = "exact"    // every field
	LevelStandard Level = "standard" // identifying fields
	LevelRelaxed  Level = "relaxed"  // CMU and location only
)

// ParseLevel validates a match level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelExact, LevelStandard, LevelRelaxed:
		return l, nil
	case "":
		return LevelStandard, nil
	default:
		return "", fmt.Errorf("unknown match level %q (want exact, standard or relaxed)", s)
	}
}

// Set is a group of matching components. The first one is kept on clean.
type Set struct {
	Key        string            `json:"key"`
	Components []model.Component `json:"components"`
}

// Report summarises a detection pass.
type Report struct {
	Level      Level `json:"level"`
	Total      int   `json:"total"`
	Unique     int   `json:"unique"`
	Duplicates int   `json:"duplicates"`
	Sets       []Set `json:"sets"`
}

// Detector groups components by the key of its level.
type Detector struct {
	level Level
	order []string
	byKey map[string][]model.Component
	total int
}

// NewDetector creates a detector for level.
func NewDetector(level Level) *Detector {
	return &Detector{level: level, byKey: make(map[string][]model.Component)}
}

// Add feeds components to the detector.
func (d *Detector) Add(components ...model.Component) {
	for _, c := range components {
		k := Key(c, d.level)
		if _, ok := d.byKey[k]; !ok {
			d.order = append(d.order, k)
		}
		d.byKey[k] = append(d.byKey[k], c)
		d.total++
	}
}

// Report lists the duplicate sets in order of first appearance.
func (d *Detector) Report() Report {
	r := Report{Level: d.level, Total: d.total}
	for _, k := range d.order {
		comps := d.byKey[k]
		if len(comps) == 1 {
			r.Unique++
			continue
		}
		r.Sets = append(r.Sets, Set{Key: k, Components: comps})
		r.Duplicates += len(comps) - 1
	}
	return r
}

// Detect groups components in one call.
func Detect(components []model.Component, level Level) Report {
	d := NewDetector(level)
	d.Add(components...)
	return d.Report()
}

// Key hashes the fields compared at level.
func Key(c model.Component, level Level) string {
	fields := map[string]any{
		"cmu_id":   c.CMUID,
		"location": c.Location,
	}
	if level != LevelRelaxed {
		fields["description"] = c.Description
		fields["technology"] = c.Technology
		fields["delivery_year"] = c.DeliveryYear
		fields["status"] = c.Status
	}
	if level == LevelExact {
		fields["company_name"] = c.CompanyName
		fields["auction_name"] = c.AuctionName
		fields["type"] = c.Type
		fields["derated_capacity_mw"] = c.DeratedCapacityMW
		fields["additional_data"] = canonical(c.AdditionalData)
	}
	// map keys are marshalled in sorted order
	b, _ := json.Marshal(fields)
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// canonical drops the upstream row id so re-imported copies still match.
func canonical(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	delete(m, "_id")
	return m
}

// Scan runs detection over the stored components matching f.
func Scan(ctx context.Context, st store.Store, f store.ComponentFilter, level Level) (Report, error) {
	d := NewDetector(level)
	err := st.Iterate(ctx, f, 1000, func(batch []model.Component) error {
		d.Add(batch...)
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("scan components: %w", err)
	}
	return d.Report(), nil
}

// Deleter removes components by database id.
type Deleter interface {
	DeleteComponents(ctx context.Context, ids []int64) (int64, error)
}

const deleteChunk = 500

// Redundant lists the ids that Clean would remove: all but the first of each set.
func Redundant(r Report) []int64 {
	var ids []int64
	for _, s := range r.Sets {
		for _, c := range s.Components[1:] {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Clean deletes every redundant component and returns how many rows went.
func Clean(ctx context.Context, d Deleter, r Report) (int64, error) {
	ids := Redundant(r)
	var deleted int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := start + deleteChunk
		if end > len(ids) {
			end = len(ids)
		}
		n, err := d.DeleteComponents(ctx, ids[start:end])
		deleted += n
		if err != nil {
			return deleted, fmt.Errorf("delete duplicates: %w", err)
		}
	}
	return deleted, nil
}
