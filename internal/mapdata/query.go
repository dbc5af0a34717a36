package mapdata

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const keyPrefix = "map_data:"

// MapQuery is the filter and viewport of one map data request.
type MapQuery struct {
	Technology string
	Company    string
	Year       string
	CMUID      string
	North      *float64
	South      *float64
	East       *float64
	West       *float64
	Zoom       int
}

// Viewport is a lat/lng bounding box.
type Viewport struct {
	Name  string
	North float64
	South float64
	East  float64
	West  float64
}

// Viewports pre-built by Warm.
var (
	UKViewport      = Viewport{Name: "uk", North: 58.7, South: 50.0, East: 1.8, West: -8.2}
	EnglandViewport = Viewport{Name: "england", North: 55.0, South: 50.0, East: 1.8, West: -5.7}
)

// WithViewport returns a copy of q bounded by v.
func (q MapQuery) WithViewport(v Viewport) MapQuery {
	n, s, e, w := v.North, v.South, v.East, v.West
	q.North, q.South, q.East, q.West = &n, &s, &e, &w
	return q
}

// ParseQuery reads a map query from request parameters. Bounds and zoom
// must be numeric when present.
func ParseQuery(v url.Values) (MapQuery, error) {
	q := MapQuery{
		Technology: strings.TrimSpace(v.Get("technology")),
		Company:    strings.TrimSpace(v.Get("company")),
		Year:       strings.TrimSpace(v.Get("year")),
		CMUID:      strings.ToUpper(strings.TrimSpace(v.Get("cmu_id"))),
	}
	bounds := []struct {
		name string
		dst  **float64
	}{
		{"north", &q.North}, {"south", &q.South}, {"east", &q.East}, {"west", &q.West},
	}
	for _, b := range bounds {
		raw := strings.TrimSpace(v.Get(b.name))
		if raw == "" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return MapQuery{}, fmt.Errorf("invalid %s bound %q", b.name, raw)
		}
		*b.dst = &f
	}
	if raw := strings.TrimSpace(v.Get("zoom")); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil {
			return MapQuery{}, fmt.Errorf("invalid zoom %q", raw)
		}
		q.Zoom = z
	}
	return q, nil
}

// params lists the query's present parameters.
func (q MapQuery) params() map[string]string {
	p := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	setF := func(k string, f *float64) {
		if f != nil {
			p[k] = strconv.FormatFloat(*f, 'f', -1, 64)
		}
	}
	set("technology", q.Technology)
	set("company", q.Company)
	set("year", q.Year)
	set("cmu_id", q.CMUID)
	setF("north", q.North)
	setF("south", q.South)
	setF("east", q.East)
	setF("west", q.West)
	if q.Zoom != 0 {
		p["zoom"] = strconv.Itoa(q.Zoom)
	}
	return p
}

// CacheKey derives the Redis key for q from its sorted present parameters,
// so equal queries share an entry whatever order they were given in.
func CacheKey(q MapQuery) string {
	p := q.params()
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return keyPrefix + hex.EncodeToString(sum[:])
}
