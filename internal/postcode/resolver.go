package postcode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"capacity-checker/config"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/store"
)

const (
	areaKeyPrefix      = "area_postcodes:"
	neighbourKeyPrefix = "outcode_neighbours:"
	countyKeyPrefix    = "outcode_county:"
	centroidKeyPrefix  = "outcode_centroid:"

	negativeTTL         = 6 * time.Hour
	sharedLookupTimeout = time.Minute
	minPlaceName        = 3
)

// LocationSource provides the component location strings mined by
// RefreshFromComponents.
type LocationSource interface {
	LocationCounts(ctx context.Context) ([]store.LocationCount, error)
}

// Resolver maps free-text areas and postcodes to UK outcodes. Lookups go
// through the mapping file, then Redis, then the upstream APIs.
type Resolver struct {
	mappings  *MappingStore
	cache     *rcache.Cache
	pio       *PostcodesIO
	nominatim *Nominatim
	cfg       config.PostcodeConfig
	logger    *zap.Logger

	group singleflight.Group
}

// NewResolver wires a resolver. cache may be disabled.
func NewResolver(cfg config.PostcodeConfig, mappings *MappingStore, cache *rcache.Cache, pio *PostcodesIO, nominatim *Nominatim, logger *zap.Logger) *Resolver {
	return &Resolver{
		mappings:  mappings,
		cache:     cache,
		pio:       pio,
		nominatim: nominatim,
		cfg:       cfg,
		logger:    logger,
	}
}

// Mappings exposes the backing mapping store.
func (r *Resolver) Mappings() *MappingStore {
	return r.mappings
}

// OutcodesForArea resolves an area name such as "clapham" to outcodes.
// Concurrent lookups of the same area share one upstream resolution.
func (r *Resolver) OutcodesForArea(ctx context.Context, area string) ([]string, error) {
	key := normalizeArea(area)
	if key == "" {
		return nil, ErrNoMatch
	}

	if codes, ok := r.mappings.Lookup(key); ok {
		return codes, nil
	}

	var cached []string
	if err := r.cache.GetJSON(ctx, areaKeyPrefix+key, &cached); err == nil {
		if len(cached) == 0 {
			return nil, ErrNoMatch
		}
		return cached, nil
	}

	// the shared lookup outlives any one caller; each caller still gives up
	// when its own ctx is done
	ch := r.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		return r.resolveArea(shared, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]string), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) resolveArea(ctx context.Context, area string) ([]string, error) {
	codes, err := r.geocodeArea(ctx, area)
	if err != nil && !errors.Is(err, ErrNoMatch) {
		return nil, err
	}

	if len(codes) == 0 {
		if cerr := r.cache.SetJSON(ctx, areaKeyPrefix+area, []string{}, negativeTTL); cerr != nil {
			r.logger.Warn("failed to cache empty area lookup", zap.String("area", area), zap.Error(cerr))
		}
		return nil, ErrNoMatch
	}

	sort.Strings(codes)
	if cerr := r.cache.SetJSON(ctx, areaKeyPrefix+area, codes, r.cfg.CacheTTL); cerr != nil {
		r.logger.Warn("failed to cache area lookup", zap.String("area", area), zap.Error(cerr))
	}
	if r.mappings.Merge(area, codes) {
		if serr := r.mappings.Save(); serr != nil {
			r.logger.Error("failed to persist postcode mappings", zap.Error(serr))
		}
	}

	r.logger.Info("resolved area to outcodes", zap.String("area", area), zap.Strings("outcodes", codes))
	return codes, nil
}

func (r *Resolver) geocodeArea(ctx context.Context, area string) ([]string, error) {
	place, err := r.nominatim.Search(ctx, area)
	if err == nil {
		codes, err := r.pio.ReverseGeocode(ctx, place.SamplePoints(), r.cfg.ReverseRadiusMeters, r.cfg.ReverseLimit)
		if err != nil {
			return nil, fmt.Errorf("reverse geocode %q: %w", area, err)
		}
		if len(codes) > 0 {
			return codes, nil
		}
	} else if !errors.Is(err, ErrNoMatch) {
		return nil, err
	}

	if !parse.IsOutcode(area) {
		return nil, ErrNoMatch
	}
	info, err := r.pio.Outcode(ctx, area)
	if err != nil {
		if errors.Is(err, ErrInvalidOutcode) {
			return nil, ErrNoMatch
		}
		return nil, err
	}
	return []string{info.Outcode}, nil
}

// OutcodesForPostcode returns the outcode of postcode followed by its
// neighbours. An outcode postcodes.io does not know yields ErrInvalidOutcode.
func (r *Resolver) OutcodesForPostcode(ctx context.Context, postcode string) ([]string, error) {
	outcode := parse.Outcode(postcode)
	if !parse.IsOutcode(outcode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcode, postcode)
	}

	var cached []string
	if err := r.cache.GetJSON(ctx, neighbourKeyPrefix+outcode, &cached); err == nil && len(cached) > 0 {
		return cached, nil
	}

	info, err := r.pio.Outcode(ctx, outcode)
	if err != nil {
		return nil, err
	}
	outcode = info.Outcode

	codes := []string{outcode}
	nearest, err := r.pio.NearestOutcodes(ctx, outcode)
	if err != nil {
		r.logger.Warn("failed to fetch neighbouring outcodes", zap.String("outcode", outcode), zap.Error(err))
		return codes, nil
	}
	for _, c := range nearest {
		if c != outcode {
			codes = append(codes, c)
		}
	}

	if cerr := r.cache.SetJSON(ctx, neighbourKeyPrefix+outcode, codes, r.cfg.CacheTTL); cerr != nil {
		r.logger.Warn("failed to cache outcode neighbours", zap.String("outcode", outcode), zap.Error(cerr))
	}
	return codes, nil
}

// AreaForPostcode returns the mapped area for the outcode part of postcode.
func (r *Resolver) AreaForPostcode(postcode string) (string, bool) {
	return r.mappings.AreaForPostcode(postcode)
}

// CountyForOutcode returns the admin county of outcode, falling back to its district.
func (r *Resolver) CountyForOutcode(ctx context.Context, outcode string) (string, error) {
	outcode = parse.Outcode(outcode)
	if county, err := r.cache.GetString(ctx, countyKeyPrefix+outcode); err == nil {
		return county, nil
	}

	info, err := r.pio.Outcode(ctx, outcode)
	if err != nil {
		return "", err
	}
	var county string
	switch {
	case len(info.AdminCounty) > 0 && info.AdminCounty[0] != "":
		county = info.AdminCounty[0]
	case len(info.AdminDistrict) > 0:
		county = info.AdminDistrict[0]
	}
	if cerr := r.cache.SetString(ctx, countyKeyPrefix+outcode, county, r.cfg.CacheTTL); cerr != nil {
		r.logger.Warn("failed to cache county", zap.String("outcode", outcode), zap.Error(cerr))
	}
	return county, nil
}

// Locate returns the coordinates of a component. The postcode found in
// location is tried first, then the centroid of its outcode, then the
// centroid of fallbackOutcode. ErrNoMatch means nothing could be placed.
func (r *Resolver) Locate(ctx context.Context, location, fallbackOutcode string) (lat, lon float64, err error) {
	postcode, outcode, ok := parse.ExtractPostcode(location)
	if ok {
		p, err := r.pio.Postcode(ctx, postcode)
		switch {
		case err == nil:
			return p.Lat, p.Lon, nil
		case !errors.Is(err, ErrUnknownPostcode):
			return 0, 0, err
		}
	} else {
		outcode = parse.Outcode(fallbackOutcode)
	}
	if outcode == "" {
		return 0, 0, fmt.Errorf("%w: %q", ErrNoMatch, location)
	}

	p, err := r.outcodeCentroid(ctx, outcode)
	if err != nil {
		if errors.Is(err, ErrInvalidOutcode) {
			return 0, 0, fmt.Errorf("%w: %q", ErrNoMatch, location)
		}
		return 0, 0, err
	}
	return p.Lat, p.Lon, nil
}

func (r *Resolver) outcodeCentroid(ctx context.Context, outcode string) (Point, error) {
	var p Point
	if err := r.cache.GetJSON(ctx, centroidKeyPrefix+outcode, &p); err == nil {
		return p, nil
	}
	info, err := r.pio.Outcode(ctx, outcode)
	if err != nil {
		return Point{}, err
	}
	p = Point{Lat: info.Latitude, Lon: info.Longitude}
	if cerr := r.cache.SetJSON(ctx, centroidKeyPrefix+outcode, p, r.cfg.CacheTTL); cerr != nil {
		r.logger.Warn("failed to cache outcode centroid", zap.String("outcode", outcode), zap.Error(cerr))
	}
	return p, nil
}

// PlaceCount is a place name mined from component locations.
type PlaceCount struct {
	Place    string
	Count    int64
	Outcodes []string
}

// UnmappedPlaces lists places seen at least minComponents times that the
// mapping store does not know yet, most frequent first.
func (r *Resolver) UnmappedPlaces(ctx context.Context, src LocationSource, minComponents int) ([]PlaceCount, error) {
	places, err := minePlaces(ctx, src, minComponents)
	if err != nil {
		return nil, err
	}
	var missing []PlaceCount
	for _, p := range places {
		if !r.mappings.Has(p.Place) {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// RefreshFromComponents builds area mappings from component locations: each
// place name seen at least minComponents times is mapped to the outcodes
// found alongside it. It returns how many new areas were added.
func (r *Resolver) RefreshFromComponents(ctx context.Context, src LocationSource, minComponents int) (int, error) {
	places, err := minePlaces(ctx, src, minComponents)
	if err != nil {
		return 0, err
	}

	added, changed := 0, false
	for _, p := range places {
		if len(p.Outcodes) == 0 {
			continue
		}
		isNew := !r.mappings.Has(p.Place)
		if r.mappings.Merge(p.Place, p.Outcodes) {
			changed = true
			if isNew {
				added++
			}
		}
	}

	if changed {
		if err := r.mappings.Save(); err != nil {
			return added, fmt.Errorf("save postcode mappings: %w", err)
		}
	}
	r.logger.Info("refreshed postcode mappings from components",
		zap.Int("places", len(places)),
		zap.Int("added", added),
		zap.Int("areas", r.mappings.Areas()),
	)
	return added, nil
}

// ClearCache drops every cached area lookup.
func (r *Resolver) ClearCache(ctx context.Context) (int, error) {
	return r.cache.DeletePattern(ctx, areaKeyPrefix+"*")
}

func minePlaces(ctx context.Context, src LocationSource, minComponents int) ([]PlaceCount, error) {
	counts, err := src.LocationCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load location counts: %w", err)
	}

	type agg struct {
		count    int64
		outcodes map[string]struct{}
	}
	byPlace := make(map[string]*agg)
	for _, lc := range counts {
		place := parse.PlaceName(lc.Location)
		if len(place) < minPlaceName {
			continue
		}
		a, ok := byPlace[place]
		if !ok {
			a = &agg{outcodes: map[string]struct{}{}}
			byPlace[place] = a
		}
		a.count += lc.Count
		if _, oc, ok := parse.ExtractPostcode(lc.Location); ok {
			a.outcodes[oc] = struct{}{}
		}
	}

	var out []PlaceCount
	for place, a := range byPlace {
		if a.count < int64(minComponents) {
			continue
		}
		codes := make([]string, 0, len(a.outcodes))
		for oc := range a.outcodes {
			codes = append(codes, oc)
		}
		sort.Strings(codes)
		out = append(out, PlaceCount{Place: place, Count: a.count, Outcodes: codes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Place < out[j].Place
	})
	return out, nil
}
