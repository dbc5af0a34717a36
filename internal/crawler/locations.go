package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"capacity-checker/internal/parse"
)

// CountyLookup resolves an outcode to its county.
type CountyLookup interface {
	CountyForOutcode(ctx context.Context, outcode string) (string, error)
}

// LocationLookup is everything PopulateLocationFields needs from the
// postcode resolver.
type LocationLookup interface {
	CountyLookup
	Geocoder
}

// LocationReport counts the work done by PopulateLocationFields.
type LocationReport struct {
	Updated int // components given an outward code and county
	GeocodeReport
}

// PopulateLocationFields derives the outward code and county of components
// stored without them, then geocodes every component not yet on the map.
// Components whose location holds no postcode keep empty location fields.
func (s *Service) PopulateLocationFields(ctx context.Context, lookup LocationLookup, batchSize int) (LocationReport, error) {
	var rep LocationReport
	updated, err := s.populateOutcodes(ctx, lookup, batchSize)
	rep.Updated = updated
	if err != nil {
		return rep, err
	}
	rep.GeocodeReport, err = s.GeocodeComponents(ctx, lookup, GeocodeOptions{BatchSize: batchSize})
	return rep, err
}

func (s *Service) populateOutcodes(ctx context.Context, counties CountyLookup, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	countyOf := make(map[string]string)
	updated := 0
	var afterID int64
	for {
		batch, err := s.store.ComponentsMissingLocationFields(ctx, afterID, batchSize)
		if err != nil {
			return updated, fmt.Errorf("load components after %d: %w", afterID, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			afterID = c.ID
			_, outcode, ok := parse.ExtractPostcode(c.Location)
			if !ok {
				continue
			}
			county, seen := countyOf[outcode]
			if !seen && counties != nil {
				county, err = counties.CountyForOutcode(ctx, outcode)
				if err != nil {
					s.logger.Debug("county lookup failed", zap.String("outcode", outcode), zap.Error(err))
					county = ""
				}
				countyOf[outcode] = county
			}
			if err := s.store.UpdateLocationFields(ctx, c.ID, outcode, county); err != nil {
				return updated, fmt.Errorf("update component %d: %w", c.ID, err)
			}
			updated++
		}
		if err := ctx.Err(); err != nil {
			return updated, err
		}
	}
	s.logger.Info("location fields populated", zap.Int("updated", updated))
	return updated, nil
}
