package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Geocoder places a component from its location text, falling back to its
// stored outward code.
type Geocoder interface {
	Locate(ctx context.Context, location, fallbackOutcode string) (lat, lon float64, err error)
}

// GeocodeOptions bound a geocoding pass.
type GeocodeOptions struct {
	BatchSize int  // components loaded per query
	Limit     int  // stop after this many lookups, 0 for all
	Force     bool // re-geocode components that already have coordinates
}

// GeocodeReport counts the outcome of a geocoding pass.
type GeocodeReport struct {
	Geocoded int
	Failed   int
}

// GeocodeComponents gives components their map coordinates. Components that
// cannot be placed are logged and left for the next pass. The map cache is
// dropped when anything moved.
func (s *Service) GeocodeComponents(ctx context.Context, geo Geocoder, opts GeocodeOptions) (GeocodeReport, error) {
	var rep GeocodeReport
	if geo == nil {
		return rep, errors.New("no geocoder configured")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	var afterID int64
	for {
		batch, err := s.store.ComponentsToGeocode(ctx, afterID, opts.BatchSize, opts.Force)
		if err != nil {
			return rep, fmt.Errorf("load components after %d: %w", afterID, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			if opts.Limit > 0 && rep.Geocoded+rep.Failed >= opts.Limit {
				return rep, s.afterGeocode(ctx, rep)
			}
			afterID = c.ID
			lat, lon, err := geo.Locate(ctx, c.Location, c.OutwardCode)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return rep, ctxErr
				}
				s.logger.Debug("component not geocoded", zap.Int64("id", c.ID), zap.String("location", c.Location), zap.Error(err))
				rep.Failed++
				continue
			}
			if err := s.store.UpdateCoordinates(ctx, c.ID, lat, lon); err != nil {
				return rep, fmt.Errorf("update component %d: %w", c.ID, err)
			}
			rep.Geocoded++
		}
	}
	return rep, s.afterGeocode(ctx, rep)
}

func (s *Service) afterGeocode(ctx context.Context, rep GeocodeReport) error {
	s.logger.Info("components geocoded", zap.Int("geocoded", rep.Geocoded), zap.Int("failed", rep.Failed))
	if rep.Geocoded == 0 || s.maps == nil {
		return nil
	}
	if _, err := s.maps.Clear(ctx); err != nil {
		return fmt.Errorf("clear map cache: %w", err)
	}
	return nil
}
