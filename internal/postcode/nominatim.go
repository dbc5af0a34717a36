package postcode

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"capacity-checker/internal/observability"
)

// Place is a Nominatim search hit.
type Place struct {
	Name   string
	Center Point
	// South, North, West, East
	BBox [4]float64
}

type nominatimResult struct {
	DisplayName string   `json:"display_name"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	BoundingBox []string `json:"boundingbox"`
}

// Nominatim is a client for the OpenStreetMap place search.
type Nominatim struct {
	http    *resty.Client
	limiter *Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewNominatim creates a client for baseURL. Nominatim requires an
// identifying user agent and at most one request per second.
func NewNominatim(baseURL, userAgent string, timeout time.Duration, limiter *Limiter, metrics *observability.Metrics, logger *zap.Logger) *Nominatim {
	return &Nominatim{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "application/json"),
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Search looks area up inside Great Britain. It returns ErrNoMatch when
// Nominatim knows no such place.
func (n *Nominatim) Search(ctx context.Context, area string) (*Place, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var results []nominatimResult
	resp, err := n.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":            area,
			"format":       "json",
			"countrycodes": "gb",
			"limit":        "1",
		}).
		SetResult(&results).
		Get("/search")
	n.metrics.UpstreamDuration.WithLabelValues("nominatim").Observe(time.Since(start).Seconds())
	if err != nil {
		n.observe("error")
		return nil, fmt.Errorf("nominatim search %q: %w", area, err)
	}
	if resp.StatusCode() != http.StatusOK {
		n.observe("error")
		return nil, fmt.Errorf("nominatim search %q: received non-200 status code: %d", area, resp.StatusCode())
	}
	if len(results) == 0 {
		n.observe("not_found")
		return nil, ErrNoMatch
	}

	place, err := results[0].place()
	if err != nil {
		n.observe("error")
		return nil, fmt.Errorf("nominatim search %q: %w", area, err)
	}
	n.observe("ok")
	return place, nil
}

func (r nominatimResult) place() (*Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q", r.Lat)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q", r.Lon)
	}

	p := &Place{Name: r.DisplayName, Center: Point{Lat: lat, Lon: lon}}
	p.BBox = [4]float64{lat, lat, lon, lon}
	if len(r.BoundingBox) == 4 {
		for i, s := range r.BoundingBox {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("bad bounding box %v", r.BoundingBox)
			}
			p.BBox[i] = v
		}
	}
	return p, nil
}

// SamplePoints returns the centre plus the four bounding box corners pulled
// a quarter of the way towards the centre.
func (p *Place) SamplePoints() []Point {
	south, north, west, east := p.BBox[0], p.BBox[1], p.BBox[2], p.BBox[3]
	inset := func(edge, centre float64) float64 { return edge + (centre-edge)/4 }

	pts := []Point{p.Center}
	if south == north && west == east {
		return pts
	}
	for _, lat := range []float64{inset(south, p.Center.Lat), inset(north, p.Center.Lat)} {
		for _, lon := range []float64{inset(west, p.Center.Lon), inset(east, p.Center.Lon)} {
			pts = append(pts, Point{Lat: lat, Lon: lon})
		}
	}
	return pts
}

func (n *Nominatim) observe(outcome string) {
	n.metrics.GeocodeRequests.WithLabelValues("nominatim", outcome).Inc()
}
