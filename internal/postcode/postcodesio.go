package postcode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"capacity-checker/internal/observability"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// OutcodeInfo is the postcodes.io description of an outcode.
type OutcodeInfo struct {
	Outcode       string   `json:"outcode"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	AdminDistrict []string `json:"admin_district"`
	AdminCounty   []string `json:"admin_county"`
	Country       []string `json:"country"`
}

type outcodeResponse struct {
	Status int          `json:"status"`
	Result *OutcodeInfo `json:"result"`
}

type postcodeResponse struct {
	Status int `json:"status"`
	Result *struct {
		Postcode  string   `json:"postcode"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"result"`
}

type nearestResponse struct {
	Status int           `json:"status"`
	Result []OutcodeInfo `json:"result"`
}

type reverseQuery struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    int     `json:"radius,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

type bulkReverseResponse struct {
	Status int `json:"status"`
	Result []struct {
		Query  reverseQuery `json:"query"`
		Result []struct {
			Postcode string `json:"postcode"`
			Outcode  string `json:"outcode"`
		} `json:"result"`
	} `json:"result"`
}

// PostcodesIO is a client for the postcodes.io REST API.
type PostcodesIO struct {
	http    *resty.Client
	limiter *Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPostcodesIO creates a client for baseURL.
func NewPostcodesIO(baseURL string, timeout time.Duration, limiter *Limiter, metrics *observability.Metrics, logger *zap.Logger) *PostcodesIO {
	return &PostcodesIO{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Outcode validates outcode and returns its centroid and admin areas.
// An unknown outcode yields ErrInvalidOutcode.
func (c *PostcodesIO) Outcode(ctx context.Context, outcode string) (*OutcodeInfo, error) {
	var out outcodeResponse
	status, err := c.get(ctx, "/outcodes/"+url.PathEscape(strings.ToUpper(outcode)), &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || out.Result == nil {
		c.observe("not_found")
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutcode, outcode)
	}
	c.observe("ok")
	return out.Result, nil
}

// Postcode returns the coordinates of a full postcode. Unknown or terminated
// postcodes without coordinates yield ErrUnknownPostcode.
func (c *PostcodesIO) Postcode(ctx context.Context, postcode string) (Point, error) {
	var out postcodeResponse
	compact := strings.ReplaceAll(strings.ToUpper(postcode), " ", "")
	status, err := c.get(ctx, "/postcodes/"+url.PathEscape(compact), &out)
	if err != nil {
		return Point{}, err
	}
	if status == http.StatusNotFound || out.Result == nil || out.Result.Latitude == nil || out.Result.Longitude == nil {
		c.observe("not_found")
		return Point{}, fmt.Errorf("%w: %s", ErrUnknownPostcode, postcode)
	}
	c.observe("ok")
	return Point{Lat: *out.Result.Latitude, Lon: *out.Result.Longitude}, nil
}

// NearestOutcodes returns the outcodes neighbouring outcode, the outcode itself included.
func (c *PostcodesIO) NearestOutcodes(ctx context.Context, outcode string) ([]string, error) {
	var out nearestResponse
	status, err := c.get(ctx, "/outcodes/"+url.PathEscape(strings.ToUpper(outcode))+"/nearest", &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		c.observe("not_found")
		return nil, fmt.Errorf("%w: %s", ErrInvalidOutcode, outcode)
	}
	c.observe("ok")

	codes := make([]string, 0, len(out.Result))
	for _, r := range out.Result {
		if r.Outcode != "" {
			codes = append(codes, r.Outcode)
		}
	}
	return codes, nil
}

// ReverseGeocode returns the outcodes of postcodes within radius metres of
// any of points, using the bulk reverse geocoding endpoint.
func (c *PostcodesIO) ReverseGeocode(ctx context.Context, points []Point, radius, limit int) ([]string, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	queries := make([]reverseQuery, len(points))
	for i, p := range points {
		queries[i] = reverseQuery{Latitude: p.Lat, Longitude: p.Lon, Radius: radius, Limit: limit}
	}

	start := time.Now()
	var out bulkReverseResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"geolocations": queries}).
		SetResult(&out).
		Post("/postcodes")
	c.metrics.UpstreamDuration.WithLabelValues("postcodes_io").Observe(time.Since(start).Seconds())
	if err != nil {
		c.observe("error")
		return nil, fmt.Errorf("postcodes.io reverse geocode: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		c.observe("error")
		return nil, fmt.Errorf("postcodes.io reverse geocode: received non-200 status code: %d", resp.StatusCode())
	}

	seen := make(map[string]struct{})
	var codes []string
	for _, q := range out.Result {
		for _, r := range q.Result {
			oc := strings.ToUpper(r.Outcode)
			if oc == "" {
				continue
			}
			if _, ok := seen[oc]; !ok {
				seen[oc] = struct{}{}
				codes = append(codes, oc)
			}
		}
	}
	if len(codes) == 0 {
		c.observe("not_found")
	} else {
		c.observe("ok")
	}
	return codes, nil
}

// get performs a paced GET and returns the status code. 404 is not an error.
func (c *PostcodesIO) get(ctx context.Context, path string, result any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(result).
		Get(path)
	c.metrics.UpstreamDuration.WithLabelValues("postcodes_io").Observe(time.Since(start).Seconds())
	if err != nil {
		c.observe("error")
		return 0, fmt.Errorf("postcodes.io %s: %w", path, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNotFound:
		return resp.StatusCode(), nil
	default:
		c.observe("error")
		return resp.StatusCode(), fmt.Errorf("postcodes.io %s: received non-200 status code: %d", path, resp.StatusCode())
	}
}

func (c *PostcodesIO) observe(outcome string) {
	c.metrics.GeocodeRequests.WithLabelValues("postcodes_io", outcome).Inc()
}
