package neso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"capacity-checker/config"
	"capacity-checker/internal/observability"
)

// ErrUnsuccessful is returned when the datastore answers with success=false.
var ErrUnsuccessful = errors.New("datastore request unsuccessful")

// Client talks to the capacity market registry datastore.
type Client struct {
	http     *resty.Client
	endpoint string
	cfg      config.NESOConfig
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewClient creates a registry client. Requests are spaced at least
// cfg.RequestInterval apart across all goroutines sharing the client.
func NewClient(cfg config.NESOConfig, metrics *observability.Metrics, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		http:     httpClient,
		endpoint: cfg.BaseURL,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  metrics,
		logger:   logger,
	}
}

// FetchCMUs returns one page of the CMU registry and the registry total.
func (c *Client) FetchCMUs(ctx context.Context, offset, limit int) ([]Record, int, error) {
	resp, err := c.search(ctx, map[string]string{
		"resource_id": c.cfg.CMUResourceID,
		"limit":       strconv.Itoa(limit),
		"offset":      strconv.Itoa(offset),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fetch cmus at offset %d: %w", offset, err)
	}
	return resp.Result.Records, resp.Result.Total, nil
}

// TotalCMUs asks the registry for its row count without fetching rows.
func (c *Client) TotalCMUs(ctx context.Context) (int, error) {
	resp, err := c.search(ctx, map[string]string{
		"resource_id": c.cfg.CMUResourceID,
		"limit":       "0",
	})
	if err != nil {
		return 0, fmt.Errorf("fetch cmu total: %w", err)
	}
	return resp.Result.Total, nil
}

// FetchComponents returns the components registered against cmuID. The
// datastore full-text filter is loose, so rows for other CMUs are dropped.
func (c *Client) FetchComponents(ctx context.Context, cmuID string) ([]Record, error) {
	resp, err := c.search(ctx, map[string]string{
		"resource_id": c.cfg.ComponentResourceID,
		"q":           cmuID,
		"limit":       strconv.Itoa(c.cfg.ComponentLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch components for %s: %w", cmuID, err)
	}

	records := make([]Record, 0, len(resp.Result.Records))
	for _, rec := range resp.Result.Records {
		if strings.EqualFold(rec.String(FieldCMUID), cmuID) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// SearchComponents runs a free-text query against the component resource.
func (c *Client) SearchComponents(ctx context.Context, query string, limit int) ([]Record, int, error) {
	resp, err := c.search(ctx, map[string]string{
		"resource_id": c.cfg.ComponentResourceID,
		"q":           query,
		"limit":       strconv.Itoa(limit),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search components for %q: %w", query, err)
	}
	return resp.Result.Records, resp.Result.Total, nil
}

func (c *Client) search(ctx context.Context, params map[string]string) (*datastoreResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var out datastoreResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		Get(c.endpoint)
	c.metrics.UpstreamDuration.WithLabelValues("neso").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode())
	}
	if !out.Success {
		c.logger.Warn("datastore returned unsuccessful response",
			zap.String("resource_id", params["resource_id"]),
			zap.ByteString("error", out.Error),
		)
		return nil, ErrUnsuccessful
	}
	return &out, nil
}
