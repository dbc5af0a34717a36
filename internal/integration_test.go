package internal

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"capacity-checker/config"
	"capacity-checker/internal/api"
	"capacity-checker/internal/app"
	"capacity-checker/internal/crawler"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/store"
)

const (
	cmuResource       = "cmu-resource"
	componentResource = "component-resource"
)

// fakeRegistry serves the CKAN datastore_search API for a tiny registry.
func fakeRegistry(t *testing.T) *httptest.Server {
	cmus := []map[string]any{
		{"_id": 1, "CMU ID": "ACME01", "Name of Applicant": "Acme Energy Ltd", "Delivery Year": "2024", "Auction Name": "T-4 2020/21", "De-Rated Capacity": "12.5"},
		{"_id": 2, "CMU ID": "ACME02", "Name of Applicant": "", "Parent Company": "Acme Energy Ltd", "Delivery Year": "2026", "Auction Name": "T-1 2025/26"},
		{"_id": 3, "CMU ID": "NORTH1", "Name of Applicant": "Northern Power", "Delivery Year": "2025", "Auction Name": "T-4 2021/22"},
	}
	components := []map[string]any{
		{"_id": 101, "CMU ID": "ACME01", "Location and Post Code": "Battersea Site, London SW11 8AL", "Generating Technology Class": "Gas", "Delivery Year": "2024", "Auction Name": "T-4 2020/21"},
		{"_id": 102, "CMU ID": "ACME01", "Location and Post Code": "Clapham Yard, London SW4 6DZ", "Generating Technology Class": "Storage", "Delivery Year": "2024", "Auction Name": "T-4 2020/21", "De-Rated Capacity": 3.5},
		{"_id": 103, "CMU ID": "ACME02", "Location and Post Code": "Brixton Depot, London SW9 8JX", "Generating Technology Class": "Gas", "Delivery Year": "2026", "Auction Name": "T-1 2025/26"},
		{"_id": 104, "CMU ID": "NORTH1", "Location and Post Code": "Leeds Works, Leeds LS1 4AP", "Generating Technology Class": "Wind", "Delivery Year": "2025", "Auction Name": "T-4 2021/22"},
		// loose full-text hit for another CMU
		{"_id": 105, "CMU ID": "NORTH9", "Location and Post Code": "Mentions ACME01 in passing", "Generating Technology Class": "Wind"},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		var rows []map[string]any
		total := 0
		switch q.Get("resource_id") {
		case cmuResource:
			total = len(cmus)
			if offset < len(cmus) {
				end := offset + limit
				if end > len(cmus) {
					end = len(cmus)
				}
				rows = cmus[offset:end]
			}
		case componentResource:
			for _, c := range components {
				for _, v := range c {
					if s, ok := v.(string); ok && strings.Contains(s, q.Get("q")) {
						rows = append(rows, c)
						break
					}
				}
			}
			total = len(rows)
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"total": total, "records": rows},
		}))
	}))
}

// pointService answers fixed JSON bodies by path and counts requests.
type pointService struct {
	pushService
	bodies map[string]string
}

func (p *pointService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.hits[r.URL.Path]++
	body, ok := p.bodies[r.URL.Path]
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":404,"error":"Postcode not found"}`)
		return
	}
	fmt.Fprint(w, body)
}

// fakePostcodesIO knows three of the crawled postcodes and the LS1 outcode.
func fakePostcodesIO() *pointService {
	point := func(lat, lon float64) string {
		return fmt.Sprintf(`{"status":200,"result":{"latitude":%g,"longitude":%g}}`, lat, lon)
	}
	return &pointService{
		pushService: pushService{hits: map[string]int{}},
		bodies: map[string]string{
			"/postcodes/SW118AL": point(51.4816, -0.1446),
			"/postcodes/SW46DZ":  point(51.4618, -0.1384),
			"/postcodes/SW98JX":  point(51.4627, -0.1145),
			"/outcodes/LS1":      `{"status":200,"result":{"outcode":"LS1","latitude":53.7966,"longitude":-1.5475}}`,
		},
	}
}

// pushService counts deliveries per endpoint path and answers with status.
type pushService struct {
	mu     sync.Mutex
	hits   map[string]int
	status map[string]int
}

func (p *pushService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hits[r.URL.Path]++
	w.WriteHeader(p.status[r.URL.Path])
}

func (p *pushService) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

func browserKeys(t *testing.T) (p256dh, auth string) {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(secret)
}

func subscribe(t *testing.T, router *gin.Engine, endpoint string, companies ...string) {
	t.Helper()
	p256dh, auth := browserKeys(t)
	body, err := json.Marshal(map[string]any{
		"endpoint":          endpoint,
		"p256dh":            p256dh,
		"auth":              auth,
		"watched_companies": companies,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/subscriptions", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// TestCrawlLifecycle crawls a fake registry into sqlite, alerts watchers of
// the companies that gained components and serves the result over HTTP.
func TestCrawlLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := fakeRegistry(t)
	defer registry.Close()

	push := &pushService{hits: map[string]int{}, status: map[string]int{"/ok": http.StatusCreated, "/gone": http.StatusGone}}
	pushServer := httptest.NewServer(push)
	defer pushServer.Close()

	pio := fakePostcodesIO()
	pioServer := httptest.NewServer(pio)
	defer pioServer.Close()

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:integration?mode=memory&cache=shared"
	cfg.Database.MaxOpenConns = 1
	cfg.Database.LogLevel = "silent"
	cfg.Redis.Addr = mr.Addr()
	cfg.NESO.BaseURL = registry.URL
	cfg.NESO.CMUResourceID = cmuResource
	cfg.NESO.ComponentResourceID = componentResource
	cfg.NESO.RequestInterval = time.Millisecond
	cfg.Postcode.MappingFile = filepath.Join(t.TempDir(), "postcode_mappings.json")
	cfg.Postcode.PostcodesIOURL = pioServer.URL
	cfg.Postcode.LookupInterval = 0
	cfg.Push.PublicKey = vapidPublic
	cfg.Push.PrivateKey = vapidPrivate
	cfg.Push.Subject = "mailto:ops@example.com"
	cfg.WorkerPool.Size = 1

	metrics := observability.NewMetricsForTesting()
	a, err := app.New(cfg, zap.NewNop(), metrics)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	router, err := api.NewRouter(a.APIDeps(), config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTL: time.Minute})
	require.NoError(t, err)

	subscribe(t, router, pushServer.URL+"/ok", "Acme Energy Ltd")
	subscribe(t, router, pushServer.URL+"/gone", "Acme Energy Ltd", "Northern Power")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartAlerts(ctx)

	// --- First crawl: everything is new ---
	run, err := a.Crawler.CrawlAll(ctx, crawler.Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, run.TotalCMUs)
	assert.Equal(t, 3, run.CMUsProcessed)
	assert.Equal(t, 3, run.CMUsWithComponents)
	assert.Equal(t, 4, run.ComponentsAdded, "the loose NORTH9 hit is dropped")
	assert.Zero(t, run.Errors)
	require.NotNil(t, run.FinishedAt)

	latest, err := a.Store.LatestCrawlRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)

	// --- Second crawl: nothing new, no alerts ---
	run, err = a.Crawler.CrawlAll(ctx, crawler.Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 0, run.ComponentsAdded)
	assert.Equal(t, 4, run.ComponentsFound)

	// drain queued alerts
	a.Alerts.Close()

	assert.Equal(t, 1, push.count("/ok"))
	assert.Equal(t, 1, push.count("/gone"), "the expired subscription is removed after the first attempt")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PushSent.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PushSent.WithLabelValues("expired")))
	_, err = a.Store.GetSubscription(ctx, pushServer.URL+"/gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.ComponentsAdded))

	// --- The crawled data is served ---
	w := get(router, "/?q=acme")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `href="/company/acmeenergyltd/"`)

	w = get(router, "/company/acmeenergyltd/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "2 CMUs, 3 components")

	w = get(router, "/api/cmu-details/NORTH1/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Leeds Works")

	w = get(router, "/statistics/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ">4</div>components")

	w = get(router, "/debug/mapping-cache/?q=acme02")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Acme Energy Ltd", "parent company fills in a missing applicant")

	// crawled components already carry their outward code, so only geocoding is left
	rep, err := a.Crawler.PopulateLocationFields(ctx, a.Postcode, 10)
	require.NoError(t, err)
	assert.Zero(t, rep.Updated)
	assert.Equal(t, 4, rep.Geocoded)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 1, pio.count("/outcodes/LS1"), "LS1 4AP is unknown, so its outcode centroid is used")

	warmed, err := a.Maps.Warm(ctx)
	require.NoError(t, err)
	assert.Positive(t, warmed)

	var fc struct {
		Features []struct {
			Geometry struct {
				Coordinates [2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties struct {
				CMUID string `json:"cmu_id"`
			} `json:"properties"`
		} `json:"features"`
		Metadata struct {
			Cached bool `json:"cached"`
		} `json:"metadata"`
	}
	w = get(router, "/api/map-data/")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Len(t, fc.Features, 4)

	w = get(router, "/api/map-data/?technology=Gas&north=58.7&south=50&east=1.8&west=-8.2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.True(t, fc.Metadata.Cached, "served from the warmed map cache")
	require.Len(t, fc.Features, 2)
	for _, f := range fc.Features {
		assert.Contains(t, []string{"ACME01", "ACME02"}, f.Properties.CMUID)
		assert.InDelta(t, 51.47, f.Geometry.Coordinates[1], 0.05)
	}

	w = get(router, fmt.Sprintf("/api/subscriptions?endpoint=%s/ok", pushServer.URL))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"watched_companies":["acmeenergyltd"]}`, w.Body.String())
}
