package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"capacity-checker/config"
	"capacity-checker/internal/db"
	"capacity-checker/internal/mapdata"
	"capacity-checker/internal/model"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/postcode"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/search"
	"capacity-checker/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLookup struct {
	areas     map[string][]string
	postcodes map[string][]string
	areaOf    map[string]string
}

func (f *fakeLookup) OutcodesForArea(_ context.Context, area string) ([]string, error) {
	if codes, ok := f.areas[strings.ToLower(strings.TrimSpace(area))]; ok {
		return codes, nil
	}
	return nil, postcode.ErrNoMatch
}

func (f *fakeLookup) OutcodesForPostcode(_ context.Context, pc string) ([]string, error) {
	if codes, ok := f.postcodes[parse.Outcode(pc)]; ok {
		return codes, nil
	}
	return nil, postcode.ErrInvalidOutcode
}

func (f *fakeLookup) AreaForPostcode(pc string) (string, bool) {
	area, ok := f.areaOf[parse.Outcode(pc)]
	return area, ok
}

type testEnv struct {
	router *gin.Engine
	store  store.Store
	cache  *rcache.Cache
	search *search.Service
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	st := store.NewGormStore(gormDB)

	mr := miniredis.RunT(t)
	cache := rcache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), observability.NewMetricsForTesting(), zap.NewNop())
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	lookup := &fakeLookup{
		areas:     map[string][]string{"clapham": {"SW4", "SW11"}},
		postcodes: map[string][]string{"SW4": {"SW4", "SW9"}},
		areaOf:    map[string]string{"SW4": "clapham"},
	}
	index := search.NewCompanyIndex(st, cache, clock, zap.NewNop())
	svc := search.NewService(st, cache, index, search.NewCMUMapping(cache), lookup, clock, zap.NewNop())

	deps := Deps{
		Store:     st,
		Cache:     cache,
		Search:    svc,
		Maps:      mapdata.NewService(st, cache, clock, zap.NewNop()),
		Postcodes: lookup,
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router, err := NewRouter(deps, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTL: time.Minute})
	require.NoError(t, err)

	env := &testEnv{router: router, store: st, cache: cache, search: svc}
	env.seed(t)
	return env
}

func ptr(f float64) *float64 { return &f }

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertCMURecords(ctx, []model.CMURecord{
		{CMUID: "ACME01", FullName: "Acme Energy Ltd", CompanyID: "acmeenergyltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21", DeratedCapacity: ptr(12)},
		{CMUID: "ACME02", FullName: "Acme Energy Ltd", CompanyID: "acmeenergyltd", DeliveryYear: "2026", AuctionName: "T-1 2025/26"},
		{CMUID: "NORTH1", FullName: "Northern Power", CompanyID: "northernpower", DeliveryYear: "2025", AuctionName: "T-4 2021/22"},
	}))
	_, err := e.store.SaveComponents(ctx, []model.Component{
		{ComponentID: "1", CMUID: "ACME01", Location: "Battersea Site, London SW11 8AL", OutwardCode: "SW11", Technology: "Gas", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21"},
		{ComponentID: "2", CMUID: "ACME01", Location: "Clapham Yard, London SW4 6DZ", OutwardCode: "SW4", Technology: "Battery", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21", DeratedCapacityMW: ptr(3.5),
			Latitude: ptr(51.46), Longitude: ptr(-0.14), Geocoded: true},
		{ComponentID: "3", CMUID: "ACME02", Location: "Brixton Depot, London SW9 8JX", OutwardCode: "SW9", Technology: "Gas", CompanyName: "Acme Energy Ltd", DeliveryYear: "2026", AuctionName: "T-1 2025/26"},
		{ComponentID: "4", CMUID: "NORTH1", Location: "Leeds Works, Leeds LS1 4AP", OutwardCode: "LS1", Technology: "Wind", CompanyName: "Northern Power", DeliveryYear: "2025", AuctionName: "T-4 2021/22", DeratedCapacityMW: ptr(20),
			Latitude: ptr(53.8), Longitude: ptr(-1.55), Geocoded: true},
	})
	require.NoError(t, err)
}

func (e *testEnv) do(t *testing.T, method, target string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return e.do(t, http.MethodGet, target, "", nil)
}

func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return attr(n, "id") == id }
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

// bodyRows counts the rows inside tbody elements under n.
func bodyRows(n *html.Node) int {
	rows := 0
	for _, tbody := range findAll(n, byTag("tbody")) {
		for c := tbody.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "tr" {
				rows++
			}
		}
	}
	return rows
}
