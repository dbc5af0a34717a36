package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"capacity-checker/config"
	"capacity-checker/internal/app"
	"capacity-checker/internal/model"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/store"
)

func newTestApp(t *testing.T, opts ...func(*config.Config)) *app.App {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = fmt.Sprintf("file:ctl_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	cfg.Database.MaxOpenConns = 1
	cfg.Database.LogLevel = "silent"
	cfg.Redis.Addr = mr.Addr()
	cfg.Postcode.MappingFile = filepath.Join(t.TempDir(), "postcode_mappings.json")
	for _, opt := range opts {
		opt(cfg)
	}

	a, err := app.New(cfg, zap.NewNop(), observability.NewMetricsForTesting())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx := context.Background()
	require.NoError(t, a.Store.UpsertCMURecords(ctx, []model.CMURecord{
		{CMUID: "ACME01", FullName: "Acme Energy Ltd", CompanyID: "acmeenergyltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21"},
	}))
	_, err = a.Store.SaveComponents(ctx, []model.Component{
		{ComponentID: "a", CMUID: "ACME01", Location: "Clapham Yard, London SW4 6DZ", Description: "Battery", Technology: "Storage", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21"},
		{ComponentID: "b", CMUID: "ACME01", Location: "Clapham Yard, London SW4 6DZ", Description: "Battery", Technology: "Storage", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21"},
		{ComponentID: "c", CMUID: "ACME01", Location: "Brixton Depot, London SW9 8JX", Description: "Gas engine", Technology: "Gas", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21"},
	})
	require.NoError(t, err)
	return a
}

func run(t *testing.T, a *app.App, name string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := commands[name].run(context.Background(), a, &out, args)
	return out.String(), err
}

func TestUsageListsEveryCommand(t *testing.T) {
	var buf bytes.Buffer
	usage(&buf)
	for name := range commands {
		assert.Contains(t, buf.String(), name)
	}
}

func TestDetectDuplicates(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "detect-duplicates", "--clean", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Scanned 3 components at standard level: 2 unique, 1 duplicates in 1 sets")
	assert.Contains(t, out, "Would delete 1 components")

	out, err = run(t, a, "detect-duplicates", "--clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 components")

	out, err = run(t, a, "detect-duplicates")
	require.NoError(t, err)
	assert.Contains(t, out, "0 duplicates")

	_, err = run(t, a, "detect-duplicates", "--match-level", "fuzzy")
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	a := newTestApp(t)
	path := filepath.Join(t.TempDir(), "acme.xlsx")

	out, err := run(t, a, "export", "--company", "Acme Energy Ltd", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3 components from 1 CMUs")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Components")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	_, err = run(t, a, "export", "--company", "Nobody", "--output", path)
	assert.Error(t, err)
	_, err = run(t, a, "export")
	assert.Error(t, err)
}

func TestBuildCompanyIndexAndCacheStatus(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "build-company-index")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 1 companies, mapped 1 CMUs")

	out, err = run(t, a, "cache-status")
	require.NoError(t, err)
	assert.Contains(t, out, "Company index built")
	assert.Contains(t, out, "Postcode mapping file: 0 areas")

	out, err = run(t, a, "clear-cache", "--pattern", "company_index*")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 keys")
}

func TestUpdatePostcodeMappings(t *testing.T) {
	a := newTestApp(t)

	out, err := run(t, a, "update-postcode-mappings", "--min-components", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "clapham yard (2 components)")
	assert.Contains(t, out, "(1 added)")
	assert.True(t, a.Postcode.Mappings().Has("clapham yard"))

	out, err = run(t, a, "resolve-area", "Clapham", "Yard")
	require.NoError(t, err)
	assert.Contains(t, out, "Clapham Yard: SW4")

	_, err = run(t, a, "resolve-area")
	assert.Error(t, err)
}

// fakePostcodesIO knows SW4 6DZ and the SW9 outcode, and counts requests per path.
type fakePostcodesIO struct {
	mu   sync.Mutex
	hits map[string]int
}

func (f *fakePostcodesIO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/postcodes/SW46DZ":
		fmt.Fprint(w, `{"status":200,"result":{"postcode":"SW4 6DZ","latitude":51.4618,"longitude":-0.1384}}`)
	case "/outcodes/SW9":
		fmt.Fprint(w, `{"status":200,"result":{"outcode":"SW9","latitude":51.4700,"longitude":-0.1130}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":404,"error":"Postcode not found"}`)
	}
}

func TestGeocodeComponents(t *testing.T) {
	pio := &fakePostcodesIO{hits: map[string]int{}}
	srv := httptest.NewServer(pio)
	defer srv.Close()

	a := newTestApp(t, func(cfg *config.Config) {
		cfg.Postcode.PostcodesIOURL = srv.URL
		cfg.Postcode.LookupInterval = 0
	})
	ctx := context.Background()

	out, err := run(t, a, "geocode-components")
	require.NoError(t, err)
	assert.Contains(t, out, "Geocoded 3 components (0 could not be placed)")
	assert.Equal(t, 1, pio.hits["/outcodes/SW9"], "an unknown postcode falls back to its outcode centroid")
	assert.Equal(t, 1, pio.hits["/postcodes/SW98JX"])

	onMap, err := a.Store.MapComponents(ctx, store.MapFilter{})
	require.NoError(t, err)
	require.Len(t, onMap, 3)
	for _, c := range onMap {
		require.NotNil(t, c.Latitude)
		if strings.Contains(c.Location, "SW9") {
			assert.InDelta(t, 51.47, *c.Latitude, 1e-9)
		} else {
			assert.InDelta(t, 51.4618, *c.Latitude, 1e-9)
		}
	}

	out, err = run(t, a, "geocode-components")
	require.NoError(t, err)
	assert.Contains(t, out, "Geocoded 0 components")

	out, err = run(t, a, "geocode-components", "--force", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Geocoded 2 components")
}
