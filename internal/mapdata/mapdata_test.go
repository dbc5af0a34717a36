package mapdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"capacity-checker/config"
	"capacity-checker/internal/db"
	"capacity-checker/internal/model"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/store"
)

func f(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*Service, store.Store, *miniredis.Miniredis) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	st := store.NewGormStore(gormDB)

	mr := miniredis.RunT(t)
	cache := rcache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), observability.NewMetricsForTesting(), zap.NewNop())
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	_, err = st.SaveComponents(context.Background(), []model.Component{
		{ComponentID: "1", CMUID: "A1", Location: "Didcot", Technology: "CCGT", CompanyName: "RWE", Latitude: f(51.6), Longitude: f(-1.27), Geocoded: true},
		{ComponentID: "2", CMUID: "A2", Location: "Whitelee", Technology: "Onshore Wind", CompanyName: "Scottish Power", Latitude: f(55.68), Longitude: f(-4.27), Geocoded: true},
		{ComponentID: "3", CMUID: "A3", Location: "Glassenbury", Technology: "Storage (Battery)", CompanyName: "Acme", Latitude: f(51.1), Longitude: f(0.45), Geocoded: true, DeratedCapacityMW: f(40)},
		{ComponentID: "4", CMUID: "A4", Location: "Nowhere", Technology: "OCGT"},
	})
	require.NoError(t, err)
	return NewService(st, cache, clock, zap.NewNop()), st, mr
}

func TestCacheKey_OrderIndependent(t *testing.T) {
	a, err := ParseQuery(url.Values{"technology": {"Gas"}, "north": {"55"}, "south": {"50"}})
	require.NoError(t, err)
	b, err := ParseQuery(url.Values{"south": {"50.0"}, "north": {"55"}, "technology": {"Gas"}})
	require.NoError(t, err)

	assert.Equal(t, CacheKey(a), CacheKey(b))
	assert.True(t, strings.HasPrefix(CacheKey(a), "map_data:"))
	assert.Len(t, strings.TrimPrefix(CacheKey(a), "map_data:"), 32)
	assert.NotEqual(t, CacheKey(a), CacheKey(MapQuery{Technology: "Gas"}))
}

func TestParseQuery_Invalid(t *testing.T) {
	_, err := ParseQuery(url.Values{"north": {"far"}})
	assert.Error(t, err)
	_, err = ParseQuery(url.Values{"zoom": {"1.5"}})
	assert.Error(t, err)

	q, err := ParseQuery(url.Values{"cmu_id": {" abc1 "}, "zoom": {"7"}})
	require.NoError(t, err)
	assert.Equal(t, "ABC1", q.CMUID)
	assert.Equal(t, 7, q.Zoom)
}

func TestBuildGeoJSON(t *testing.T) {
	fc := BuildGeoJSON([]model.Component{
		{ID: 9, CMUID: "X", Technology: "Solar PV", Latitude: f(52), Longitude: f(-1)},
		{ID: 10, CMUID: "Y"},
	})
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "FeatureCollection", fc.Type)
	feat := fc.Features[0]
	assert.Equal(t, [2]float64{-1, 52}, feat.Geometry.Coordinates)
	assert.Equal(t, "Unknown Location", feat.Properties.Title)
	assert.Equal(t, "Unknown", feat.Properties.Company)
	assert.Equal(t, parse.TechSolar, feat.Properties.DisplayTechnology)
	assert.Equal(t, "/component/9/", feat.Properties.DetailURL)
	assert.Equal(t, 1, fc.Metadata.Count)
}

func TestFeatures_FiltersAndCaches(t *testing.T) {
	svc, st, mr := newTestService(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		q    MapQuery
		want []string
	}{
		{"All geocoded", MapQuery{}, []string{"A1", "A2", "A3"}},
		{"Technology bucket", MapQuery{Technology: parse.TechGas}, []string{"A1"}},
		{"Raw technology", MapQuery{Technology: "Onshore Wind"}, []string{"A2"}},
		{"Unknown technology", MapQuery{Technology: parse.TechNuclear}, nil},
		{"England viewport", MapQuery{}.WithViewport(EnglandViewport), []string{"A1", "A3"}},
		{"Company", MapQuery{Company: "Acme"}, []string{"A3"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fc, err := svc.Features(ctx, tc.q)
			require.NoError(t, err)
			var got []string
			for _, feat := range fc.Features {
				got = append(got, feat.Properties.CMUID)
			}
			assert.Equal(t, tc.want, got)
			assert.False(t, fc.Metadata.Cached)
			assert.True(t, mr.Exists(CacheKey(tc.q)))
			assert.Equal(t, cacheTTL, mr.TTL(CacheKey(tc.q)))
		})
	}

	// New rows are not visible until the cache entry is dropped.
	_, err := st.SaveComponents(ctx, []model.Component{
		{ComponentID: "5", CMUID: "A5", Technology: "CCGT", Latitude: f(53), Longitude: f(-2), Geocoded: true},
	})
	require.NoError(t, err)
	fc, err := svc.Features(ctx, MapQuery{Technology: parse.TechGas})
	require.NoError(t, err)
	assert.True(t, fc.Metadata.Cached)
	assert.Len(t, fc.Features, 1)

	n, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(testCases), n)

	fc, err = svc.Features(ctx, MapQuery{Technology: parse.TechGas})
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)
}

func TestWarm(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	n, err := svc.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*len(parse.MapTechnologies), n)

	key := CacheKey(MapQuery{Technology: parse.TechBattery}.WithViewport(UKViewport))
	require.True(t, mr.Exists(key))

	fc, err := svc.Features(ctx, MapQuery{Technology: parse.TechBattery}.WithViewport(UKViewport))
	require.NoError(t, err)
	assert.True(t, fc.Metadata.Cached)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, 40.0, *fc.Features[0].Properties.Capacity)
}
