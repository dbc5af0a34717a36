package search

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"capacity-checker/config"
	"capacity-checker/internal/db"
	"capacity-checker/internal/model"
	"capacity-checker/internal/observability"
	"capacity-checker/internal/postcode"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/store"
)

type fakeResolver struct {
	areas     map[string][]string
	postcodes map[string][]string
}

func (f *fakeResolver) OutcodesForArea(_ context.Context, area string) ([]string, error) {
	if codes, ok := f.areas[strings.ToLower(area)]; ok {
		return codes, nil
	}
	return nil, postcode.ErrNoMatch
}

func (f *fakeResolver) OutcodesForPostcode(_ context.Context, pc string) ([]string, error) {
	if codes, ok := f.postcodes[strings.ToUpper(strings.Fields(pc)[0])]; ok {
		return codes, nil
	}
	return nil, postcode.ErrInvalidOutcode
}

type testEnv struct {
	svc   *Service
	store store.Store
	mr    *miniredis.Miniredis
	clock *clockwork.FakeClock
}

func newTestEnv(t *testing.T) *testEnv {
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

	resolver := &fakeResolver{
		areas:     map[string][]string{"clapham": {"SW4", "SW11"}},
		postcodes: map[string][]string{"SW4": {"SW4", "SW9"}},
	}
	index := NewCompanyIndex(st, cache, clock, zap.NewNop())
	svc := NewService(st, cache, index, NewCMUMapping(cache), resolver, clock, zap.NewNop())
	return &testEnv{svc: svc, store: st, mr: mr, clock: clock}
}

func ptr(f float64) *float64 { return &f }

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertCMURecords(ctx, []model.CMURecord{
		{CMUID: "ACME01", FullName: "Acme Energy Ltd", CompanyID: "acmeenergyltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21", DeratedCapacity: ptr(12)},
		{CMUID: "ACME02", FullName: "Acme Energy Ltd", CompanyID: "acmeenergyltd", DeliveryYear: "2026", AuctionName: "T-1 2025/26"},
		{CMUID: "ACME03", FullName: "Acme Energy Ltd", CompanyID: "acmeenergyltd", DeliveryYear: "2027", AuctionName: "T-4 2023/24"},
		{CMUID: "NORTH1", FullName: "Northern Power", CompanyID: "northernpower", DeliveryYear: "2025", AuctionName: "T-4 2021/22"},
		{CMUID: "EMPTY1", FullName: "Acme Energy Holdings", CompanyID: "acmeenergyholdings", DeliveryYear: "2025", AuctionName: "T-4 2021/22"},
	}))

	_, err := e.store.SaveComponents(ctx, []model.Component{
		{ComponentID: "1", CMUID: "ACME01", Location: "Battersea Site, London SW11 8AL", OutwardCode: "SW11", Technology: "Gas", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21",
			AdditionalData: datatypes.JSON(`{"Connection Type":"Transmission","Clearing Price":75,"Notes":"primary"}`)},
		{ComponentID: "2", CMUID: "ACME01", Location: "Clapham Yard, London SW4 6DZ", OutwardCode: "SW4", Technology: "Battery", CompanyName: "Acme Energy Ltd", DeliveryYear: "2024", AuctionName: "T-4 2020/21", DeratedCapacityMW: ptr(3.5)},
		{ComponentID: "3", CMUID: "ACME02", Location: "Brixton Depot, London SW9 8JX", OutwardCode: "SW9", Technology: "Gas", CompanyName: "Acme Energy Ltd", DeliveryYear: "2026", AuctionName: "T-1 2025/26"},
		{ComponentID: "4", CMUID: "NORTH1", Location: "Leeds Works, Leeds LS1 4AP", OutwardCode: "LS1", Technology: "Wind", DeliveryYear: "2025", AuctionName: "T-4 2021/22", DeratedCapacityMW: ptr(20)},
	})
	require.NoError(t, err)
}
