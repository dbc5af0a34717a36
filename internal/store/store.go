package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"capacity-checker/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for all database operations.
type Store interface {
	// CMU registry
	UpsertCMURecords(ctx context.Context, records []model.CMURecord) error
	GetCMURecord(ctx context.Context, cmuID string) (*model.CMURecord, error)
	CMURecordsForCompany(ctx context.Context, companyID string) ([]model.CMURecord, error)
	AllCMURecords(ctx context.Context) ([]model.CMURecord, error)

	// Components
	SaveComponents(ctx context.Context, components []model.Component) ([]model.Component, error)
	GetComponent(ctx context.Context, id int64) (*model.Component, error)
	ComponentsForCMUs(ctx context.Context, cmuIDs []string) ([]model.Component, error)
	CountComponentsByCMU(ctx context.Context, cmuIDs []string) (map[string]int64, error)
	SearchComponents(ctx context.Context, q ComponentQuery) ([]model.Component, int64, error)
	MapComponents(ctx context.Context, f MapFilter) ([]model.Component, error)
	DistinctTechnologies(ctx context.Context) ([]string, error)
	LocationCounts(ctx context.Context) ([]LocationCount, error)
	ComponentsMissingLocationFields(ctx context.Context, afterID int64, limit int) ([]model.Component, error)
	UpdateLocationFields(ctx context.Context, id int64, outwardCode, county string) error
	ComponentsToGeocode(ctx context.Context, afterID int64, limit int, force bool) ([]model.Component, error)
	UpdateCoordinates(ctx context.Context, id int64, lat, lon float64) error
	Iterate(ctx context.Context, f ComponentFilter, batchSize int, fn func([]model.Component) error) error
	DeleteComponents(ctx context.Context, ids []int64) (int64, error)

	// Statistics
	Totals(ctx context.Context) (Totals, error)
	TechnologyStats(ctx context.Context) ([]TechnologyStat, error)
	CompanyStats(ctx context.Context, limit int) ([]CompanyStat, error)
	DeliveryYearStats(ctx context.Context) ([]YearStat, error)

	// Crawl bookkeeping
	CreateCrawlRun(ctx context.Context, run *model.CrawlRun) error
	FinishCrawlRun(ctx context.Context, run *model.CrawlRun) error
	LatestCrawlRun(ctx context.Context) (*model.CrawlRun, error)

	// Push subscriptions
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription, companyIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscribersForCompany(ctx context.Context, companyID string) ([]model.PushSubscription, error)

	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Ping checks the underlying connection.
func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
