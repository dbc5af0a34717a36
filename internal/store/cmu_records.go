package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"capacity-checker/internal/model"
)

// UpsertCMURecords inserts registry rows, refreshing existing ones by CMU id.
func (s *gormStore) UpsertCMURecords(ctx context.Context, records []model.CMURecord) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cmu_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name_of_applicant", "parent_company", "full_name", "company_id",
			"delivery_year", "auction_name", "derated_capacity", "raw", "updated_at",
		}),
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("batch upsert cmu records failed: %w", err)
	}
	return nil
}

// GetCMURecord returns the registry row for cmuID.
func (s *gormStore) GetCMURecord(ctx context.Context, cmuID string) (*model.CMURecord, error) {
	var rec model.CMURecord
	if err := s.db.WithContext(ctx).Where("cmu_id = ?", cmuID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// CMURecordsForCompany returns every registry row whose normalized full name is companyID.
func (s *gormStore) CMURecordsForCompany(ctx context.Context, companyID string) ([]model.CMURecord, error) {
	var recs []model.CMURecord
	if err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("delivery_year, cmu_id").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// AllCMURecords loads the registry without the raw payloads.
func (s *gormStore) AllCMURecords(ctx context.Context) ([]model.CMURecord, error) {
	var recs []model.CMURecord
	if err := s.db.WithContext(ctx).
		Omit("raw").
		Order("cmu_id").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
