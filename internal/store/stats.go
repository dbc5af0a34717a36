package store

import (
	"context"

	"capacity-checker/internal/model"
)

// Totals returns the headline component, CMU, company and capacity figures.
func (s *gormStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	db := s.db.WithContext(ctx)

	if err := db.Model(&model.Component{}).Count(&t.Components).Error; err != nil {
		return t, err
	}
	if err := db.Model(&model.CMURecord{}).Count(&t.CMUs).Error; err != nil {
		return t, err
	}
	if err := db.Model(&model.CMURecord{}).
		Where("company_id <> ''").
		Distinct("company_id").
		Count(&t.Companies).Error; err != nil {
		return t, err
	}
	if err := db.Model(&model.Component{}).
		Select("COALESCE(SUM(derated_capacity_mw), 0)").
		Scan(&t.Capacity).Error; err != nil {
		return t, err
	}
	return t, nil
}

// TechnologyStats groups components by technology class, largest first.
func (s *gormStore) TechnologyStats(ctx context.Context) ([]TechnologyStat, error) {
	var rows []TechnologyStat
	err := s.db.WithContext(ctx).Model(&model.Component{}).
		Select("technology, COUNT(*) AS count, COALESCE(SUM(derated_capacity_mw), 0) AS capacity").
		Group("technology").
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

// CompanyStats returns the companies with the most derated capacity.
func (s *gormStore) CompanyStats(ctx context.Context, limit int) ([]CompanyStat, error) {
	var rows []CompanyStat
	err := s.db.WithContext(ctx).Model(&model.Component{}).
		Select("company_name, COUNT(*) AS count, COALESCE(SUM(derated_capacity_mw), 0) AS capacity").
		Where("company_name <> ''").
		Group("company_name").
		Order("capacity DESC").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// DeliveryYearStats counts components per delivery year.
func (s *gormStore) DeliveryYearStats(ctx context.Context) ([]YearStat, error) {
	var rows []YearStat
	err := s.db.WithContext(ctx).Model(&model.Component{}).
		Select("delivery_year, COUNT(*) AS count").
		Where("delivery_year <> ''").
		Group("delivery_year").
		Order("delivery_year").
		Scan(&rows).Error
	return rows, err
}
