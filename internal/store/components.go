package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"capacity-checker/internal/model"
)

const saveBatchSize = 100

// SaveComponents inserts components whose upstream id is not stored yet and
// returns the ones actually added. Components without an upstream id are always added.
func (s *gormStore) SaveComponents(ctx context.Context, components []model.Component) ([]model.Component, error) {
	if len(components) == 0 {
		return nil, nil
	}

	var added []model.Component
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(components))
		for _, c := range components {
			if c.ComponentID != "" {
				ids = append(ids, c.ComponentID)
			}
		}

		existing := make(map[string]struct{}, len(ids))
		if len(ids) > 0 {
			var found []string
			if err := tx.Model(&model.Component{}).
				Where("component_id IN ?", ids).
				Pluck("component_id", &found).Error; err != nil {
				return fmt.Errorf("failed to look up existing components: %w", err)
			}
			for _, id := range found {
				existing[id] = struct{}{}
			}
		}

		for _, c := range components {
			if c.ComponentID != "" {
				if _, ok := existing[c.ComponentID]; ok {
					continue
				}
				existing[c.ComponentID] = struct{}{}
			}
			added = append(added, c)
		}

		if len(added) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&added, saveBatchSize).Error; err != nil {
			return fmt.Errorf("failed to insert components: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// GetComponent returns a component by database id.
func (s *gormStore) GetComponent(ctx context.Context, id int64) (*model.Component, error) {
	var c model.Component
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ComponentsForCMUs returns all components of the given CMUs ordered by location.
func (s *gormStore) ComponentsForCMUs(ctx context.Context, cmuIDs []string) ([]model.Component, error) {
	if len(cmuIDs) == 0 {
		return nil, nil
	}
	var comps []model.Component
	if err := s.db.WithContext(ctx).
		Where("cmu_id IN ?", cmuIDs).
		Order("location, id").
		Find(&comps).Error; err != nil {
		return nil, err
	}
	return comps, nil
}

// CountComponentsByCMU returns the component count of each CMU that has any.
func (s *gormStore) CountComponentsByCMU(ctx context.Context, cmuIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64)
	if len(cmuIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		CMUID string
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Component{}).
		Select("cmu_id, COUNT(*) AS count").
		Where("cmu_id IN ?", cmuIDs).
		Group("cmu_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.CMUID] = r.Count
	}
	return counts, nil
}

// SearchComponents returns one page of matching components and the total match count.
func (s *gormStore) SearchComponents(ctx context.Context, q ComponentQuery) ([]model.Component, int64, error) {
	filter := componentQueryScope(q)

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Component{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count components: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	order := "delivery_year DESC"
	if q.SortOrder == "asc" {
		order = "delivery_year ASC"
	}

	tx := s.db.WithContext(ctx).Scopes(filter).Order(order).Order("id")
	if q.PerPage > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		tx = tx.Offset((page - 1) * q.PerPage).Limit(q.PerPage)
	}

	var comps []model.Component
	if err := tx.Find(&comps).Error; err != nil {
		return nil, 0, fmt.Errorf("search components: %w", err)
	}
	return comps, total, nil
}

func componentQueryScope(q ComponentQuery) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if len(q.CMUIDs) > 0 {
			tx = tx.Where("cmu_id IN ?", q.CMUIDs)
		}
		if q.Technology != "" {
			tx = tx.Where("technology = ?", q.Technology)
		}

		var ors []string
		var args []any
		if text := strings.TrimSpace(q.Text); text != "" {
			like := "%" + strings.ToLower(text) + "%"
			for _, col := range []string{"location", "description", "company_name", "cmu_id"} {
				ors = append(ors, "LOWER("+col+") LIKE ?")
				args = append(args, like)
			}
		}
		if len(q.Outcodes) > 0 {
			ors = append(ors, "outward_code IN ?")
			args = append(args, q.Outcodes)
		}
		if len(ors) > 0 {
			tx = tx.Where("("+strings.Join(ors, " OR ")+")", args...)
		}
		return tx
	}
}

// MapComponents returns geocoded components inside the filter's viewport.
func (s *gormStore) MapComponents(ctx context.Context, f MapFilter) ([]model.Component, error) {
	tx := s.db.WithContext(ctx).
		Omit("additional_data").
		Where("geocoded = ?", true).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL")

	if f.North != nil {
		tx = tx.Where("latitude <= ?", *f.North)
	}
	if f.South != nil {
		tx = tx.Where("latitude >= ?", *f.South)
	}
	if f.East != nil {
		tx = tx.Where("longitude <= ?", *f.East)
	}
	if f.West != nil {
		tx = tx.Where("longitude >= ?", *f.West)
	}
	if len(f.Technologies) > 0 {
		tx = tx.Where("technology IN ?", f.Technologies)
	}
	if f.CompanyName != "" {
		tx = tx.Where("company_name = ?", f.CompanyName)
	}
	if f.DeliveryYear != "" {
		tx = tx.Where("delivery_year = ?", f.DeliveryYear)
	}
	if f.CMUID != "" {
		tx = tx.Where("cmu_id = ?", f.CMUID)
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}

	var comps []model.Component
	if err := tx.Order("id").Find(&comps).Error; err != nil {
		return nil, err
	}
	return comps, nil
}

// DistinctTechnologies lists every technology class in use.
func (s *gormStore) DistinctTechnologies(ctx context.Context) ([]string, error) {
	var techs []string
	if err := s.db.WithContext(ctx).Model(&model.Component{}).
		Where("technology <> ''").
		Distinct("technology").
		Order("technology").
		Pluck("technology", &techs).Error; err != nil {
		return nil, err
	}
	return techs, nil
}

// LocationCounts returns each distinct location with its component count.
func (s *gormStore) LocationCounts(ctx context.Context) ([]LocationCount, error) {
	var rows []LocationCount
	if err := s.db.WithContext(ctx).Model(&model.Component{}).
		Select("location, COUNT(*) AS count").
		Where("location <> ''").
		Group("location").
		Order("count DESC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ComponentsMissingLocationFields pages through components without an outward code.
func (s *gormStore) ComponentsMissingLocationFields(ctx context.Context, afterID int64, limit int) ([]model.Component, error) {
	var comps []model.Component
	if err := s.db.WithContext(ctx).
		Select("id", "location", "cmu_id").
		Where("(outward_code IS NULL OR outward_code = '')").
		Where("id > ?", afterID).
		Order("id").
		Limit(limit).
		Find(&comps).Error; err != nil {
		return nil, err
	}
	return comps, nil
}

// UpdateLocationFields stores the derived outward code and county.
func (s *gormStore) UpdateLocationFields(ctx context.Context, id int64, outwardCode, county string) error {
	return s.db.WithContext(ctx).Model(&model.Component{}).
		Where("id = ?", id).
		Updates(map[string]any{"outward_code": outwardCode, "county": county}).Error
}

// ComponentsToGeocode pages through components with a location that are not
// yet geocoded. With force, geocoded components are returned too.
func (s *gormStore) ComponentsToGeocode(ctx context.Context, afterID int64, limit int, force bool) ([]model.Component, error) {
	tx := s.db.WithContext(ctx).
		Select("id", "location", "outward_code").
		Where("location <> ''").
		Where("id > ?", afterID)
	if !force {
		tx = tx.Where("geocoded = ?", false)
	}
	var comps []model.Component
	if err := tx.Order("id").Limit(limit).Find(&comps).Error; err != nil {
		return nil, err
	}
	return comps, nil
}

// UpdateCoordinates stores a component's position and marks it geocoded.
func (s *gormStore) UpdateCoordinates(ctx context.Context, id int64, lat, lon float64) error {
	return s.db.WithContext(ctx).Model(&model.Component{}).
		Where("id = ?", id).
		Updates(map[string]any{"latitude": lat, "longitude": lon, "geocoded": true}).Error
}

// Iterate walks matching components in id order, batchSize at a time.
func (s *gormStore) Iterate(ctx context.Context, f ComponentFilter, batchSize int, fn func([]model.Component) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var lastID int64
	for {
		tx := s.db.WithContext(ctx).Where("id > ?", lastID)
		if f.CMUID != "" {
			tx = tx.Where("cmu_id = ?", f.CMUID)
		}
		if f.CompanyName != "" {
			tx = tx.Where("LOWER(company_name) LIKE ?", "%"+strings.ToLower(f.CompanyName)+"%")
		}

		var batch []model.Component
		if err := tx.Order("id").Limit(batchSize).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		lastID = batch[len(batch)-1].ID
		if len(batch) < batchSize {
			return nil
		}
	}
}

// DeleteComponents removes components by database id.
func (s *gormStore) DeleteComponents(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.Component{})
	return res.RowsAffected, res.Error
}
