package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"capacity-checker/internal/model"
)

// UpsertSubscription creates or replaces a subscription and its watched companies.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription, companyIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("WatchedCompanies").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return err
		}

		if err := tx.Where("endpoint = ?", sub.Endpoint).Delete(&model.WatchedCompany{}).Error; err != nil {
			return err
		}

		watched := make([]model.WatchedCompany, 0, len(companyIDs))
		seen := make(map[string]struct{}, len(companyIDs))
		for _, id := range companyIDs {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			watched = append(watched, model.WatchedCompany{Endpoint: sub.Endpoint, CompanyID: id})
		}
		if len(watched) > 0 {
			if err := tx.Create(&watched).Error; err != nil {
				return err
			}
		}
		sub.WatchedCompanies = watched
		return nil
	})
}

// GetSubscription loads a subscription with its watched companies.
func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).
		Preload("WatchedCompanies").
		First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription and its watched companies.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", endpoint).Delete(&model.WatchedCompany{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	})
}

// SubscribersForCompany returns the subscriptions watching companyID.
func (s *gormStore) SubscribersForCompany(ctx context.Context, companyID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN watched_companies wc ON wc.endpoint = push_subscriptions.endpoint").
		Where("wc.company_id = ?", companyID).
		Find(&subs).Error
	return subs, err
}
