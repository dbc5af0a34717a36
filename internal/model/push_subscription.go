package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	WatchedCompanies []WatchedCompany `gorm:"foreignKey:Endpoint;references:Endpoint;constraint:OnDelete:CASCADE"`
}

// WatchedCompany links a subscription to a company it wants alerts for.
type WatchedCompany struct {
	Endpoint  string `gorm:"primaryKey"`
	CompanyID string `gorm:"primaryKey;size:255;index"`
}
