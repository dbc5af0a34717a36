package model

import (
	"time"

	"gorm.io/datatypes"
)

// Component is a single asset registered against a CMU.
type Component struct {
	ID                int64          `gorm:"primaryKey" json:"id"`
	ComponentID       string         `gorm:"size:100;index" json:"component_id"` // upstream _id
	CMUID             string         `gorm:"size:64;index;not null" json:"cmu_id"`
	Location          string         `gorm:"size:255;index" json:"location"`
	Description       string         `gorm:"type:text" json:"description"`
	Technology        string         `gorm:"size:100;index" json:"technology"`
	CompanyName       string         `gorm:"size:255;index" json:"company_name"`
	AuctionName       string         `gorm:"size:100" json:"auction_name"`
	DeliveryYear      string         `gorm:"size:50;index" json:"delivery_year"`
	Status            string         `gorm:"size:50" json:"status"`
	Type              string         `gorm:"size:50" json:"type"`
	DeratedCapacityMW *float64       `json:"derated_capacity_mw,omitempty"`
	OutwardCode       string         `gorm:"size:10;index" json:"outward_code"`
	County            string         `gorm:"size:100" json:"county"`
	Latitude          *float64       `json:"latitude,omitempty"`
	Longitude         *float64       `json:"longitude,omitempty"`
	Geocoded          bool           `gorm:"index;not null;default:false" json:"geocoded"`
	AdditionalData    datatypes.JSON `json:"additional_data,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
