package model

import (
	"time"

	"gorm.io/datatypes"
)

// CMURecord is one row of the capacity market unit registry.
type CMURecord struct {
	ID              int64          `gorm:"primaryKey" json:"id"`
	CMUID           string         `gorm:"uniqueIndex;size:64;not null" json:"cmu_id"`
	NameOfApplicant string         `gorm:"size:255" json:"name_of_applicant"`
	ParentCompany   string         `gorm:"size:255" json:"parent_company"`
	FullName        string         `gorm:"size:255;index" json:"full_name"`
	CompanyID       string         `gorm:"size:255;index" json:"company_id"`
	DeliveryYear    string         `gorm:"size:50;index" json:"delivery_year"`
	AuctionName     string         `gorm:"size:100" json:"auction_name"`
	DeratedCapacity *float64       `json:"derated_capacity,omitempty"`
	Raw             datatypes.JSON `json:"raw,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Company is the read model for a company assembled from its CMU records.
// ID is the normalized full name.
type Company struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CMUIDs        []string `json:"cmu_ids"`
	DeliveryYears []string `json:"delivery_years"`
}
