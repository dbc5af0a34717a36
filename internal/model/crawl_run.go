package model

import (
	"time"

	"github.com/google/uuid"
)

// CrawlRun records one pass of the registry crawler.
type CrawlRun struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	StartedAt          time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	TotalCMUs          int        `json:"total_cmus"`
	CMUsProcessed      int        `json:"cmus_processed"`
	CMUsWithComponents int        `json:"cmus_with_components"`
	ComponentsFound    int        `json:"components_found"`
	ComponentsAdded    int        `json:"components_added"`
	Errors             int        `json:"errors"`
	LastError          string     `gorm:"type:text" json:"last_error,omitempty"`
}
