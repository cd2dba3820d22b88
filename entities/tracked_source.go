package entities

import (
	"github.com/google/uuid"
	"live-broadcast/constant"
	"time"
)

type TrackedSource struct {
	ID              uuid.UUID             `json:"id" gorm:"type:uuid;primary_key"`
	ExternalID      string                `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:unique_tracked_source_external_id"`
	SourceURL       string                `json:"source_url" gorm:"type:varchar(500);not null"`
	Category        string                `json:"category" gorm:"type:varchar(100);index:idx_tracked_sources_category"`
	Name            string                `json:"name" gorm:"type:varchar(255)"`
	Status          constant.SourceStatus `json:"status" gorm:"type:varchar(20);not null;default:'QUEUED';index:idx_tracked_sources_status"`
	LastProcessedAt *time.Time            `json:"last_processed_at" gorm:"type:timestamptz"`
	CreatedAt       time.Time             `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time             `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (TrackedSource) TableName() string {
	return "tracked_sources"
}
