package entities

import (
	"github.com/google/uuid"
	"time"
)

// Chunk is one ordered unit of live media recorded for a source URL.
type Chunk struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	SourceURL  string    `json:"source_url" gorm:"type:varchar(500);not null;uniqueIndex:unique_live_chunk_source_sequence,priority:1"`
	Sequence   int64     `json:"chunk_number" gorm:"not null;uniqueIndex:unique_live_chunk_source_sequence,priority:2"`
	StorageKey string    `json:"s3_key" gorm:"type:varchar(500);not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Chunk) TableName() string {
	return "live_chunks"
}
