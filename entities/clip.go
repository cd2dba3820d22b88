package entities

import (
	"github.com/google/uuid"
	"time"
)

type Clip struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	StorageKey   string    `json:"s3_key" gorm:"type:varchar(500);not null"`
	Title        string    `json:"title" gorm:"type:varchar(500)"`
	Description  string    `json:"description" gorm:"type:text"`
	SourceID     uuid.UUID `json:"source_id" gorm:"type:uuid;not null;index:idx_clips_source_id"`
	Category     string    `json:"category" gorm:"type:varchar(100);index:idx_clips_category"`
	LikeCount    int       `json:"like_count" gorm:"not null;default:0"`
	CommentCount int       `json:"comment_count" gorm:"not null;default:0"`
	Embedding    []float64 `json:"embedding,omitempty" gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Clip) TableName() string {
	return "clips"
}

func (c Clip) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
