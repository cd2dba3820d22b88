package entities

import (
	"github.com/google/uuid"
	"time"
)

// Game is the durable catalog record of a discovered broadcast.
type Game struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	ExternalID   string    `json:"external_id" gorm:"type:varchar(64);not null;uniqueIndex:unique_game_external_id"`
	Category     string    `json:"category" gorm:"type:varchar(100)"`
	Title        string    `json:"title" gorm:"type:varchar(500)"`
	ChannelTitle string    `json:"channel_title" gorm:"type:varchar(255)"`
	ThumbnailURL string    `json:"thumbnail_url" gorm:"type:varchar(500)"`
	CreatedAt    time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (Game) TableName() string {
	return "games"
}
