package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CategoryProgress is the cached per-category rollup of earned badges.
type CategoryProgress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
}

type AchievementProgress map[string]CategoryProgress

// UserStats tracks the materialized aggregates for each user (denormalized for performance)
type UserStats struct {
	ID     string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"user_id"`

	TotalEventsJoined int64 `gorm:"not null;default:0" json:"total_events_joined"`
	TotalPoints       int64 `gorm:"not null;default:0;index" json:"total_points"`
	AccountCompletion int   `gorm:"not null;default:0" json:"account_completion"` // 0-100

	AchievementProgress datatypes.JSONType[AchievementProgress] `json:"achievement_progress"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (s *UserStats) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.AchievementProgress.Data() == nil {
		s.AchievementProgress = datatypes.NewJSONType(AchievementProgress{})
	}
	return nil
}

// Progress returns the rollup, never nil.
func (s *UserStats) Progress() AchievementProgress {
	if p := s.AchievementProgress.Data(); p != nil {
		return p
	}
	return AchievementProgress{}
}

// AllModels lists every table in migration order.
func AllModels() []any {
	return []any{
		&User{},
		&Connection{},
		&Badge{},
		&UserBadge{},
		&Event{},
		&EventParticipant{},
		&UserStats{},
	}
}
