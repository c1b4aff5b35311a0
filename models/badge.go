package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Badge: catalog entry (immutable once awarded)
type Badge struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string `gorm:"not null;index" json:"name"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"` // e.g., "first-meetup"
	Description string `gorm:"type:text;not null" json:"description"`
	ImageURL    string `gorm:"type:text;not null" json:"image_url"` // e.g., R2 URL to SVG/png
	Category    string `gorm:"not null;index" json:"category"`      // case-folded tag, e.g. "events"
	Points      int64  `gorm:"not null;default:0" json:"points"`

	// CompletesCategory marks a reward badge that is granted automatically
	// once every other badge of that category has been earned.
	CompletesCategory *string `gorm:"index" json:"completes_category,omitempty"`

	Timestamps
}

func (b *Badge) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// UserBadge: awarded instance (many-to-many), at most one per (user, badge)
type UserBadge struct {
	ID       string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_user_badge" json:"user_id"`
	BadgeID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_user_badge;index" json:"badge_id"`
	EarnedAt time.Time `gorm:"not null;index" json:"earned_at"`

	Badge *Badge `gorm:"foreignKey:BadgeID" json:"badge,omitempty"`
}

func (ub *UserBadge) BeforeCreate(tx *gorm.DB) error {
	if ub.ID == "" {
		ub.ID = uuid.NewString()
	}
	if ub.EarnedAt.IsZero() {
		ub.EarnedAt = time.Now().UTC()
	}
	return nil
}
