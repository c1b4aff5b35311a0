package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Platform string

const (
	PlatformDiscord      Platform = "discord"
	PlatformTwitter      Platform = "twitter"
	PlatformTelegram     Platform = "telegram"
	PlatformPortalWallet Platform = "portal_wallet"
	PlatformMatrica      Platform = "matrica"
)

var Platforms = []Platform{
	PlatformDiscord,
	PlatformTwitter,
	PlatformTelegram,
	PlatformPortalWallet,
	PlatformMatrica,
}

func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Connection links a user to an account on an external platform.
// At most one per (user, platform).
type Connection struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID           string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_connection_user_platform" json:"user_id"`
	Platform         Platform  `gorm:"type:varchar(32);not null;uniqueIndex:idx_connection_user_platform" json:"platform"`
	PlatformUsername string    `gorm:"not null" json:"platform_username"`
	PlatformID       *string   `json:"platform_id,omitempty"`
	IsVerified       bool      `gorm:"not null;default:false" json:"is_verified"`
	ConnectedAt      time.Time `gorm:"not null" json:"connected_at"`
}

func (c *Connection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now().UTC()
	}
	return nil
}
