package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RoleSource records who granted the current role, so a provider-granted
// admin can be revoked by the provider without touching manual grants.
type RoleSource string

const (
	RoleSourceDefault  RoleSource = "default"
	RoleSourceProvider RoleSource = "provider"
	RoleSourceManual   RoleSource = "manual"
)

// User is a member identity. It is created by the wallet handshake or by a
// social login and owns its connections, badges, participations and stats.
type User struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username        string     `gorm:"uniqueIndex;not null" json:"username"`
	Email           *string    `gorm:"index" json:"email,omitempty"`
	WalletAddress   *string    `gorm:"type:varchar(42);uniqueIndex" json:"wallet_address,omitempty"` // lowercase 0x-hex
	DiscordID       *string    `gorm:"uniqueIndex" json:"discord_id,omitempty"`
	Role            Role       `gorm:"type:varchar(16);not null;default:'user'" json:"role"`
	RoleSource      RoleSource `gorm:"type:varchar(16);not null;default:'default'" json:"-"`
	ProfileImageURL *string    `gorm:"type:text" json:"profile_image_url,omitempty"`

	// Nonce is the single outstanding wallet challenge; nil when none is open.
	Nonce *string `gorm:"type:varchar(64)" json:"-"`

	TotalAchievements int64 `gorm:"not null;default:0" json:"total_achievements"`

	Timestamps
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.RoleSource == "" {
		u.RoleSource = RoleSourceDefault
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
