package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is a community event users register for; attending may earn RewardBadgeID.
type Event struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title         string    `gorm:"not null" json:"title"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ImageURL      string    `gorm:"type:text" json:"image_url,omitempty"`
	EventType     string    `gorm:"not null;index" json:"event_type"`
	StartTime     time.Time `gorm:"not null;index" json:"start_time"`
	EndTime       time.Time `gorm:"not null" json:"end_time"`
	Location      string    `json:"location,omitempty"`
	IsVirtual     bool      `gorm:"not null;default:false" json:"is_virtual"`
	SpecialReward string    `json:"special_reward,omitempty"`

	RewardBadgeID *string `gorm:"type:varchar(36);index" json:"reward_badge_id,omitempty"`
	RewardBadge   *Badge  `gorm:"foreignKey:RewardBadgeID" json:"reward_badge,omitempty"`

	// 🎛️ Publishing state
	IsPublished bool       `gorm:"not null;default:false;index" json:"is_published"`
	PublishAt   *time.Time `gorm:"index" json:"publish_at,omitempty"` // only used while unpublished

	MaxParticipants      *int       `json:"max_participants,omitempty"` // nil = unlimited
	RegistrationDeadline *time.Time `json:"registration_deadline,omitempty"`

	// ParticipantCount mirrors the number of EventParticipant rows and is the
	// value capacity checks run against.
	ParticipantCount int64 `gorm:"not null;default:0" json:"participant_count"`

	Timestamps
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// EventParticipant = registration + attendance outcome
type EventParticipant struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventID          string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_event_user" json:"event_id"`
	UserID           string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_event_user;index" json:"user_id"`
	RegistrationDate time.Time `gorm:"not null" json:"registration_date"`
	Attended         bool      `gorm:"not null;default:false" json:"attended"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (p *EventParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.RegistrationDate.IsZero() {
		p.RegistrationDate = time.Now().UTC()
	}
	return nil
}
