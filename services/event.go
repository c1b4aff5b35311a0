package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"community-rewards-system/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventService struct {
	DB  *gorm.DB
	Log *zap.Logger

	now func() time.Time
}

func NewEventService(db *gorm.DB, log *zap.Logger) *EventService {
	return &EventService{DB: db, Log: log, now: time.Now}
}

// EventInput carries the fields accepted on create. On update, zero-valued
// fields are left unchanged.
type EventInput struct {
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	ImageURL             string     `json:"image_url"`
	EventType            string     `json:"event_type"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              time.Time  `json:"end_time"`
	Location             string     `json:"location"`
	IsVirtual            *bool      `json:"is_virtual,omitempty"`
	SpecialReward        string     `json:"special_reward"`
	RewardBadgeID        *string    `json:"reward_badge_id,omitempty"`
	IsPublished          *bool      `json:"is_published,omitempty"`
	PublishAt            *time.Time `json:"publish_at,omitempty"`
	MaxParticipants      *int       `json:"max_participants,omitempty"`
	RegistrationDeadline *time.Time `json:"registration_deadline,omitempty"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	IncludeUnpublished bool
	UpcomingOnly       bool
	EventType          string
}

// AttendanceResult reports what MarkAttendance changed.
type AttendanceResult struct {
	Participant    *models.EventParticipant `json:"participant"`
	Award          *models.UserBadge        `json:"award,omitempty"`
	AlreadyAwarded bool                     `json:"already_awarded"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func validateSchedule(e *models.Event) error {
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title is required")
	}
	if strings.TrimSpace(e.EventType) == "" {
		return invalid("event_type is required")
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return invalid("start_time and end_time are required")
	}
	if e.EndTime.Before(e.StartTime) {
		return invalid("end_time must not be before start_time")
	}
	if e.MaxParticipants != nil && *e.MaxParticipants < 1 {
		return invalid("max_participants must be at least 1")
	}
	if e.RegistrationDeadline != nil && e.RegistrationDeadline.After(e.StartTime) {
		return invalid("registration_deadline must not be after start_time")
	}
	return nil
}

func rewardBadgeExists(tx *gorm.DB, badgeID *string) error {
	if badgeID == nil {
		return nil
	}
	var badge models.Badge
	if err := tx.Select("id").Where("id = ?", *badgeID).First(&badge).Error; err != nil {
		return notFound(err, ErrBadgeNotFound)
	}
	return nil
}

func (s *EventService) CreateEvent(ctx context.Context, in EventInput) (*models.Event, error) {
	event := models.Event{
		Title:                strings.TrimSpace(in.Title),
		Description:          in.Description,
		ImageURL:             in.ImageURL,
		EventType:            strings.TrimSpace(in.EventType),
		StartTime:            in.StartTime.UTC(),
		EndTime:              in.EndTime.UTC(),
		Location:             in.Location,
		IsVirtual:            in.IsVirtual != nil && *in.IsVirtual,
		SpecialReward:        in.SpecialReward,
		RewardBadgeID:        in.RewardBadgeID,
		IsPublished:          in.IsPublished != nil && *in.IsPublished,
		PublishAt:            utcPtr(in.PublishAt),
		MaxParticipants:      in.MaxParticipants,
		RegistrationDeadline: in.RegistrationDeadline,
	}
	if event.IsPublished {
		event.PublishAt = nil
	}
	if err := validateSchedule(&event); err != nil {
		return nil, err
	}

	err := runTx(ctx, s.DB, "create event", func(tx *gorm.DB) error {
		if err := rewardBadgeExists(tx, event.RewardBadgeID); err != nil {
			return err
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("event created", zap.String("event_id", event.ID), zap.Bool("published", event.IsPublished))
	return &event, nil
}

func (s *EventService) UpdateEvent(ctx context.Context, eventID string, in EventInput) (*models.Event, error) {
	var event models.Event
	err := runTx(ctx, s.DB, "update event", func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", eventID).First(&event).Error; err != nil {
			return notFound(err, ErrEventNotFound)
		}

		if in.Title != "" {
			event.Title = strings.TrimSpace(in.Title)
		}
		if in.Description != "" {
			event.Description = in.Description
		}
		if in.ImageURL != "" {
			event.ImageURL = in.ImageURL
		}
		if in.EventType != "" {
			event.EventType = strings.TrimSpace(in.EventType)
		}
		if !in.StartTime.IsZero() {
			event.StartTime = in.StartTime.UTC()
		}
		if !in.EndTime.IsZero() {
			event.EndTime = in.EndTime.UTC()
		}
		if in.Location != "" {
			event.Location = in.Location
		}
		if in.IsVirtual != nil {
			event.IsVirtual = *in.IsVirtual
		}
		if in.SpecialReward != "" {
			event.SpecialReward = in.SpecialReward
		}
		if in.RewardBadgeID != nil {
			if err := rewardBadgeExists(tx, in.RewardBadgeID); err != nil {
				return err
			}
			event.RewardBadgeID = in.RewardBadgeID
		}
		if in.IsPublished != nil {
			event.IsPublished = *in.IsPublished
		}
		if in.PublishAt != nil {
			event.PublishAt = utcPtr(in.PublishAt)
		}
		if event.IsPublished {
			event.PublishAt = nil
		}
		if in.MaxParticipants != nil {
			if int64(*in.MaxParticipants) < event.ParticipantCount {
				return invalid("max_participants is below the %d current registrations", event.ParticipantCount)
			}
			event.MaxParticipants = in.MaxParticipants
		}
		if in.RegistrationDeadline != nil {
			event.RegistrationDeadline = in.RegistrationDeadline
		}
		if err := validateSchedule(&event); err != nil {
			return err
		}
		// participant_count is owned by registration; never write it back.
		return tx.Model(&event).Select("*").Omit("id", "participant_count", "created_at").Updates(&event).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("event updated", zap.String("event_id", eventID))
	return &event, nil
}

// DeleteEvent removes the event and its participations, decrementing each
// participant's joined-events counter in the same transaction.
func (s *EventService) DeleteEvent(ctx context.Context, eventID string) error {
	err := runTx(ctx, s.DB, "delete event", func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.Where("id = ?", eventID).First(&event).Error; err != nil {
			return notFound(err, ErrEventNotFound)
		}
		var userIDs []string
		if err := tx.Model(&models.EventParticipant{}).Where("event_id = ?", eventID).Pluck("user_id", &userIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", eventID).Delete(&models.EventParticipant{}).Error; err != nil {
			return err
		}
		if len(userIDs) > 0 {
			if err := tx.Model(&models.UserStats{}).Where("user_id IN ?", userIDs).Updates(map[string]any{
				"total_events_joined": decrementFloor("total_events_joined"),
				"updated_at":          time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&event).Error
	})
	if err != nil {
		return err
	}

	s.Log.Info("event deleted", zap.String("event_id", eventID))
	return nil
}

// GetEvent returns a published event. Unpublished events are only visible
// when includeUnpublished is set (admin views).
func (s *EventService) GetEvent(ctx context.Context, eventID string, includeUnpublished bool) (*models.Event, error) {
	var event models.Event
	err := s.DB.WithContext(ctx).Preload("RewardBadge").Where("id = ?", eventID).First(&event).Error
	if err != nil {
		return nil, storeError("load event", notFound(err, ErrEventNotFound))
	}
	if !event.IsPublished && !includeUnpublished {
		return nil, ErrEventNotFound
	}
	return &event, nil
}

func (s *EventService) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	q := s.DB.WithContext(ctx).Preload("RewardBadge").Order("start_time ASC")
	if !f.IncludeUnpublished {
		q = q.Where("is_published = ?", true)
	}
	if f.UpcomingOnly {
		q = q.Where("start_time > ?", s.now().UTC())
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, storeError("list events", err)
	}
	return events, nil
}

// RegisterForEvent records userID as a participant. The capacity check, the
// participant insert and the joined-events counter commit together.
func (s *EventService) RegisterForEvent(ctx context.Context, userID, eventID string) (*models.EventParticipant, error) {
	now := s.now().UTC()
	var participant models.EventParticipant
	err := runTx(ctx, s.DB, "register for event", func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}
		var event models.Event
		if err := tx.Where("id = ?", eventID).First(&event).Error; err != nil {
			return notFound(err, ErrEventNotFound)
		}
		if !event.IsPublished {
			return ErrEventNotPublished
		}
		if event.RegistrationDeadline != nil && now.After(*event.RegistrationDeadline) {
			return ErrRegistrationClosed
		}
		if !now.Before(event.StartTime) {
			return ErrEventStarted
		}

		var existing int64
		if err := tx.Model(&models.EventParticipant{}).
			Where("event_id = ? AND user_id = ?", eventID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyRegistered
		}

		// Claim a seat. The condition and the increment are one statement, so
		// two registrations cannot both take the last seat.
		res := tx.Model(&models.Event{}).
			Where("id = ? AND (max_participants IS NULL OR participant_count < max_participants)", eventID).
			UpdateColumn("participant_count", gorm.Expr("participant_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrEventFull
		}

		participant = models.EventParticipant{EventID: eventID, UserID: userID, RegistrationDate: now}
		if err := tx.Create(&participant).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyRegistered
			}
			return err
		}
		return bumpStats(tx, userID, map[string]int64{"total_events_joined": 1})
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("event registration", zap.String("event_id", eventID), zap.String("user_id", userID))
	return &participant, nil
}

// CancelRegistration removes userID from the event and releases the seat.
func (s *EventService) CancelRegistration(ctx context.Context, userID, eventID string) error {
	err := runTx(ctx, s.DB, "cancel registration", func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.Select("id").Where("id = ?", eventID).First(&event).Error; err != nil {
			return notFound(err, ErrEventNotFound)
		}
		res := tx.Where("event_id = ? AND user_id = ?", eventID, userID).Delete(&models.EventParticipant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotRegistered
		}
		if err := tx.Model(&models.Event{}).Where("id = ?", eventID).
			UpdateColumn("participant_count", decrementFloor("participant_count")).Error; err != nil {
			return err
		}
		if err := ensureStats(tx, userID); err != nil {
			return err
		}
		return tx.Model(&models.UserStats{}).Where("user_id = ?", userID).Updates(map[string]any{
			"total_events_joined": decrementFloor("total_events_joined"),
			"updated_at":          time.Now().UTC(),
		}).Error
	})
	if err != nil {
		return err
	}

	s.Log.Info("event registration cancelled", zap.String("event_id", eventID), zap.String("user_id", userID))
	return nil
}

// MarkAttendance sets the attended flag. Flipping it to true on an event with
// a reward badge awards that badge in the same transaction; a badge the user
// already holds counts as success.
func (s *EventService) MarkAttendance(ctx context.Context, eventID, userID string, attended bool) (*AttendanceResult, error) {
	result := &AttendanceResult{}
	err := runTx(ctx, s.DB, "mark attendance", func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.Where("id = ?", eventID).First(&event).Error; err != nil {
			return notFound(err, ErrEventNotFound)
		}
		var participant models.EventParticipant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("event_id = ? AND user_id = ?", eventID, userID).
			First(&participant).Error; err != nil {
			return notFound(err, ErrNotRegistered)
		}

		wasAttended := participant.Attended
		if wasAttended != attended {
			if err := tx.Model(&participant).Update("attended", attended).Error; err != nil {
				return err
			}
			participant.Attended = attended
		}
		result.Participant = &participant

		if wasAttended || !attended || event.RewardBadgeID == nil {
			return nil
		}
		award, err := awardInTx(tx, userID, *event.RewardBadgeID)
		switch {
		case errors.Is(err, ErrAlreadyAwarded):
			result.AlreadyAwarded = true
			return nil
		case err != nil:
			return err
		}
		result.Award = award
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("attendance marked",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.Bool("attended", attended),
		zap.Bool("awarded", result.Award != nil),
	)
	return result, nil
}

func (s *EventService) Participants(ctx context.Context, eventID string) ([]models.EventParticipant, error) {
	db := s.DB.WithContext(ctx)
	var event models.Event
	if err := db.Select("id").Where("id = ?", eventID).First(&event).Error; err != nil {
		return nil, storeError("load event", notFound(err, ErrEventNotFound))
	}
	var participants []models.EventParticipant
	err := db.Preload("User").Where("event_id = ?", eventID).Order("registration_date ASC").Find(&participants).Error
	return participants, storeError("list participants", err)
}

// PublishDueEvents publishes every unpublished event whose PublishAt has
// passed and returns how many were published.
func (s *EventService) PublishDueEvents(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Event{}).
		Where("is_published = ? AND publish_at IS NOT NULL AND publish_at <= ?", false, now.UTC()).
		Updates(map[string]any{"is_published": true, "publish_at": nil, "updated_at": now.UTC()})
	if res.Error != nil {
		return 0, storeError("publish due events", res.Error)
	}
	if res.RowsAffected > 0 {
		s.Log.Info("scheduled events published", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}
