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

// Completion score weights.
const (
	completionHandle           = 20
	completionProfileImage     = 20
	completionEmail            = 20
	completionPerConnection    = 10
	completionConnectionsLimit = 4
)

type UserService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewUserService(db *gorm.DB, log *zap.Logger) *UserService {
	return &UserService{DB: db, Log: log}
}

// ConnectionInput describes a platform link to add or update.
type ConnectionInput struct {
	Platform         models.Platform `json:"platform"`
	PlatformUsername string          `json:"platform_username"`
	PlatformID       *string         `json:"platform_id,omitempty"`
	IsVerified       *bool           `json:"is_verified,omitempty"`
}

// ProfileUpdate holds the editable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Username        *string `json:"username,omitempty"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
	Email           *string `json:"email,omitempty"` // admin only
}

// StatsSnapshot is the read model returned by GetStats.
type StatsSnapshot struct {
	UserID              string                     `json:"user_id"`
	TotalPoints         int64                      `json:"total_points"`
	TotalAchievements   int64                      `json:"total_achievements"`
	TotalEventsJoined   int64                      `json:"total_events_joined"`
	AccountCompletion   int                        `json:"account_completion"`
	AchievementProgress models.AchievementProgress `json:"achievement_progress"`
	BadgeDistribution   []CategorySummary          `json:"badge_distribution"`
}

// Profile is the user with its stats and connections.
type Profile struct {
	User        *models.User        `json:"user"`
	Stats       StatsSnapshot       `json:"stats"`
	BadgeCount  int64               `json:"badge_count"`
	EventCount  int64               `json:"event_count"`
	Connections []models.Connection `json:"connections"`
}

// AddConnection creates or updates the user's link to platform and
// recomputes the completion score in the same transaction.
func (s *UserService) AddConnection(ctx context.Context, userID string, in ConnectionInput) (*models.Connection, error) {
	if !in.Platform.Valid() {
		return nil, ErrInvalidPlatform
	}
	in.PlatformUsername = strings.TrimSpace(in.PlatformUsername)
	if in.PlatformUsername == "" {
		return nil, invalid("platform_username is required")
	}

	var conn models.Connection
	err := runTx(ctx, s.DB, "add connection", func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}
		c, err := upsertConnection(tx, userID, in)
		if err != nil {
			return err
		}
		conn = *c
		_, err = recomputeCompletion(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("connection saved", zap.String("user_id", userID), zap.String("platform", string(in.Platform)))
	return &conn, nil
}

func upsertConnection(tx *gorm.DB, userID string, in ConnectionInput) (*models.Connection, error) {
	var conn models.Connection
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND platform = ?", userID, in.Platform).
		First(&conn).Error
	switch {
	case err == nil:
		// Verification belongs to the linked account; re-pointing the link
		// drops it unless the caller vouches for the new account.
		repointed := in.PlatformID != nil && (conn.PlatformID == nil || *conn.PlatformID != *in.PlatformID)
		if conn.PlatformID == nil && in.PlatformID == nil && conn.PlatformUsername != in.PlatformUsername {
			repointed = true
		}
		conn.PlatformUsername = in.PlatformUsername
		if in.PlatformID != nil {
			conn.PlatformID = in.PlatformID
		}
		switch {
		case in.IsVerified != nil:
			conn.IsVerified = *in.IsVerified
		case repointed:
			conn.IsVerified = false
		}
		if err := tx.Save(&conn).Error; err != nil {
			return nil, err
		}
		return &conn, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		conn = models.Connection{
			UserID:           userID,
			Platform:         in.Platform,
			PlatformUsername: in.PlatformUsername,
			PlatformID:       in.PlatformID,
			IsVerified:       in.IsVerified != nil && *in.IsVerified,
		}
		if err := tx.Create(&conn).Error; err != nil {
			return nil, err
		}
		return &conn, nil
	default:
		return nil, err
	}
}

// RemoveConnection deletes the user's link to platform.
func (s *UserService) RemoveConnection(ctx context.Context, userID string, platform models.Platform) error {
	if !platform.Valid() {
		return ErrInvalidPlatform
	}
	return runTx(ctx, s.DB, "remove connection", func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND platform = ?", userID, platform).Delete(&models.Connection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConnectionNotFound
		}
		_, err := recomputeCompletion(tx, userID)
		return err
	})
}

func (s *UserService) Connections(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("connected_at DESC").Find(&conns).Error
	return conns, storeError("list connections", err)
}

// UpdateAccountCompletion recomputes and stores the 0-100 completion score.
func (s *UserService) UpdateAccountCompletion(ctx context.Context, userID string) (int, error) {
	var score int
	err := runTx(ctx, s.DB, "update account completion", func(tx *gorm.DB) error {
		var err error
		score, err = recomputeCompletion(tx, userID)
		return err
	})
	return score, err
}

// CompletionScore is the pure scoring rule behind the stored completion value.
func CompletionScore(u *models.User, verifiedConnections int64) int {
	score := 0
	if u.Username != "" && !isDefaultHandle(u) {
		score += completionHandle
	}
	if u.ProfileImageURL != nil && *u.ProfileImageURL != "" {
		score += completionProfileImage
	}
	if u.Email != nil && *u.Email != "" {
		score += completionEmail
	}
	if verifiedConnections > completionConnectionsLimit {
		verifiedConnections = completionConnectionsLimit
	}
	if verifiedConnections > 0 {
		score += int(verifiedConnections) * completionPerConnection
	}
	return score
}

func isDefaultHandle(u *models.User) bool {
	return u.WalletAddress != nil && u.Username == DefaultHandle(*u.WalletAddress)
}

func recomputeCompletion(tx *gorm.DB, userID string) (int, error) {
	var user models.User
	if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
		return 0, notFound(err, ErrUserNotFound)
	}
	var verified int64
	if err := tx.Model(&models.Connection{}).
		Where("user_id = ? AND is_verified = ?", userID, true).
		Count(&verified).Error; err != nil {
		return 0, err
	}
	score := CompletionScore(&user, verified)

	if err := ensureStats(tx, userID); err != nil {
		return 0, err
	}
	err := tx.Model(&models.UserStats{}).Where("user_id = ?", userID).
		Updates(map[string]any{"account_completion": score, "updated_at": time.Now().UTC()}).Error
	return score, err
}

// UpdateProfile applies the allowed profile edits. Role never changes here.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate, isAdmin bool) (*models.User, error) {
	updates := map[string]any{}
	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if name == "" {
			return nil, invalid("username must not be empty")
		}
		updates["username"] = name
	}
	if in.ProfileImageURL != nil {
		updates["profile_image_url"] = *in.ProfileImageURL
	}
	if in.Email != nil {
		if !isAdmin {
			return nil, ErrForbidden
		}
		updates["email"] = strings.ToLower(strings.TrimSpace(*in.Email))
	}

	var user models.User
	err := runTx(ctx, s.DB, "update profile", func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return notFound(err, ErrUserNotFound)
		}
		if len(updates) > 0 {
			if err := tx.Model(&user).Updates(updates).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrUsernameTaken
				}
				return err
			}
		}
		_, err := recomputeCompletion(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("profile updated", zap.String("user_id", userID))
	return &user, nil
}

// PromoteToAdmin is the privileged trigger for role elevation.
func (s *UserService) PromoteToAdmin(ctx context.Context, actorID, userID string) (*models.User, error) {
	var user models.User
	err := runTx(ctx, s.DB, "promote user", func(tx *gorm.DB) error {
		var actor models.User
		if err := tx.Where("id = ?", actorID).First(&actor).Error; err != nil {
			return notFound(err, ErrForbidden)
		}
		if actor.Role != models.RoleAdmin {
			return ErrForbidden
		}
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return notFound(err, ErrUserNotFound)
		}
		user.Role = models.RoleAdmin
		user.RoleSource = models.RoleSourceManual
		return tx.Model(&user).Select("role", "role_source").Updates(&user).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("user promoted to admin", zap.String("user_id", userID), zap.String("actor_id", actorID))
	return &user, nil
}

// GetStats returns the user's aggregates; a user without a stats row gets zeros.
func (s *UserService) GetStats(ctx context.Context, userID string) (*StatsSnapshot, error) {
	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, storeError("load user", notFound(err, ErrUserNotFound))
	}

	snap := &StatsSnapshot{
		UserID:              user.ID,
		TotalAchievements:   user.TotalAchievements,
		AchievementProgress: models.AchievementProgress{},
	}
	var stats models.UserStats
	err := db.Where("user_id = ?", userID).First(&stats).Error
	switch {
	case err == nil:
		snap.TotalPoints = stats.TotalPoints
		snap.TotalEventsJoined = stats.TotalEventsJoined
		snap.AccountCompletion = stats.AccountCompletion
		snap.AchievementProgress = stats.Progress()
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, storeError("load stats", err)
	}

	totals, err := catalogTotals(db)
	if err != nil {
		return nil, storeError("catalog totals", err)
	}
	snap.AchievementProgress = withCatalogTotals(snap.AchievementProgress, totals)
	if snap.BadgeDistribution, err = badgeDistribution(db, userID); err != nil {
		return nil, storeError("badge distribution", err)
	}
	return snap, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, storeError("load user", notFound(err, ErrUserNotFound))
	}
	stats, err := s.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: &user, Stats: *stats}
	if err := db.Model(&models.UserBadge{}).Where("user_id = ?", userID).Count(&p.BadgeCount).Error; err != nil {
		return nil, storeError("count badges", err)
	}
	if err := db.Model(&models.EventParticipant{}).Where("user_id = ?", userID).Count(&p.EventCount).Error; err != nil {
		return nil, storeError("count events", err)
	}
	if err := db.Where("user_id = ?", userID).Find(&p.Connections).Error; err != nil {
		return nil, storeError("list connections", err)
	}
	return p, nil
}

// PublicProfile is another member's profile as seen by a signed-in user.
type PublicProfile struct {
	User        *models.User        `json:"user"`
	Stats       StatsSnapshot       `json:"stats"`
	Badges      []models.UserBadge  `json:"badges"`
	Connections []models.Connection `json:"connections"`
}

// GetPublicProfile returns userID's profile with badges, stats and
// connections. Email is withheld.
func (s *UserService) GetPublicProfile(ctx context.Context, userID string) (*PublicProfile, error) {
	db := s.DB.WithContext(ctx)
	var user models.User
	if err := db.Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, storeError("load user", notFound(err, ErrUserNotFound))
	}
	user.Email = nil

	stats, err := s.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &PublicProfile{User: &user, Stats: *stats}
	if err := db.Preload("Badge").Where("user_id = ?", userID).Order("earned_at DESC").Find(&p.Badges).Error; err != nil {
		return nil, storeError("list badges", err)
	}
	if err := db.Where("user_id = ?", userID).Order("connected_at DESC").Find(&p.Connections).Error; err != nil {
		return nil, storeError("list connections", err)
	}
	return p, nil
}

// LeaderboardKind selects the ranking column.
type LeaderboardKind string

const (
	LeaderboardPoints LeaderboardKind = "points"
	LeaderboardBadges LeaderboardKind = "badges"
	LeaderboardEvents LeaderboardKind = "events"
)

type LeaderboardEntry struct {
	UserID          string  `json:"user_id"`
	Username        string  `json:"username"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
	Value           int64   `json:"value"`
}

func (s *UserService) Leaderboard(ctx context.Context, kind LeaderboardKind, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 || limit > 100 {
		limit = 10
	}
	q := s.DB.WithContext(ctx).Table("users")
	switch kind {
	case LeaderboardPoints, "":
		q = q.Select("users.id AS user_id, users.username, users.profile_image_url, user_stats.total_points AS value").
			Joins("JOIN user_stats ON user_stats.user_id = users.id").
			Order("user_stats.total_points DESC")
	case LeaderboardEvents:
		q = q.Select("users.id AS user_id, users.username, users.profile_image_url, user_stats.total_events_joined AS value").
			Joins("JOIN user_stats ON user_stats.user_id = users.id").
			Order("user_stats.total_events_joined DESC")
	case LeaderboardBadges:
		q = q.Select("users.id AS user_id, users.username, users.profile_image_url, users.total_achievements AS value").
			Order("users.total_achievements DESC")
	default:
		return nil, invalid("unknown leaderboard type %q", kind)
	}

	var entries []LeaderboardEntry
	if err := q.Order("users.created_at ASC").Limit(limit).Scan(&entries).Error; err != nil {
		return nil, storeError("leaderboard", err)
	}
	return entries, nil
}

// DeleteUser removes the user and everything it owns in one transaction.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	err := runTx(ctx, s.DB, "delete user", func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}

		var eventIDs []string
		if err := tx.Model(&models.EventParticipant{}).Where("user_id = ?", userID).Pluck("event_id", &eventIDs).Error; err != nil {
			return err
		}
		if len(eventIDs) > 0 {
			if err := tx.Model(&models.Event{}).Where("id IN ?", eventIDs).
				UpdateColumn("participant_count", decrementFloor("participant_count")).Error; err != nil {
				return err
			}
		}

		for _, owned := range []any{
			&models.EventParticipant{},
			&models.UserBadge{},
			&models.Connection{},
			&models.UserStats{},
		} {
			if err := tx.Where("user_id = ?", userID).Delete(owned).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", userID).Delete(&models.User{}).Error
	})
	if err != nil {
		return err
	}

	s.Log.Info("user deleted", zap.String("user_id", userID))
	return nil
}
