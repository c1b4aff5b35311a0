package services

import (
	"context"
	"errors"
	"time"

	"community-rewards-system/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciler recomputes materialized counters from their source rows and
// grants attendance rewards whose award is missing.
type Reconciler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewReconciler(db *gorm.DB, log *zap.Logger) *Reconciler {
	return &Reconciler{DB: db, Log: log}
}

type ReconcileReport struct {
	UsersChecked   int
	UsersFixed     int
	EventsFixed    int
	AwardsGranted  int
	RewardsGranted int
}

type pendingAward struct {
	UserID  string
	BadgeID string
	EventID string
}

// Run performs one full pass. Pending awards go first so the counter pass
// sees them.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	granted, err := r.grantPendingAttendanceAwards(ctx)
	report.AwardsGranted = granted
	if err != nil {
		return report, err
	}

	fixed, err := r.fixEventCounts(ctx)
	report.EventsFixed = fixed
	if err != nil {
		return report, err
	}

	var userIDs []string
	if err := r.DB.WithContext(ctx).Model(&models.User{}).Order("created_at ASC").Pluck("id", &userIDs).Error; err != nil {
		return report, storeError("list users", err)
	}
	for _, id := range userIDs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		changed, rewards, err := r.reconcileUser(ctx, id)
		report.RewardsGranted += rewards
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return report, err
		}
		report.UsersChecked++
		if changed {
			report.UsersFixed++
		}
	}
	return report, nil
}

func (r *Reconciler) grantPendingAttendanceAwards(ctx context.Context) (int, error) {
	var pending []pendingAward
	err := r.DB.WithContext(ctx).Table("event_participants").
		Select("event_participants.user_id AS user_id, events.reward_badge_id AS badge_id, events.id AS event_id").
		Joins("JOIN events ON events.id = event_participants.event_id").
		Where("event_participants.attended = ? AND events.reward_badge_id IS NOT NULL", true).
		Where("NOT EXISTS (SELECT 1 FROM user_badges WHERE user_badges.user_id = event_participants.user_id AND user_badges.badge_id = events.reward_badge_id)").
		Scan(&pending).Error
	if err != nil {
		return 0, storeError("find pending awards", err)
	}

	granted := 0
	for _, p := range pending {
		err := runTx(ctx, r.DB, "grant pending award", func(tx *gorm.DB) error {
			_, err := awardInTx(tx, p.UserID, p.BadgeID)
			return err
		})
		switch {
		case err == nil:
			granted++
			r.Log.Warn("granted missing attendance award",
				zap.String("user_id", p.UserID), zap.String("badge_id", p.BadgeID), zap.String("event_id", p.EventID))
		case errors.Is(err, ErrAlreadyAwarded), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrBadgeNotFound):
		default:
			return granted, err
		}
	}
	return granted, nil
}

func (r *Reconciler) fixEventCounts(ctx context.Context) (int, error) {
	const actual = "(SELECT COUNT(*) FROM event_participants WHERE event_participants.event_id = events.id)"
	res := r.DB.WithContext(ctx).Model(&models.Event{}).
		Where("participant_count <> " + actual).
		UpdateColumn("participant_count", gorm.Expr(actual))
	if res.Error != nil {
		return 0, storeError("fix event counts", res.Error)
	}
	if res.RowsAffected > 0 {
		r.Log.Warn("event participant counts corrected", zap.Int64("events", res.RowsAffected))
	}
	return int(res.RowsAffected), nil
}

// reconcileUser locks the user's rows, grants completion rewards the user is
// owed, then rewrites the counters from their source rows. Concurrent awards
// and registrations touch the same rows, so they either land before the
// counts are read or apply their increments after the rewrite.
func (r *Reconciler) reconcileUser(ctx context.Context, userID string) (bool, int, error) {
	changed := false
	rewards := 0
	err := runTx(ctx, r.DB, "reconcile user", func(tx *gorm.DB) error {
		var user models.User
		// NO KEY UPDATE leaves the key-share locks of concurrent award inserts alone.
		if err := tx.Clauses(clause.Locking{Strength: "NO KEY UPDATE"}).Where("id = ?", userID).First(&user).Error; err != nil {
			return notFound(err, ErrUserNotFound)
		}
		stats, err := lockStats(tx, userID)
		if err != nil {
			return err
		}

		var categories []string
		if err := tx.Table("user_badges").
			Joins("JOIN badges ON badges.id = user_badges.badge_id").
			Where("user_badges.user_id = ?", userID).
			Distinct().
			Pluck("badges.category", &categories).Error; err != nil {
			return err
		}
		for _, category := range categories {
			n, err := fireCompletionRewards(tx, userID, category)
			if err != nil {
				return err
			}
			if n > 0 {
				r.Log.Warn("granted missing completion rewards",
					zap.String("user_id", userID), zap.String("category", category), zap.Int("count", n))
			}
			rewards += n
		}
		if rewards > 0 {
			// Grants bumped the counters; compare against the bumped values.
			changed = true
			if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
				return err
			}
			if err := tx.Where("user_id = ?", userID).First(stats).Error; err != nil {
				return err
			}
		}

		var events, awards int64
		if err := tx.Model(&models.EventParticipant{}).Where("user_id = ?", userID).Count(&events).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.UserBadge{}).Where("user_id = ?", userID).Count(&awards).Error; err != nil {
			return err
		}
		var points struct{ Total int64 }
		if err := tx.Table("user_badges").
			Select("COALESCE(SUM(badges.points), 0) AS total").
			Joins("JOIN badges ON badges.id = user_badges.badge_id").
			Where("user_badges.user_id = ?", userID).
			Scan(&points).Error; err != nil {
			return err
		}

		if stats.TotalEventsJoined != events || stats.TotalPoints != points.Total {
			changed = true
			r.Log.Warn("user stats drift corrected",
				zap.String("user_id", userID),
				zap.Int64("events_before", stats.TotalEventsJoined), zap.Int64("events_after", events),
				zap.Int64("points_before", stats.TotalPoints), zap.Int64("points_after", points.Total),
			)
			if err := tx.Model(&models.UserStats{}).Where("user_id = ?", userID).Updates(map[string]any{
				"total_events_joined": events,
				"total_points":        points.Total,
				"updated_at":          time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}
		if user.TotalAchievements != awards {
			changed = true
			r.Log.Warn("achievement count drift corrected",
				zap.String("user_id", userID),
				zap.Int64("before", user.TotalAchievements), zap.Int64("after", awards),
			)
			if err := tx.Model(&models.User{}).Where("id = ?", userID).
				UpdateColumn("total_achievements", awards).Error; err != nil {
				return err
			}
		}
		if _, err := recomputeCompletion(tx, userID); err != nil {
			return err
		}
		return refreshAchievementProgress(tx, userID)
	})
	return changed, rewards, err
}
