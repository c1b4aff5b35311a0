package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"community-rewards-system/models"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewBadgeService(db *gorm.DB, log *zap.Logger) *BadgeService {
	return &BadgeService{DB: db, Log: log}
}

// BadgeInput is the catalog data for a new badge.
type BadgeInput struct {
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	ImageURL          string  `json:"image_url"`
	Category          string  `json:"category"`
	Points            int64   `json:"points"`
	CompletesCategory *string `json:"completes_category,omitempty"`
}

// CategoryStatus is a user's standing within one badge category.
type CategoryStatus struct {
	Category   string         `json:"category"`
	Total      int64          `json:"total"`
	Earned     int64          `json:"earned"`
	Percentage float64        `json:"percentage"`
	Remaining  []models.Badge `json:"remaining"`
}

var categoryFolder = cases.Fold()

// FoldCategory normalizes a category tag so "Events" and "events" match.
func FoldCategory(category string) string {
	return categoryFolder.String(strings.TrimSpace(category))
}

func (s *BadgeService) CreateBadge(ctx context.Context, in BadgeInput) (*models.Badge, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, invalid("name is required")
	}
	category := FoldCategory(in.Category)
	if category == "" {
		return nil, invalid("category is required")
	}
	if in.Points < 0 {
		return nil, invalid("points must not be negative")
	}
	badgeSlug := slug.Make(in.Name)
	if badgeSlug == "" {
		return nil, invalid("name must contain letters or digits")
	}

	badge := models.Badge{
		Name:        in.Name,
		Slug:        badgeSlug,
		Description: strings.TrimSpace(in.Description),
		ImageURL:    in.ImageURL,
		Category:    category,
		Points:      in.Points,
	}
	if in.CompletesCategory != nil {
		if target := FoldCategory(*in.CompletesCategory); target != "" {
			badge.CompletesCategory = &target
		}
	}

	err := runTx(ctx, s.DB, "create badge", func(tx *gorm.DB) error {
		if err := tx.Create(&badge).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrBadgeExists
			}
			return err
		}
		affected, err := categoryHolders(tx, badge.Category)
		if err != nil {
			return err
		}
		if badge.CompletesCategory != nil {
			// Users who already finished the target category earn the new reward now.
			candidates, err := categoryHolders(tx, *badge.CompletesCategory)
			if err != nil {
				return err
			}
			for _, uid := range candidates {
				if _, err := fireCompletionRewards(tx, uid, *badge.CompletesCategory); err != nil {
					return err
				}
			}
			affected = append(affected, candidates...)
		}
		return refreshProgressFor(tx, affected)
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("badge created", zap.String("badge_id", badge.ID), zap.String("slug", badge.Slug), zap.String("category", badge.Category))
	return &badge, nil
}

func (s *BadgeService) GetBadge(ctx context.Context, badgeID string) (*models.Badge, error) {
	var badge models.Badge
	if err := s.DB.WithContext(ctx).Where("id = ?", badgeID).First(&badge).Error; err != nil {
		return nil, storeError("load badge", notFound(err, ErrBadgeNotFound))
	}
	return &badge, nil
}

// ListBadges returns the catalog, optionally limited to one category.
func (s *BadgeService) ListBadges(ctx context.Context, category string) ([]models.Badge, error) {
	q := s.DB.WithContext(ctx).Order("category ASC, points ASC, name ASC")
	if category = FoldCategory(category); category != "" {
		q = q.Where("category = ?", category)
	}
	var badges []models.Badge
	if err := q.Find(&badges).Error; err != nil {
		return nil, storeError("list badges", err)
	}
	return badges, nil
}

// AwardBadge grants badgeID to userID. The award row, the achievement count,
// the point total, the progress rollup and any category-completion rewards
// commit together or not at all.
func (s *BadgeService) AwardBadge(ctx context.Context, userID, badgeID string) (*models.UserBadge, error) {
	var award *models.UserBadge
	err := runTx(ctx, s.DB, "award badge", func(tx *gorm.DB) error {
		var err error
		award, err = awardInTx(tx, userID, badgeID)
		return err
	})
	switch {
	case errors.Is(err, ErrAlreadyAwarded):
		s.Log.Debug("badge already awarded", zap.String("user_id", userID), zap.String("badge_id", badgeID))
		return nil, err
	case err != nil:
		return nil, err
	}

	s.Log.Info("badge awarded", zap.String("user_id", userID), zap.String("badge_id", badgeID))
	return award, nil
}

// awardInTx is the award path shared by admin awards, attendance and the
// reconciler. It returns ErrAlreadyAwarded without writing anything when the
// pair already exists, so callers may keep using tx afterwards.
func awardInTx(tx *gorm.DB, userID, badgeID string) (*models.UserBadge, error) {
	if err := userExists(tx, userID); err != nil {
		return nil, err
	}
	var badge models.Badge
	if err := tx.Where("id = ?", badgeID).First(&badge).Error; err != nil {
		return nil, notFound(err, ErrBadgeNotFound)
	}

	award, created, err := grant(tx, userID, &badge)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAlreadyAwarded
	}

	if _, err := fireCompletionRewards(tx, userID, badge.Category); err != nil {
		return nil, err
	}
	if err := refreshAchievementProgress(tx, userID); err != nil {
		return nil, err
	}
	award.Badge = &badge
	return award, nil
}

// grant inserts the award and applies its counters. created is false when
// the unique (user, badge) index absorbed the insert.
func grant(tx *gorm.DB, userID string, badge *models.Badge) (*models.UserBadge, bool, error) {
	award := models.UserBadge{UserID: userID, BadgeID: badge.ID}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}},
		DoNothing: true,
	}).Create(&award)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}

	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("total_achievements", gorm.Expr("total_achievements + 1")).Error; err != nil {
		return nil, false, err
	}
	if err := bumpStats(tx, userID, map[string]int64{"total_points": badge.Points}); err != nil {
		return nil, false, err
	}
	return &award, true, nil
}

// fireCompletionRewards grants every badge whose CompletesCategory names a
// category the user has now completed, and returns how many it granted.
// Rewards may complete further categories; each completed category fires its
// rewards at most once.
func fireCompletionRewards(tx *gorm.DB, userID, category string) (int, error) {
	granted := 0
	queue := []string{category}
	seen := map[string]bool{}
	for len(queue) > 0 {
		cat := queue[0]
		queue = queue[1:]
		if seen[cat] {
			continue
		}

		done, err := categoryComplete(tx, userID, cat)
		if err != nil {
			return granted, err
		}
		if !done {
			continue
		}
		seen[cat] = true

		var rewards []models.Badge
		if err := tx.Where("completes_category = ?", cat).Find(&rewards).Error; err != nil {
			return granted, err
		}
		for i := range rewards {
			_, created, err := grant(tx, userID, &rewards[i])
			if err != nil {
				return granted, err
			}
			if created {
				granted++
				queue = append(queue, rewards[i].Category)
			}
		}
	}
	return granted, nil
}

// categoryComplete reports whether userID holds every badge of category,
// not counting the category's own completion rewards.
func categoryComplete(tx *gorm.DB, userID, category string) (bool, error) {
	var total, earned int64
	if err := tx.Model(&models.Badge{}).
		Where("category = ? AND (completes_category IS NULL OR completes_category <> ?)", category, category).
		Count(&total).Error; err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	if err := tx.Model(&models.UserBadge{}).
		Joins("JOIN badges ON badges.id = user_badges.badge_id").
		Where("user_badges.user_id = ? AND badges.category = ?", userID, category).
		Where("(badges.completes_category IS NULL OR badges.completes_category <> ?)", category).
		Count(&earned).Error; err != nil {
		return false, err
	}
	return earned >= total, nil
}

type progressRow struct {
	Category  string
	Total     int64
	Completed int64
}

// refreshAchievementProgress rebuilds the user's category rollup from the
// catalog and the user's awards.
func refreshAchievementProgress(tx *gorm.DB, userID string) error {
	var rows []progressRow
	if err := tx.Table("badges").
		Select("badges.category AS category, COUNT(badges.id) AS total, COUNT(user_badges.id) AS completed").
		Joins("LEFT JOIN user_badges ON user_badges.badge_id = badges.id AND user_badges.user_id = ?", userID).
		Group("badges.category").
		Scan(&rows).Error; err != nil {
		return err
	}

	progress := make(models.AchievementProgress, len(rows))
	for _, r := range rows {
		progress[r.Category] = models.CategoryProgress{Completed: r.Completed, Total: r.Total}
	}

	if err := ensureStats(tx, userID); err != nil {
		return err
	}
	return tx.Model(&models.UserStats{}).Where("user_id = ?", userID).Updates(map[string]any{
		"achievement_progress": datatypes.NewJSONType(progress),
		"updated_at":           time.Now().UTC(),
	}).Error
}

// categoryHolders lists the users holding at least one badge of category.
func categoryHolders(tx *gorm.DB, category string) ([]string, error) {
	var ids []string
	err := tx.Table("user_badges").
		Joins("JOIN badges ON badges.id = user_badges.badge_id").
		Where("badges.category = ?", category).
		Distinct().
		Pluck("user_badges.user_id", &ids).Error
	return ids, err
}

// refreshProgressFor rebuilds the rollup of each listed user once. Users who
// hold nothing in a changed category keep a stale total there until their
// next refresh; GetStats reads totals from the catalog.
func refreshProgressFor(tx *gorm.DB, userIDs []string) error {
	done := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if done[id] {
			continue
		}
		done[id] = true
		if err := refreshAchievementProgress(tx, id); err != nil {
			return err
		}
	}
	return nil
}

// catalogTotals counts badges per category.
func catalogTotals(db *gorm.DB) (map[string]int64, error) {
	var rows []progressRow
	if err := db.Model(&models.Badge{}).
		Select("category, COUNT(id) AS total").
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(rows))
	for _, r := range rows {
		totals[r.Category] = r.Total
	}
	return totals, nil
}

// withCatalogTotals returns progress with every catalog category present and
// each total taken from the catalog.
func withCatalogTotals(progress models.AchievementProgress, totals map[string]int64) models.AchievementProgress {
	out := make(models.AchievementProgress, len(totals))
	for category, total := range totals {
		completed := progress[category].Completed
		if completed > total {
			completed = total
		}
		out[category] = models.CategoryProgress{Completed: completed, Total: total}
	}
	return out
}

// RefreshAchievementProgress recomputes the cached category rollup for userID.
func (s *BadgeService) RefreshAchievementProgress(ctx context.Context, userID string) error {
	return runTx(ctx, s.DB, "refresh achievement progress", func(tx *gorm.DB) error {
		if err := userExists(tx, userID); err != nil {
			return err
		}
		return refreshAchievementProgress(tx, userID)
	})
}

// RevokeBadge removes an award and reverses its counters. Completion rewards
// already granted are kept.
func (s *BadgeService) RevokeBadge(ctx context.Context, userID, badgeID string) error {
	err := runTx(ctx, s.DB, "revoke badge", func(tx *gorm.DB) error {
		var badge models.Badge
		if err := tx.Where("id = ?", badgeID).First(&badge).Error; err != nil {
			return notFound(err, ErrBadgeNotFound)
		}
		res := tx.Where("user_id = ? AND badge_id = ?", userID, badgeID).Delete(&models.UserBadge{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotAwarded
		}
		if err := decrementAchievements(tx.Model(&models.User{}).Where("id = ?", userID)); err != nil {
			return err
		}
		if err := bumpStats(tx, userID, map[string]int64{"total_points": -badge.Points}); err != nil {
			return err
		}
		return refreshAchievementProgress(tx, userID)
	})
	if err != nil {
		return err
	}

	s.Log.Info("badge revoked", zap.String("user_id", userID), zap.String("badge_id", badgeID))
	return nil
}

func decrementAchievements(scope *gorm.DB) error {
	return scope.UpdateColumn("total_achievements", decrementFloor("total_achievements")).Error
}

// DeleteBadge removes the badge with all of its awards, taking its points and
// one achievement away from every holder.
func (s *BadgeService) DeleteBadge(ctx context.Context, badgeID string) error {
	var holders []string
	err := runTx(ctx, s.DB, "delete badge", func(tx *gorm.DB) error {
		var badge models.Badge
		if err := tx.Where("id = ?", badgeID).First(&badge).Error; err != nil {
			return notFound(err, ErrBadgeNotFound)
		}
		if err := tx.Model(&models.UserBadge{}).Where("badge_id = ?", badgeID).Pluck("user_id", &holders).Error; err != nil {
			return err
		}
		if err := tx.Where("badge_id = ?", badgeID).Delete(&models.UserBadge{}).Error; err != nil {
			return err
		}
		if len(holders) > 0 {
			if err := decrementAchievements(tx.Model(&models.User{}).Where("id IN ?", holders)); err != nil {
				return err
			}
			if err := tx.Model(&models.UserStats{}).Where("user_id IN ?", holders).Updates(map[string]any{
				"total_points": gorm.Expr("total_points - ?", badge.Points),
				"updated_at":   time.Now().UTC(),
			}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Event{}).Where("reward_badge_id = ?", badgeID).
			UpdateColumn("reward_badge_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&badge).Error; err != nil {
			return err
		}

		// The category shrank, so remaining holders may have just completed it.
		affected, err := categoryHolders(tx, badge.Category)
		if err != nil {
			return err
		}
		for _, uid := range affected {
			if _, err := fireCompletionRewards(tx, uid, badge.Category); err != nil {
				return err
			}
		}
		return refreshProgressFor(tx, append(affected, holders...))
	})
	if err != nil {
		return err
	}

	s.Log.Info("badge deleted", zap.String("badge_id", badgeID), zap.Int("holders", len(holders)))
	return nil
}

// CategorySummary counts badges and sums their points for one category.
type CategorySummary struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	Points   int64  `json:"points"`
}

// CategoryStats summarizes the catalog per category.
func (s *BadgeService) CategoryStats(ctx context.Context) ([]CategorySummary, error) {
	summaries := []CategorySummary{}
	err := s.DB.WithContext(ctx).Model(&models.Badge{}).
		Select("category, COUNT(id) AS count, COALESCE(SUM(points), 0) AS points").
		Group("category").
		Order("category ASC").
		Scan(&summaries).Error
	return summaries, storeError("category stats", err)
}

// badgeDistribution summarizes the badges userID holds per category.
func badgeDistribution(db *gorm.DB, userID string) ([]CategorySummary, error) {
	summaries := []CategorySummary{}
	err := db.Table("user_badges").
		Select("badges.category AS category, COUNT(user_badges.id) AS count, COALESCE(SUM(badges.points), 0) AS points").
		Joins("JOIN badges ON badges.id = user_badges.badge_id").
		Where("user_badges.user_id = ?", userID).
		Group("badges.category").
		Order("badges.category ASC").
		Scan(&summaries).Error
	return summaries, err
}

// CategoryProgress reports how far userID is through category.
func (s *BadgeService) CategoryProgress(ctx context.Context, userID, category string) (*CategoryStatus, error) {
	category = FoldCategory(category)
	if category == "" {
		return nil, invalid("category is required")
	}
	db := s.DB.WithContext(ctx)
	if err := userExists(db, userID); err != nil {
		return nil, storeError("load user", err)
	}

	var badges []models.Badge
	if err := db.Where("category = ?", category).Order("points ASC, name ASC").Find(&badges).Error; err != nil {
		return nil, storeError("list category badges", err)
	}
	var earnedIDs []string
	if err := db.Model(&models.UserBadge{}).
		Joins("JOIN badges ON badges.id = user_badges.badge_id").
		Where("user_badges.user_id = ? AND badges.category = ?", userID, category).
		Pluck("user_badges.badge_id", &earnedIDs).Error; err != nil {
		return nil, storeError("list earned badges", err)
	}

	earned := make(map[string]bool, len(earnedIDs))
	for _, id := range earnedIDs {
		earned[id] = true
	}
	status := &CategoryStatus{
		Category:  category,
		Total:     int64(len(badges)),
		Earned:    int64(len(earnedIDs)),
		Remaining: []models.Badge{},
	}
	for _, b := range badges {
		if !earned[b.ID] {
			status.Remaining = append(status.Remaining, b)
		}
	}
	if status.Total > 0 {
		status.Percentage = float64(status.Earned) / float64(status.Total) * 100
	}
	return status, nil
}

// HasCompletedCategory is true when userID holds every badge of a non-empty category.
func (s *BadgeService) HasCompletedCategory(ctx context.Context, userID, category string) (bool, error) {
	status, err := s.CategoryProgress(ctx, userID, category)
	if err != nil {
		return false, err
	}
	return status.Total > 0 && status.Earned >= status.Total, nil
}

// RecentAwards lists the latest awards across all users.
func (s *BadgeService) RecentAwards(ctx context.Context, limit int) ([]models.UserBadge, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var awards []models.UserBadge
	err := s.DB.WithContext(ctx).Preload("Badge").Order("earned_at DESC").Limit(limit).Find(&awards).Error
	return awards, storeError("recent awards", err)
}

func (s *BadgeService) UserBadges(ctx context.Context, userID string) ([]models.UserBadge, error) {
	db := s.DB.WithContext(ctx)
	if err := userExists(db, userID); err != nil {
		return nil, storeError("load user", err)
	}
	var awards []models.UserBadge
	err := db.Preload("Badge").Where("user_id = ?", userID).Order("earned_at DESC").Find(&awards).Error
	return awards, storeError("user badges", err)
}
