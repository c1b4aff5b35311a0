package services

import (
	"context"
	"time"

	"community-rewards-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// runTx executes fn in a single transaction. Any error rolls back every
// write fn made; non-domain errors come back as transient store errors.
func runTx(ctx context.Context, db *gorm.DB, op string, fn func(tx *gorm.DB) error) error {
	return storeError(op, db.WithContext(ctx).Transaction(fn))
}

// ensureStats creates the user's stats row if it does not exist yet.
// Safe under concurrent callers: the unique index on user_id absorbs races.
func ensureStats(tx *gorm.DB, userID string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.UserStats{UserID: userID}).Error
}

// bumpStats applies column increments (negative deltas decrement) to the
// user's stats, creating the row first when absent.
func bumpStats(tx *gorm.DB, userID string, deltas map[string]int64) error {
	if err := ensureStats(tx, userID); err != nil {
		return err
	}
	updates := make(map[string]any, len(deltas)+1)
	for column, delta := range deltas {
		updates[column] = gorm.Expr(column+" + ?", delta)
	}
	updates["updated_at"] = time.Now().UTC()
	return tx.Model(&models.UserStats{}).Where("user_id = ?", userID).Updates(updates).Error
}

// lockStats reads the user's stats row inside tx with a row lock, creating
// it when absent.
func lockStats(tx *gorm.DB, userID string) (*models.UserStats, error) {
	if err := ensureStats(tx, userID); err != nil {
		return nil, err
	}
	var stats models.UserStats
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

func userExists(tx *gorm.DB, userID string) error {
	var user models.User
	if err := tx.Select("id").Where("id = ?", userID).First(&user).Error; err != nil {
		return notFound(err, ErrUserNotFound)
	}
	return nil
}

// decrementFloor lowers column by one without going below zero.
func decrementFloor(column string) clause.Expr {
	return gorm.Expr("CASE WHEN " + column + " > 0 THEN " + column + " - 1 ELSE 0 END")
}
