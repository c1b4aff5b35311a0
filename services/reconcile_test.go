package services

import (
	"fmt"
	"sync"
	"testing"

	"community-rewards-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerRepairsDrift(t *testing.T) {
	db := setupDB(t)
	events := NewEventService(db, nopLogger())
	badges := NewBadgeService(db, nopLogger())
	user := createUser(t, db, "drifty")
	clean := createUser(t, db, "clean")
	reward := createBadge(t, badges, "Showed Up", "events", 40)
	ev := createPublishedEvent(t, events, nil)
	_, err := events.UpdateEvent(t.Context(), ev.ID, EventInput{RewardBadgeID: &reward.ID})
	require.NoError(t, err)
	_, err = events.RegisterForEvent(t.Context(), user.ID, ev.ID)
	require.NoError(t, err)

	// Attendance written behind the service's back leaves the award missing.
	require.NoError(t, db.Model(&models.EventParticipant{}).
		Where("event_id = ? AND user_id = ?", ev.ID, user.ID).
		Update("attended", true).Error)
	require.NoError(t, db.Model(&models.UserStats{}).Where("user_id = ?", user.ID).
		Updates(map[string]any{"total_points": 999, "total_events_joined": 5}).Error)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).Update("total_achievements", 7).Error)
	require.NoError(t, db.Model(&models.Event{}).Where("id = ?", ev.ID).UpdateColumn("participant_count", 9).Error)

	r := NewReconciler(db, nopLogger())
	report, err := r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, report.AwardsGranted)
	assert.Equal(t, 1, report.EventsFixed)
	assert.Equal(t, 2, report.UsersChecked)
	assert.Equal(t, 1, report.UsersFixed)

	stats := statsOf(t, db, user.ID)
	assert.EqualValues(t, 40, stats.TotalPoints)
	assert.EqualValues(t, 1, stats.TotalEventsJoined)
	assert.Equal(t, models.CategoryProgress{Completed: 1, Total: 1}, stats.Progress()["events"])
	assert.EqualValues(t, 1, reloadUser(t, db, user.ID).TotalAchievements)
	assert.EqualValues(t, 1, eventCount(t, events, ev.ID))
	assert.Zero(t, statsOf(t, db, clean.ID).TotalPoints)

	// A second pass finds nothing to do.
	report, err = r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{UsersChecked: 2}, report)
}

func TestReconcilerGrantsMissedCompletionRewards(t *testing.T) {
	db := setupDB(t)
	badges := NewBadgeService(db, nopLogger())
	user := createUser(t, db, "finisher")
	q1 := createBadge(t, badges, "Quest One", "quests", 10)
	q2 := createBadge(t, badges, "Quest Two", "quests", 10)
	quests := "quests"
	master, err := badges.CreateBadge(t.Context(), BadgeInput{Name: "Quest Master", Category: "meta", Points: 100, CompletesCategory: &quests})
	require.NoError(t, err)

	// Awards written behind the service's back skip the completion check.
	for _, b := range []*models.Badge{q1, q2} {
		require.NoError(t, db.Create(&models.UserBadge{UserID: user.ID, BadgeID: b.ID}).Error)
	}

	r := NewReconciler(db, nopLogger())
	report, err := r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RewardsGranted)
	assert.Equal(t, 1, report.UsersFixed)

	var held int64
	require.NoError(t, db.Model(&models.UserBadge{}).Where("user_id = ? AND badge_id = ?", user.ID, master.ID).Count(&held).Error)
	assert.EqualValues(t, 1, held)
	assert.EqualValues(t, 120, statsOf(t, db, user.ID).TotalPoints)
	assert.EqualValues(t, 3, reloadUser(t, db, user.ID).TotalAchievements)

	report, err = r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{UsersChecked: 1}, report)
}

func TestReconcilerAlongsideAwards(t *testing.T) {
	db := setupDB(t)
	badges := NewBadgeService(db, nopLogger())
	r := NewReconciler(db, nopLogger())

	const perUser = 4
	users := make([]*models.User, 3)
	for i := range users {
		users[i] = createUser(t, db, fmt.Sprintf("busy-%d", i))
	}
	catalog := make([]*models.Badge, perUser)
	for i := range catalog {
		catalog[i] = createBadge(t, badges, fmt.Sprintf("Badge %d", i), fmt.Sprintf("cat-%d", i), int64(5*(i+1)))
	}

	var wg sync.WaitGroup
	for _, u := range users {
		for _, b := range catalog {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := badges.AwardBadge(t.Context(), u.ID, b.ID)
				assert.NoError(t, err)
			}()
		}
	}
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Run(t.Context())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, u := range users {
		assert.EqualValues(t, 50, statsOf(t, db, u.ID).TotalPoints)
		assert.EqualValues(t, perUser, reloadUser(t, db, u.ID).TotalAchievements)
	}
	report, err := r.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{UsersChecked: len(users)}, report)
}
