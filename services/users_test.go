package services

import (
	"testing"
	"time"

	"community-rewards-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCompletionScore(t *testing.T) {
	wallet := "0x52908400098527886e0f7030069857d2e4169ee7"
	defaultHandle := DefaultHandle(wallet)

	tests := []struct {
		name     string
		user     models.User
		verified int64
		want     int
	}{
		{"default handle only", models.User{Username: defaultHandle, WalletAddress: &wallet}, 0, 0},
		{"custom handle", models.User{Username: "alice", WalletAddress: &wallet}, 0, 20},
		{"handle and image", models.User{Username: "alice", ProfileImageURL: ptr("https://img")}, 0, 40},
		{"empty image ignored", models.User{Username: "alice", ProfileImageURL: ptr("")}, 0, 20},
		{"email", models.User{Username: "alice", Email: ptr("a@example.com")}, 0, 40},
		{"two connections", models.User{Username: defaultHandle, WalletAddress: &wallet}, 2, 20},
		{"connections capped", models.User{Username: defaultHandle, WalletAddress: &wallet}, 9, 40},
		{"everything", models.User{Username: "alice", ProfileImageURL: ptr("x"), Email: ptr("a@b.c")}, 5, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompletionScore(&tt.user, tt.verified)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestConnectionsDriveCompletion(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	user := createUser(t, db, "alice")

	_, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{Platform: "myspace", PlatformUsername: "a"})
	assert.ErrorIs(t, err, ErrInvalidPlatform)
	_, err = svc.AddConnection(t.Context(), user.ID, ConnectionInput{Platform: models.PlatformTwitter})
	assert.Equal(t, KindValidation, KindOf(err))
	_, err = svc.AddConnection(t.Context(), "ghost", ConnectionInput{Platform: models.PlatformTwitter, PlatformUsername: "a"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	conn, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{
		Platform: models.PlatformTwitter, PlatformUsername: "alice_x", IsVerified: ptr(true),
	})
	require.NoError(t, err)
	assert.True(t, conn.IsVerified)
	assert.Equal(t, 30, statsOf(t, db, user.ID).AccountCompletion)

	// Re-adding updates in place; a different handle is a different account.
	again, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{Platform: models.PlatformTwitter, PlatformUsername: "alice_y"})
	require.NoError(t, err)
	assert.Equal(t, conn.ID, again.ID)
	assert.Equal(t, "alice_y", again.PlatformUsername)
	assert.False(t, again.IsVerified)
	assert.Equal(t, 20, statsOf(t, db, user.ID).AccountCompletion)

	conns, err := svc.Connections(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Len(t, conns, 1)

	_, err = svc.AddConnection(t.Context(), user.ID, ConnectionInput{
		Platform: models.PlatformTwitter, PlatformUsername: "alice_y", IsVerified: ptr(true),
	})
	require.NoError(t, err)

	// Recomputing without changes is stable.
	score, err := svc.UpdateAccountCompletion(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, score)

	require.NoError(t, svc.RemoveConnection(t.Context(), user.ID, models.PlatformTwitter))
	assert.Equal(t, 20, statsOf(t, db, user.ID).AccountCompletion)
	assert.ErrorIs(t, svc.RemoveConnection(t.Context(), user.ID, models.PlatformTwitter), ErrConnectionNotFound)
	assert.ErrorIs(t, svc.RemoveConnection(t.Context(), user.ID, "myspace"), ErrInvalidPlatform)
}

func TestRepointedConnectionLosesVerification(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	user := createUser(t, db, "dana")

	_, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{
		Platform: models.PlatformDiscord, PlatformUsername: "dana", PlatformID: ptr("111"), IsVerified: ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 30, statsOf(t, db, user.ID).AccountCompletion)

	// Same account under a new display name stays verified.
	renamed, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{
		Platform: models.PlatformDiscord, PlatformUsername: "dana_renamed", PlatformID: ptr("111"),
	})
	require.NoError(t, err)
	assert.True(t, renamed.IsVerified)
	assert.Equal(t, 30, statsOf(t, db, user.ID).AccountCompletion)

	// Pointing the link at another account drops verification.
	moved, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{
		Platform: models.PlatformDiscord, PlatformUsername: "someone", PlatformID: ptr("999"),
	})
	require.NoError(t, err)
	assert.False(t, moved.IsVerified)
	require.NotNil(t, moved.PlatformID)
	assert.Equal(t, "999", *moved.PlatformID)
	assert.Equal(t, 20, statsOf(t, db, user.ID).AccountCompletion)
}

func TestUpdateProfile(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	alice := createUser(t, db, "alice")
	createUser(t, db, "bob")

	_, err := svc.UpdateProfile(t.Context(), alice.ID, ProfileUpdate{Email: ptr("a@example.com")}, false)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.UpdateProfile(t.Context(), alice.ID, ProfileUpdate{Username: ptr("bob")}, false)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.UpdateProfile(t.Context(), alice.ID, ProfileUpdate{Username: ptr("  ")}, false)
	assert.Equal(t, KindValidation, KindOf(err))

	updated, err := svc.UpdateProfile(t.Context(), alice.ID, ProfileUpdate{
		Username:        ptr("alice2"),
		ProfileImageURL: ptr("https://img/alice.png"),
		Email:           ptr(" Alice@Example.com "),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "alice2", updated.Username)
	assert.Equal(t, models.RoleUser, updated.Role)

	stored := reloadUser(t, db, alice.ID)
	require.NotNil(t, stored.Email)
	assert.Equal(t, "alice@example.com", *stored.Email)
	assert.Equal(t, 60, statsOf(t, db, alice.ID).AccountCompletion)

	_, err = svc.UpdateProfile(t.Context(), "ghost", ProfileUpdate{}, false)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPromoteToAdmin(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	admin := createUser(t, db, "root")
	require.NoError(t, db.Model(admin).Update("role", models.RoleAdmin).Error)
	member := createUser(t, db, "member")
	other := createUser(t, db, "other")

	_, err := svc.PromoteToAdmin(t.Context(), member.ID, other.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	promoted, err := svc.PromoteToAdmin(t.Context(), admin.ID, member.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, promoted.Role)
	assert.Equal(t, models.RoleSourceManual, reloadUser(t, db, member.ID).RoleSource)

	_, err = svc.PromoteToAdmin(t.Context(), admin.ID, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetStatsAndProfile(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())

	_, err := svc.GetStats(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	bare := &models.User{Username: "bare"}
	require.NoError(t, db.Create(bare).Error)
	snap, err := svc.GetStats(t.Context(), bare.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalPoints)
	assert.Zero(t, snap.TotalEventsJoined)
	assert.NotNil(t, snap.AchievementProgress)

	badges := NewBadgeService(db, nopLogger())
	b := createBadge(t, badges, "Star", "fun", 15)
	_, err = badges.AwardBadge(t.Context(), bare.ID, b.ID)
	require.NoError(t, err)

	profile, err := svc.GetProfile(t.Context(), bare.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, profile.BadgeCount)
	assert.EqualValues(t, 15, profile.Stats.TotalPoints)
	assert.EqualValues(t, 1, profile.Stats.TotalAchievements)
	assert.Equal(t, models.CategoryProgress{Completed: 1, Total: 1}, profile.Stats.AchievementProgress["fun"])
}

func TestLeaderboard(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	badges := NewBadgeService(db, nopLogger())
	low := createUser(t, db, "low")
	high := createUser(t, db, "high")
	big := createBadge(t, badges, "Big", "misc", 100)
	small := createBadge(t, badges, "Small", "misc", 1)
	extra := createBadge(t, badges, "Extra", "misc", 1)

	_, err := badges.AwardBadge(t.Context(), high.ID, big.ID)
	require.NoError(t, err)
	for _, b := range []*models.Badge{small, extra} {
		_, err := badges.AwardBadge(t.Context(), low.ID, b.ID)
		require.NoError(t, err)
	}

	points, err := svc.Leaderboard(t.Context(), LeaderboardPoints, 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, high.ID, points[0].UserID)
	assert.EqualValues(t, 100, points[0].Value)

	byBadges, err := svc.Leaderboard(t.Context(), LeaderboardBadges, 1)
	require.NoError(t, err)
	require.Len(t, byBadges, 1)
	assert.Equal(t, low.ID, byBadges[0].UserID)
	assert.EqualValues(t, 2, byBadges[0].Value)

	_, err = svc.Leaderboard(t.Context(), "karma", 10)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestDeleteUserCascades(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	events := NewEventService(db, nopLogger())
	badges := NewBadgeService(db, nopLogger())
	user := createUser(t, db, "leaving")
	stays := createUser(t, db, "stays")
	ev := createPublishedEvent(t, events, nil)
	b := createBadge(t, badges, "Gone", "misc", 5)

	for _, u := range []*models.User{user, stays} {
		_, err := events.RegisterForEvent(t.Context(), u.ID, ev.ID)
		require.NoError(t, err)
	}
	_, err := badges.AwardBadge(t.Context(), user.ID, b.ID)
	require.NoError(t, err)
	_, err = svc.AddConnection(t.Context(), user.ID, ConnectionInput{Platform: models.PlatformTelegram, PlatformUsername: "tg"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(t.Context(), user.ID))

	assert.EqualValues(t, 1, eventCount(t, events, ev.ID))
	for _, owned := range []any{&models.EventParticipant{}, &models.UserBadge{}, &models.Connection{}, &models.UserStats{}} {
		var n int64
		require.NoError(t, db.Model(owned).Where("user_id = ?", user.ID).Count(&n).Error)
		assert.Zero(t, n)
	}
	assert.ErrorIs(t, svc.DeleteUser(t.Context(), user.ID), ErrUserNotFound)
}

func TestGetPublicProfile(t *testing.T) {
	db := setupDB(t)
	svc := NewUserService(db, nopLogger())
	badges := NewBadgeService(db, nopLogger())
	user := createUser(t, db, "public")
	require.NoError(t, db.Model(user).Update("email", "public@example.com").Error)
	first := createBadge(t, badges, "First", "events", 10)
	second := createBadge(t, badges, "Second", "community", 5)

	for _, b := range []*models.Badge{first, second} {
		_, err := badges.AwardBadge(t.Context(), user.ID, b.ID)
		require.NoError(t, err)
	}
	require.NoError(t, db.Model(&models.UserBadge{}).Where("badge_id = ?", first.ID).
		Update("earned_at", time.Now().UTC().Add(-time.Hour)).Error)
	_, err := svc.AddConnection(t.Context(), user.ID, ConnectionInput{Platform: models.PlatformTelegram, PlatformUsername: "pub"})
	require.NoError(t, err)

	p, err := svc.GetPublicProfile(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Nil(t, p.User.Email)
	require.Len(t, p.Badges, 2)
	assert.Equal(t, second.ID, p.Badges[0].BadgeID)
	require.NotNil(t, p.Badges[0].Badge)
	assert.Equal(t, "Second", p.Badges[0].Badge.Name)
	assert.Equal(t, first.ID, p.Badges[1].BadgeID)
	assert.EqualValues(t, 15, p.Stats.TotalPoints)
	assert.Len(t, p.Stats.BadgeDistribution, 2)
	assert.Len(t, p.Connections, 1)

	// The stored row keeps the address.
	require.NotNil(t, reloadUser(t, db, user.ID).Email)

	_, err = svc.GetPublicProfile(t.Context(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
