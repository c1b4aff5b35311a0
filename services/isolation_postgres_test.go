//go:build postgres

package services

import (
	"fmt"
	"sync"
	"testing"

	"community-rewards-system/internal/testhelpers"
	"community-rewards-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These run against a real postgres (TEST_DATABASE_URL, -tags postgres) so
// the unique-index upsert and the conditional seat update are exercised
// under interleaved transactions.

func TestAwardBadgeConcurrentPostgres(t *testing.T) {
	db := testhelpers.SetupPostgresTestDB(t)
	svc := NewBadgeService(db, nopLogger())
	user := createUser(t, db, "pg-carol")
	badge := createBadge(t, svc, "Early Bird", "events", 50)

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AwardBadge(t.Context(), user.ID, badge.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyAwarded)
	}
	assert.Equal(t, 1, ok)
	assert.EqualValues(t, 1, reloadUser(t, db, user.ID).TotalAchievements)
	assert.EqualValues(t, 50, statsOf(t, db, user.ID).TotalPoints)
}

func TestRegisterForEventCapacityPostgres(t *testing.T) {
	db := testhelpers.SetupPostgresTestDB(t)
	svc := NewEventService(db, nopLogger())
	capacity := 3
	ev := createPublishedEvent(t, svc, &capacity)

	const callers = 20
	users := make([]*models.User, callers)
	for i := range users {
		users[i] = createUser(t, db, fmt.Sprintf("pg-user-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RegisterForEvent(t.Context(), users[i].ID, ev.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrEventFull)
	}
	assert.Equal(t, capacity, ok)
	assert.EqualValues(t, capacity, eventCount(t, svc, ev.ID))

	var rows int64
	require.NoError(t, db.Model(&models.EventParticipant{}).Where("event_id = ?", ev.ID).Count(&rows).Error)
	assert.EqualValues(t, capacity, rows)
}

func TestVerifyWalletAuthConcurrentPostgres(t *testing.T) {
	db := testhelpers.SetupPostgresTestDB(t)
	svc := NewWalletAuthService(db, newTokens(t), nopLogger())
	key, addr := newWallet(t)

	userID, nonce, err := svc.InitiateWalletAuth(t.Context(), addr)
	require.NoError(t, err)
	sig := signPersonal(t, key, ChallengeMessage(nonce))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.VerifyWalletAuth(t.Context(), userID, addr, sig)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
}

func TestReconcilerAlongsideAwardsPostgres(t *testing.T) {
	db := testhelpers.SetupPostgresTestDB(t)
	badges := NewBadgeService(db, nopLogger())
	r := NewReconciler(db, nopLogger())
	user := createUser(t, db, "pg-busy")

	const awards = 8
	var wg sync.WaitGroup
	for i := range awards {
		b := createBadge(t, badges, fmt.Sprintf("Badge %d", i), fmt.Sprintf("cat-%d", i), 10)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := badges.AwardBadge(t.Context(), user.ID, b.ID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := r.Run(t.Context())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10*awards, statsOf(t, db, user.ID).TotalPoints)
	assert.EqualValues(t, awards, reloadUser(t, db, user.ID).TotalAchievements)
}
