package services

import (
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"community-rewards-system/internal/testhelpers"
	"community-rewards-system/models"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testhelpers.SetupTestDB(t)
}

// signPersonal produces a wallet-style personal_sign signature (V = 27/28).
func signPersonal(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func newTokens(t *testing.T) *TokenIssuer {
	t.Helper()
	tokens, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	return tokens
}

func createUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username}
	require.NoError(t, db.Create(u).Error)
	require.NoError(t, ensureStats(db, u.ID))
	return u
}

func createBadge(t *testing.T, svc *BadgeService, name, category string, points int64) *models.Badge {
	t.Helper()
	b, err := svc.CreateBadge(t.Context(), BadgeInput{
		Name:        name,
		Description: fmt.Sprintf("%s badge", name),
		ImageURL:    "https://cdn.example.com/" + name + ".png",
		Category:    category,
		Points:      points,
	})
	require.NoError(t, err)
	return b
}

func statsOf(t *testing.T, db *gorm.DB, userID string) *models.UserStats {
	t.Helper()
	var s models.UserStats
	require.NoError(t, db.Where("user_id = ?", userID).First(&s).Error)
	return &s
}

func reloadUser(t *testing.T, db *gorm.DB, userID string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.Where("id = ?", userID).First(&u).Error)
	return u
}

func nopLogger() *zap.Logger { return zap.NewNop() }
