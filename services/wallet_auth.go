package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"community-rewards-system/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const nonceBytes = 32

// IdentitySummary is the public view of a user returned after login.
type IdentitySummary struct {
	ID              string      `json:"id"`
	Username        string      `json:"username"`
	Role            models.Role `json:"role"`
	ProfileImageURL *string     `json:"profile_image_url,omitempty"`
	WalletAddress   *string     `json:"wallet_address,omitempty"`
}

func Summarize(u *models.User) *IdentitySummary {
	return &IdentitySummary{
		ID:              u.ID,
		Username:        u.Username,
		Role:            u.Role,
		ProfileImageURL: u.ProfileImageURL,
		WalletAddress:   u.WalletAddress,
	}
}

// DefaultHandle is the username given to identities created from a wallet.
func DefaultHandle(address string) string {
	return "user_" + NormalizeAddress(address)[2:]
}

// WalletAuthService runs the nonce challenge/response handshake.
type WalletAuthService struct {
	DB     *gorm.DB
	Tokens *TokenIssuer
	Log    *zap.Logger

	recoverAddress func(message, signature string) (string, error)
	newNonce       func() (string, error)
}

func NewWalletAuthService(db *gorm.DB, tokens *TokenIssuer, log *zap.Logger) *WalletAuthService {
	return &WalletAuthService{
		DB:             db,
		Tokens:         tokens,
		Log:            log,
		recoverAddress: RecoverAddress,
		newNonce:       generateNonce,
	}
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// InitiateWalletAuth issues a fresh challenge for address, creating the
// identity on first use. A second call overwrites the outstanding nonce.
func (s *WalletAuthService) InitiateWalletAuth(ctx context.Context, address string) (string, string, error) {
	if !ValidAddress(address) {
		return "", "", ErrInvalidAddress
	}
	addr := NormalizeAddress(address)

	user, err := s.findOrCreateWalletUser(ctx, addr)
	if err != nil {
		s.Log.Error("wallet auth: identity lookup failed", zap.String("address", addr), zap.Error(err))
		return "", "", err
	}

	nonce, err := s.newNonce()
	if err != nil {
		return "", "", err
	}
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("nonce", nonce)
	if res.Error != nil {
		return "", "", storeError("store nonce", res.Error)
	}
	if res.RowsAffected == 0 {
		// deleted between lookup and update
		return "", "", ErrInvalidAuth
	}

	s.Log.Debug("wallet challenge issued", zap.String("user_id", user.ID))
	return user.ID, nonce, nil
}

func (s *WalletAuthService) findOrCreateWalletUser(ctx context.Context, addr string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("wallet_address = ?", addr).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storeError("find wallet identity", err)
	}

	user = models.User{
		Username:      DefaultHandle(addr),
		WalletAddress: &addr,
		Role:          models.RoleUser,
		RoleSource:    models.RoleSourceDefault,
	}
	err = runTx(ctx, s.DB, "create wallet identity", func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if err := ensureStats(tx, user.ID); err != nil {
			return err
		}
		conn := models.Connection{
			UserID:           user.ID,
			Platform:         models.PlatformPortalWallet,
			PlatformUsername: addr,
			PlatformID:       &addr,
			IsVerified:       true,
		}
		if err := tx.Create(&conn).Error; err != nil {
			return err
		}
		_, err := recomputeCompletion(tx, user.ID)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent initiate created the identity first.
		var existing models.User
		if err := s.DB.WithContext(ctx).Where("wallet_address = ?", addr).First(&existing).Error; err != nil {
			return nil, storeError("reload wallet identity", err)
		}
		return &existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.Log.Info("wallet identity created", zap.String("user_id", user.ID), zap.String("address", addr))
	return &user, nil
}

// VerifyWalletAuth checks signature against the outstanding nonce and, on
// success, consumes the nonce and returns a bearer token.
func (s *WalletAuthService) VerifyWalletAuth(ctx context.Context, userID, address, signature string) (string, *IdentitySummary, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidAuth
		}
		return "", nil, storeError("load identity", err)
	}
	if user.Nonce == nil || *user.Nonce == "" {
		return "", nil, ErrInvalidAuth
	}
	nonce := *user.Nonce

	recovered, err := s.recoverAddress(ChallengeMessage(nonce), signature)
	if err != nil || !SameAddress(recovered, address) {
		s.Log.Info("wallet signature rejected", zap.String("user_id", user.ID), zap.NamedError("cause", err))
		return "", nil, ErrInvalidSignature
	}
	if user.WalletAddress == nil || !SameAddress(*user.WalletAddress, address) {
		return "", nil, ErrInvalidAuth
	}

	// Compare-and-clear: only one verifier can consume a given nonce.
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND nonce = ?", user.ID, nonce).
		Update("nonce", nil)
	if res.Error != nil {
		return "", nil, storeError("consume nonce", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", nil, ErrInvalidAuth
	}
	user.Nonce = nil

	token, _, err := s.Tokens.Issue(user.ID, user.Role)
	if err != nil {
		s.Log.Error("token signing failed", zap.String("user_id", user.ID), zap.Error(err))
		return "", nil, err
	}

	s.Log.Info("wallet login", zap.String("user_id", user.ID))
	return token, Summarize(&user), nil
}
