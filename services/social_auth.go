package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"community-rewards-system/models"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ProviderDiscord = "discord"

// SocialAssertion is the identity a trusted OAuth callback hands over after
// the provider authenticated the user.
type SocialAssertion struct {
	Provider       string  `json:"provider"`
	ProviderUserID string  `json:"provider_user_id"`
	Username       string  `json:"username"`
	Email          *string `json:"email,omitempty"`
	Avatar         string  `json:"avatar,omitempty"` // provider avatar hash
	AccessToken    string  `json:"access_token"`
}

func (a SocialAssertion) avatarURL() *string {
	if a.Avatar == "" {
		return nil
	}
	u := fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", a.ProviderUserID, a.Avatar)
	return &u
}

// RoleResolver asks the identity provider which role a user should hold.
type RoleResolver interface {
	ResolveRole(ctx context.Context, providerUserID, accessToken string) (models.Role, error)
}

const discordAPIBase = "https://discord.com/api/v10"

// DiscordRoleResolver maps guild roles to admin: members holding the admin
// or moderator role in the configured guild are admins.
type DiscordRoleResolver struct {
	BaseURL         string
	ServerID        string
	BotToken        string
	AdminRoleID     string
	ModeratorRoleID string
	Client          *http.Client
}

func NewDiscordRoleResolver(serverID, botToken, adminRoleID, moderatorRoleID string) *DiscordRoleResolver {
	return &DiscordRoleResolver{
		BaseURL:         discordAPIBase,
		ServerID:        serverID,
		BotToken:        botToken,
		AdminRoleID:     adminRoleID,
		ModeratorRoleID: moderatorRoleID,
		Client:          &http.Client{Timeout: 10 * time.Second},
	}
}

type discordGuild struct {
	ID string `json:"id"`
}

type discordMember struct {
	Roles []string `json:"roles"`
}

func (r *DiscordRoleResolver) ResolveRole(ctx context.Context, providerUserID, accessToken string) (models.Role, error) {
	if r.ServerID == "" {
		return "", errors.New("discord: no server configured")
	}

	var guilds []discordGuild
	if err := r.get(ctx, "/users/@me/guilds", "Bearer "+accessToken, &guilds); err != nil {
		return "", err
	}
	inGuild := slices.ContainsFunc(guilds, func(g discordGuild) bool { return g.ID == r.ServerID })
	if !inGuild {
		return models.RoleUser, nil
	}

	var member discordMember
	path := fmt.Sprintf("/guilds/%s/members/%s", r.ServerID, providerUserID)
	if err := r.get(ctx, path, "Bot "+r.BotToken, &member); err != nil {
		return "", err
	}
	for _, id := range []string{r.AdminRoleID, r.ModeratorRoleID} {
		if id != "" && slices.Contains(member.Roles, id) {
			return models.RoleAdmin, nil
		}
	}
	return models.RoleUser, nil
}

func (r *DiscordRoleResolver) get(ctx context.Context, path, authorization string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(r.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)

	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord %s returned %d", path, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// SocialAuthService logs users in from provider assertions. The provider's
// view of the user's role is re-checked on every login.
type SocialAuthService struct {
	DB     *gorm.DB
	Tokens *TokenIssuer
	Roles  RoleResolver
	Log    *zap.Logger
}

func NewSocialAuthService(db *gorm.DB, tokens *TokenIssuer, roles RoleResolver, log *zap.Logger) *SocialAuthService {
	return &SocialAuthService{DB: db, Tokens: tokens, Roles: roles, Log: log}
}

// LinkSocialIdentity finds or creates the identity for the assertion, applies
// the role policy and returns a bearer token.
func (s *SocialAuthService) LinkSocialIdentity(ctx context.Context, a SocialAssertion) (string, *IdentitySummary, error) {
	if a.Provider != ProviderDiscord || strings.TrimSpace(a.ProviderUserID) == "" || strings.TrimSpace(a.Username) == "" {
		return "", nil, ErrProvider
	}

	var resolved models.Role
	var resolveErr error
	if s.Roles == nil {
		resolveErr = errors.New("no role resolver configured")
	} else {
		resolved, resolveErr = s.Roles.ResolveRole(ctx, a.ProviderUserID, a.AccessToken)
	}
	if resolveErr != nil {
		// Keep whatever role the identity already has.
		s.Log.Warn("provider role lookup failed", zap.String("provider_user_id", a.ProviderUserID), zap.Error(resolveErr))
	}

	user, err := s.upsertSocialIdentity(ctx, a, resolved, resolveErr == nil)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent login created the identity; the retry takes the update path.
		user, err = s.upsertSocialIdentity(ctx, a, resolved, resolveErr == nil)
	}
	if err != nil {
		s.Log.Error("social login failed", zap.String("provider_user_id", a.ProviderUserID), zap.Error(err))
		return "", nil, err
	}

	token, _, err := s.Tokens.Issue(user.ID, user.Role)
	if err != nil {
		return "", nil, err
	}

	s.Log.Info("social login", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return token, Summarize(user), nil
}

func (s *SocialAuthService) upsertSocialIdentity(ctx context.Context, a SocialAssertion, resolved models.Role, haveRole bool) (*models.User, error) {
	var user models.User
	err := runTx(ctx, s.DB, "link social identity", func(tx *gorm.DB) error {
		err := tx.Where("discord_id = ?", a.ProviderUserID).First(&user).Error
		switch {
		case err == nil:
			if haveRole {
				applyProviderRole(&user, resolved)
			}
			if user.Email == nil && a.Email != nil && *a.Email != "" {
				email := strings.ToLower(*a.Email)
				user.Email = &email
			}
			if user.ProfileImageURL == nil {
				user.ProfileImageURL = a.avatarURL()
			}
			if err := tx.Model(&user).Select("role", "role_source", "email", "profile_image_url").Updates(&user).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			handle, err := uniqueHandle(tx, a.Username, a.ProviderUserID)
			if err != nil {
				return err
			}
			discordID := a.ProviderUserID
			user = models.User{
				Username:        handle,
				DiscordID:       &discordID,
				ProfileImageURL: a.avatarURL(),
				Role:            models.RoleUser,
				RoleSource:      models.RoleSourceDefault,
			}
			if a.Email != nil && *a.Email != "" {
				email := strings.ToLower(*a.Email)
				user.Email = &email
			}
			if haveRole {
				applyProviderRole(&user, resolved)
			}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			if err := ensureStats(tx, user.ID); err != nil {
				return err
			}
		default:
			return err
		}

		verified := true
		if _, err := upsertConnection(tx, user.ID, ConnectionInput{
			Platform:         models.PlatformDiscord,
			PlatformUsername: a.Username,
			PlatformID:       &a.ProviderUserID,
			IsVerified:       &verified,
		}); err != nil {
			return err
		}
		_, err = recomputeCompletion(tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// applyProviderRole grants admin when the provider says so and takes it
// away only when the provider was the one that granted it.
func applyProviderRole(u *models.User, resolved models.Role) {
	switch {
	case resolved == models.RoleAdmin && u.Role != models.RoleAdmin:
		u.Role = models.RoleAdmin
		u.RoleSource = models.RoleSourceProvider
	case resolved == models.RoleUser && u.Role == models.RoleAdmin && u.RoleSource == models.RoleSourceProvider:
		u.Role = models.RoleUser
		u.RoleSource = models.RoleSourceDefault
	}
}

// uniqueHandle derives a URL-safe username from the provider's display name,
// falling back to suffixes built from the provider id on collision.
func uniqueHandle(tx *gorm.DB, username, providerID string) (string, error) {
	base := slug.Make(unidecode.Unidecode(strings.TrimSpace(username)))
	if base == "" {
		base = "discord"
	}
	short := providerID
	if len(short) > 4 {
		short = short[len(short)-4:]
	}
	for _, candidate := range []string{base, base + "-" + short, base + "-" + providerID} {
		var n int64
		if err := tx.Model(&models.User{}).Where("username = ?", candidate).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
	}
	return "", ErrUsernameTaken
}
