package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

// TokenConfig holds signing secrets and lifetimes.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService issues access tokens, rotates refresh tokens and manages
// single-use reset tokens. Only refresh and reset tokens are persisted.
type TokenService struct {
	users store.Users
	cfg   TokenConfig
}

func NewTokenService(users store.Users, cfg TokenConfig) *TokenService {
	return &TokenService{users: users, cfg: cfg}
}

func (s *TokenService) mint(u *models.User) (TokenPair, error) {
	access, err := utils.GenerateToken(s.cfg.AccessSecret, utils.TokenAccess, u.ID, u.Username, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := utils.GenerateToken(s.cfg.RefreshSecret, utils.TokenRefresh, u.ID, "", s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueTokenPair mints a new pair and stores the refresh token, replacing any
// previous one. A second login therefore ends the first device's session.
func (s *TokenService) IssueTokenPair(ctx context.Context, userID string) (TokenPair, error) {
	u, err := s.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, utils.NotFound("user not found")
	}
	if err != nil {
		return TokenPair{}, utils.ServerError("something went wrong while generating tokens", err)
	}
	pair, err := s.mint(u)
	if err != nil {
		return TokenPair{}, utils.ServerError("something went wrong while generating tokens", err)
	}
	if err := s.users.SetRefreshToken(ctx, u.ID, &pair.RefreshToken); err != nil {
		return TokenPair{}, utils.ServerError("something went wrong while generating tokens", err)
	}
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token must be
// the one currently stored; anything older is reported as InvalidToken.
func (s *TokenService) Rotate(ctx context.Context, presented string) (TokenPair, error) {
	if presented == "" {
		return TokenPair{}, utils.Unauthorized("unauthorized request")
	}
	claims, err := utils.ParseToken(s.cfg.RefreshSecret, utils.TokenRefresh, presented)
	if err != nil {
		return TokenPair{}, utils.Unauthorized("invalid refresh token")
	}
	u, err := s.users.UserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, utils.Unauthorized("invalid refresh token")
	}
	if err != nil {
		return TokenPair{}, utils.ServerError("failed to load user", err)
	}
	if u.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*u.RefreshToken), []byte(presented)) != 1 {
		return TokenPair{}, utils.InvalidToken("refresh token is expired or used")
	}

	pair, err := s.mint(u)
	if err != nil {
		return TokenPair{}, utils.ServerError("something went wrong while generating tokens", err)
	}
	swapped, err := s.users.SwapRefreshToken(ctx, u.ID, presented, pair.RefreshToken)
	if err != nil {
		return TokenPair{}, utils.ServerError("something went wrong while generating tokens", err)
	}
	if !swapped {
		// a concurrent rotation consumed the token between read and write
		return TokenPair{}, utils.InvalidToken("refresh token is expired or used")
	}
	return pair, nil
}

// IssueResetToken stores a fresh reset token on the user and returns it.
func (s *TokenService) IssueResetToken(ctx context.Context, userID string) (string, error) {
	u, err := s.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", utils.NotFound("user not found")
	}
	if err != nil {
		return "", utils.ServerError("failed to load user", err)
	}
	token, err := utils.GenerateToken(s.cfg.AccessSecret, utils.TokenReset, u.ID, u.Username, s.cfg.ResetTTL)
	if err != nil {
		return "", utils.ServerError("failed to generate reset token", err)
	}
	if err := s.users.SetResetToken(ctx, u.ID, token); err != nil {
		return "", utils.ServerError("failed to save reset token", err)
	}
	return token, nil
}

// ConsumeResetToken sets a new password for the user holding token and clears
// the token. Unknown, already used and expired tokens all report NotFound.
func (s *TokenService) ConsumeResetToken(ctx context.Context, token, newPassword string) (*models.User, error) {
	if newPassword == "" {
		return nil, utils.BadRequest("new password is required")
	}
	if !utils.ValidPassword(newPassword) {
		return nil, utils.BadRequest("password must be between 6 and 72 characters")
	}
	if token == "" {
		return nil, utils.NotFound("invalid or expired reset token")
	}
	u, err := s.users.UserByResetToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("invalid or expired reset token")
	}
	if err != nil {
		return nil, utils.ServerError("failed to load user", err)
	}
	if _, err := utils.ParseToken(s.cfg.AccessSecret, utils.TokenReset, token); err != nil {
		return nil, utils.NotFound("invalid or expired reset token")
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, utils.ServerError("failed to hash password", err)
	}
	consumed, err := s.users.ConsumeResetToken(ctx, u.ID, token, hash)
	if err != nil {
		return nil, utils.ServerError("failed to reset password", err)
	}
	if !consumed {
		return nil, utils.NotFound("invalid or expired reset token")
	}
	u.PasswordHash = hash
	u.ResetToken = nil
	return u, nil
}

// ClearSession forgets the stored refresh token (logout).
func (s *TokenService) ClearSession(ctx context.Context, userID string) error {
	err := s.users.SetRefreshToken(ctx, userID, nil)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return utils.ServerError("failed to clear session", err)
	}
	return nil
}

// ParseAccess validates an access token.
func (s *TokenService) ParseAccess(token string) (*utils.Claims, error) {
	if token == "" {
		return nil, utils.Unauthorized("unauthorized request")
	}
	claims, err := utils.ParseToken(s.cfg.AccessSecret, utils.TokenAccess, token)
	if err != nil {
		return nil, utils.Unauthorized("invalid access token")
	}
	return claims, nil
}
