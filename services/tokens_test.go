package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperhub/whisperhub/utils"
)

func TestIssueTokenPairStoresRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice", "secret123")

	pair, err := f.tokens.IssueTokenPair(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	stored, err := f.store.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	assert.Equal(t, pair.RefreshToken, *stored.RefreshToken)

	claims, err := f.tokens.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)

	_, err = f.tokens.ParseAccess(pair.RefreshToken)
	assert.True(t, utils.IsKind(err, utils.KindUnauthorized), "refresh token must not pass as access token")
}

func TestIssueTokenPairUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.tokens.IssueTokenPair(context.Background(), "missing")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestRotateInvalidatesPreviousRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "bob", "secret123")

	first, err := f.tokens.IssueTokenPair(ctx, u.ID)
	require.NoError(t, err)

	second, err := f.tokens.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = f.tokens.Rotate(ctx, first.RefreshToken)
	assert.True(t, utils.IsKind(err, utils.KindInvalidToken), "reuse of a rotated token: %v", err)

	third, err := f.tokens.Rotate(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, third.RefreshToken)
}

func TestRotateRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tokens.Rotate(ctx, "")
	assert.True(t, utils.IsKind(err, utils.KindUnauthorized))

	_, err = f.tokens.Rotate(ctx, "not-a-jwt")
	assert.True(t, utils.IsKind(err, utils.KindUnauthorized))

	cfg := testTokenConfig()
	ghost, err := utils.GenerateToken(cfg.RefreshSecret, utils.TokenRefresh, "ghost", "", time.Hour)
	require.NoError(t, err)
	_, err = f.tokens.Rotate(ctx, ghost)
	assert.True(t, utils.IsKind(err, utils.KindUnauthorized))
}

func TestRotateAfterLogoutFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "carol", "secret123")

	pair, err := f.tokens.IssueTokenPair(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, f.tokens.ClearSession(ctx, u.ID))

	_, err = f.tokens.Rotate(ctx, pair.RefreshToken)
	assert.True(t, utils.IsKind(err, utils.KindInvalidToken))
}

func TestSecondLoginEndsFirstSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "dave", "secret123")

	laptop, err := f.tokens.IssueTokenPair(ctx, u.ID)
	require.NoError(t, err)
	_, err = f.tokens.IssueTokenPair(ctx, u.ID)
	require.NoError(t, err)

	_, err = f.tokens.Rotate(ctx, laptop.RefreshToken)
	assert.True(t, utils.IsKind(err, utils.KindInvalidToken))
}

func TestResetTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "erin", "oldpass1")

	_, err := f.tokens.ConsumeResetToken(ctx, "no-such-token", "newpass1")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	token, err := f.tokens.IssueResetToken(ctx, u.ID)
	require.NoError(t, err)

	got, err := f.tokens.ConsumeResetToken(ctx, token, "newpass1")
	require.NoError(t, err)
	assert.Nil(t, got.ResetToken)

	stored, err := f.store.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResetToken)
	assert.True(t, utils.CheckPassword(stored.PasswordHash, "newpass1"))
	assert.False(t, utils.CheckPassword(stored.PasswordHash, "oldpass1"))

	_, err = f.tokens.ConsumeResetToken(ctx, token, "another1")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestResetTokenValidatesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "frank", "oldpass1")
	token, err := f.tokens.IssueResetToken(ctx, u.ID)
	require.NoError(t, err)

	_, err = f.tokens.ConsumeResetToken(ctx, token, "")
	assert.True(t, utils.IsKind(err, utils.KindBadRequest))
	_, err = f.tokens.ConsumeResetToken(ctx, token, "123")
	assert.True(t, utils.IsKind(err, utils.KindBadRequest))

	// the token survives failed validation
	_, err = f.tokens.ConsumeResetToken(ctx, token, "goodpass")
	assert.NoError(t, err)
}

func TestExpiredResetTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "gina", "oldpass1")

	expired, err := utils.GenerateToken(testTokenConfig().AccessSecret, utils.TokenReset, u.ID, u.Username, -time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.store.SetResetToken(ctx, u.ID, expired))

	_, err = f.tokens.ConsumeResetToken(ctx, expired, "newpass1")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestResetTokenIsNotAnAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "hana", "oldpass1")

	reset, err := f.tokens.IssueResetToken(ctx, u.ID)
	require.NoError(t, err)
	_, err = f.tokens.ParseAccess(reset)
	assert.True(t, utils.IsKind(err, utils.KindUnauthorized))

	// an access token planted as the reset token does not reset the password
	pair, err := f.tokens.IssueTokenPair(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.SetResetToken(ctx, u.ID, pair.AccessToken))
	_, err = f.tokens.ConsumeResetToken(ctx, pair.AccessToken, "newpass1")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}
