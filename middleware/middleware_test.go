package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/store/storetest"
	"github.com/whisperhub/whisperhub/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIPRateLimiterPerKey(t *testing.T) {
	l := NewIPRateLimiter(4) // burst of 2
	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"), "buckets are per key")
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/", NewIPRateLimiter(2).Middleware(), func(ctx *gin.Context) {
		ctx.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestAuthRequired(t *testing.T) {
	st := storetest.New(t)
	u := &models.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, st.CreateUser(context.Background(), u))

	tokens := services.NewTokenService(st, services.TokenConfig{
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("r"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		ResetTTL:      time.Hour,
	})
	pair, err := tokens.IssueTokenPair(context.Background(), u.ID)
	require.NoError(t, err)
	revoked := utils.NewRevocationList(nil)

	r := gin.New()
	r.GET("/me", AuthRequired(tokens, revoked), func(ctx *gin.Context) {
		id, ok := UserID(ctx)
		require.True(t, ok)
		ctx.String(http.StatusOK, id)
	})
	call := func(setup func(*http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		setup(req)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := call(func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.AccessToken) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.ID, w.Body.String())

	w = call(func(req *http.Request) { req.AddCookie(&http.Cookie{Name: AccessCookie, Value: pair.AccessToken}) })
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.RefreshToken) })
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh tokens are signed with another secret")

	w = call(func(req *http.Request) { req.Header.Set("Authorization", "Basic abc") })
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(func(*http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	revoked.Revoke(context.Background(), pair.AccessToken, time.Now().Add(time.Minute))
	w = call(func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+pair.AccessToken) })
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequiredRejectsResetToken(t *testing.T) {
	st := storetest.New(t)
	u := &models.User{Username: "bob", Email: "bob@example.com"}
	require.NoError(t, st.CreateUser(context.Background(), u))
	tokens := services.NewTokenService(st, services.TokenConfig{
		AccessSecret:  []byte("a"),
		RefreshSecret: []byte("r"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		ResetTTL:      time.Hour,
	})
	reset, err := tokens.IssueResetToken(context.Background(), u.ID)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", AuthRequired(tokens, utils.NewRevocationList(nil)), func(ctx *gin.Context) {
		ctx.Status(http.StatusOK)
	})
	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+reset)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, send())

	_, err = tokens.ConsumeResetToken(context.Background(), reset, "newpass1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send())
}
