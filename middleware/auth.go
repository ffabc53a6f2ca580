package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextTokenKey holds the raw access token so logout can revoke it.
	ContextTokenKey = "access_token"
	// ContextTokenExpiryKey holds the access token expiry.
	ContextTokenExpiryKey = "access_token_exp"

	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// bearerToken reads the access token from the Authorization header, falling
// back to the accessToken cookie.
func bearerToken(ctx *gin.Context) string {
	if h := ctx.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if c, err := ctx.Cookie(AccessCookie); err == nil {
		return strings.TrimSpace(c)
	}
	return ""
}

// AuthRequired derives the auth context from the access token alone.
func AuthRequired(tokens *services.TokenService, revoked *utils.RevocationList) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString := bearerToken(ctx)
		if tokenString == "" {
			utils.Fail(ctx, utils.Unauthorized("unauthorized request"))
			ctx.Abort()
			return
		}

		if revoked != nil && revoked.IsRevoked(ctx.Request.Context(), tokenString) {
			utils.Fail(ctx, utils.Unauthorized("token revoked"))
			ctx.Abort()
			return
		}

		claims, err := tokens.ParseAccess(tokenString)
		if err != nil {
			utils.Fail(ctx, err)
			ctx.Abort()
			return
		}

		exp := time.Now()
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Set(ContextTokenKey, tokenString)
		ctx.Set(ContextTokenExpiryKey, exp)
		ctx.Next()
	}
}

// UserID returns the authenticated user id set by AuthRequired.
func UserID(ctx *gin.Context) (string, bool) {
	id := ctx.GetString(ContextUserIDKey)
	return id, id != ""
}
