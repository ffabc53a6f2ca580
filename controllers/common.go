package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/middleware"
	"github.com/whisperhub/whisperhub/utils"
)

// CookieConfig controls the auth cookies set on login and refresh.
type CookieConfig struct {
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ParseSameSite maps the configured SameSite name to its http constant.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c CookieConfig) set(ctx *gin.Context, accessToken, refreshToken string) {
	ctx.SetSameSite(c.SameSite)
	ctx.SetCookie(middleware.AccessCookie, accessToken, int(c.AccessTTL/time.Second), "/", "", c.Secure, true)
	ctx.SetCookie(middleware.RefreshCookie, refreshToken, int(c.RefreshTTL/time.Second), "/", "", c.Secure, true)
}

func (c CookieConfig) clear(ctx *gin.Context) {
	ctx.SetSameSite(c.SameSite)
	ctx.SetCookie(middleware.AccessCookie, "", -1, "/", "", c.Secure, true)
	ctx.SetCookie(middleware.RefreshCookie, "", -1, "/", "", c.Secure, true)
}

// bindJSON decodes the body and renders a BadRequest on failure.
func bindJSON(ctx *gin.Context, dst any) bool {
	if err := ctx.ShouldBindJSON(dst); err != nil {
		utils.Fail(ctx, utils.BadRequest("invalid request payload", err.Error()))
		return false
	}
	return true
}

// requireUser returns the authenticated user id or renders 401.
func requireUser(ctx *gin.Context) (string, bool) {
	id, ok := middleware.UserID(ctx)
	if !ok {
		utils.Fail(ctx, utils.Unauthorized("unauthorized request"))
	}
	return id, ok
}

// parsePagination turns page/page_size query values into offset and limit.
func parsePagination(pageStr, sizeStr string) (offset, limit int) {
	page, pageSize := 1, 20
	if v, err := strconv.Atoi(strings.TrimSpace(pageStr)); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(sizeStr)); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}
	return (page - 1) * pageSize, pageSize
}
