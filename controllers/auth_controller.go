package controllers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/middleware"
	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

// AuthController handles registration, sessions, password reset and profiles.
type AuthController struct {
	users          *services.UserService
	captcha        *utils.Captcha
	captchaEnabled bool
	cookies        CookieConfig
}

func NewAuthController(users *services.UserService, captcha *utils.Captcha, captchaEnabled bool, cookies CookieConfig) *AuthController {
	return &AuthController{users: users, captcha: captcha, captchaEnabled: captchaEnabled, cookies: cookies}
}

// formFile returns the named upload or nil when the field is absent.
func formFile(ctx *gin.Context, name string) (*multipart.FileHeader, error) {
	fh, err := ctx.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	return fh, err
}

func profileFiles(ctx *gin.Context) (services.ProfileFiles, bool) {
	avatar, err := formFile(ctx, "avatar")
	if err != nil {
		utils.Fail(ctx, utils.BadRequest("invalid avatar upload"))
		return services.ProfileFiles{}, false
	}
	cover, err := formFile(ctx, "coverImage")
	if err != nil {
		utils.Fail(ctx, utils.BadRequest("invalid coverImage upload"))
		return services.ProfileFiles{}, false
	}
	return services.ProfileFiles{Avatar: avatar, CoverImage: cover}, true
}

// Captcha issues a captcha for the OTP form.
func (a *AuthController) Captcha(ctx *gin.Context) {
	id, b64, err := a.captcha.Generate()
	if err != nil {
		utils.Fail(ctx, utils.ServerError("failed to generate captcha", err))
		return
	}
	utils.Success(ctx, "captcha generated", gin.H{"captchaId": id, "image": b64})
}

// SendOTP mails a one-time code for registration or an email change.
func (a *AuthController) SendOTP(ctx *gin.Context) {
	var req struct {
		Email         string `json:"email"`
		Scenario      string `json:"scenario"`
		CaptchaID     string `json:"captcha_id"`
		CaptchaAnswer string `json:"captcha_answer"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	if a.captchaEnabled && !a.captcha.Verify(req.CaptchaID, strings.TrimSpace(req.CaptchaAnswer)) {
		utils.Fail(ctx, utils.BadRequest("invalid captcha"))
		return
	}
	if err := a.users.RequestOTP(ctx.Request.Context(), req.Email, req.Scenario); err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "otp sent successfully", gin.H{})
}

// Register creates an account from a multipart form.
func (a *AuthController) Register(ctx *gin.Context) {
	files, ok := profileFiles(ctx)
	if !ok {
		return
	}
	in := services.RegisterInput{
		Username: ctx.PostForm("username"),
		Email:    ctx.PostForm("email"),
		Password: ctx.PostForm("password"),
		Bio:      ctx.PostForm("bio"),
		OTP:      ctx.PostForm("otp"),
		Files:    files,
	}
	u, err := a.users.Register(ctx.Request.Context(), in)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Created(ctx, "user registered successfully", u)
}

// Login authenticates with email (or username) and password.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Username
	}
	u, pair, err := a.users.Login(ctx.Request.Context(), identifier, req.Password)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	a.cookies.set(ctx, pair.AccessToken, pair.RefreshToken)
	utils.Success(ctx, "user logged in successfully", gin.H{
		"user":         u,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// Logout ends the session and revokes the current access token.
func (a *AuthController) Logout(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	exp, _ := ctx.Get(middleware.ContextTokenExpiryKey)
	expiresAt, _ := exp.(time.Time)
	if err := a.users.Logout(ctx.Request.Context(), userID, ctx.GetString(middleware.ContextTokenKey), expiresAt); err != nil {
		utils.Fail(ctx, err)
		return
	}
	a.cookies.clear(ctx)
	utils.Success(ctx, "user logged out", gin.H{})
}

// RefreshToken rotates the refresh token from the cookie or the body.
func (a *AuthController) RefreshToken(ctx *gin.Context) {
	token, _ := ctx.Cookie(middleware.RefreshCookie)
	if token == "" && ctx.Request.ContentLength != 0 {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !bindJSON(ctx, &req) {
			return
		}
		token = req.RefreshToken
	}
	pair, err := a.users.Refresh(ctx.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	a.cookies.set(ctx, pair.AccessToken, pair.RefreshToken)
	utils.Success(ctx, "access token refreshed", pair)
}

func (a *AuthController) ForgetPassword(ctx *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	if err := a.users.ForgotPassword(ctx.Request.Context(), req.Email); err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "password reset link sent to your email", gin.H{})
}

func (a *AuthController) ResetPassword(ctx *gin.Context) {
	var req struct {
		ResetLink   string `json:"resetlink"`
		NewPassword string `json:"newPassword"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	if _, err := a.users.ResetPassword(ctx.Request.Context(), req.ResetLink, req.NewPassword); err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "password updated successfully", gin.H{})
}

// Me returns the authenticated user's own record.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	u, err := a.users.GetUser(ctx.Request.Context(), userID)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "current user fetched", u)
}

// GetUserPublic returns public user info by id.
func (a *AuthController) GetUserPublic(ctx *gin.Context) {
	u, err := a.users.GetUser(ctx.Request.Context(), strings.TrimSpace(ctx.Param("userId")))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "user fetched", u.Public())
}

// optionalForm returns a pointer to the field value when it was submitted.
func optionalForm(ctx *gin.Context, name string) *string {
	if v, ok := ctx.GetPostForm(name); ok {
		return &v
	}
	return nil
}

// EditProfile updates the caller's profile from a multipart form.
func (a *AuthController) EditProfile(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	files, ok := profileFiles(ctx)
	if !ok {
		return
	}
	in := services.ProfileInput{
		Username: optionalForm(ctx, "username"),
		Email:    optionalForm(ctx, "email"),
		Bio:      optionalForm(ctx, "bio"),
		Password: optionalForm(ctx, "password"),
		OTP:      ctx.PostForm("otp"),
		Files:    files,
	}
	u, err := a.users.EditProfile(ctx.Request.Context(), userID, ctx.Param("userId"), in)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "profile updated successfully", u)
}

func (a *AuthController) AddLikedCategories(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		CategoryIDs []string `json:"categoryIds"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	liked, err := a.users.AddLikedCategories(ctx.Request.Context(), userID, req.CategoryIDs)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "liked categories updated", gin.H{"likedCategories": liked})
}

func (a *AuthController) RemoveLikedCategory(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	liked, err := a.users.RemoveLikedCategory(ctx.Request.Context(), userID, ctx.Param("categoryId"))
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	utils.Success(ctx, "liked category removed", gin.H{"likedCategories": liked})
}
