package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/config"
	"github.com/whisperhub/whisperhub/controllers"
	"github.com/whisperhub/whisperhub/middleware"
	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

// Deps is everything the router needs to build its controllers.
type Deps struct {
	Config        config.AppConfig
	Tokens        *services.TokenService
	Users         *services.UserService
	Categories    *services.CategoryService
	Posts         *services.PostService
	Comments      *services.CommentService
	Votes         *services.VoteService
	Notifications *services.NotificationService
	Messages      *services.MessageService
	Revoked       *utils.RevocationList
	Captcha       *utils.Captcha
	States        *utils.StateStore
	// OAuthProviders overrides the providers built from Config; used by tests.
	OAuthProviders map[string]controllers.OAuthProvider
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.GinPath != "" {
		gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err == nil {
			r.Use(utils.Ginzap(gl, time.RFC3339, true))
			r.Use(utils.RecoveryWithZap(gl, false))
		} else {
			utils.Sugar.Warnf("gin access log disabled: %v", err)
			r.Use(utils.RecoveryWithZap(utils.Logger, false))
		}
	} else {
		r.Use(utils.RecoveryWithZap(utils.Logger, false))
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		// credentials cannot be combined with a wildcard origin
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	if (cfg.MediaDriver == "" || cfg.MediaDriver == "local") && strings.HasPrefix(cfg.PublicBaseURL, "/") {
		r.Static(cfg.PublicBaseURL, cfg.UploadDir)
	}

	cookies := controllers.CookieConfig{
		Secure:     cfg.CookieSecure,
		SameSite:   controllers.ParseSameSite(cfg.CookieSameSite),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}
	providers := d.OAuthProviders
	if providers == nil {
		providers = controllers.OAuthProviders(cfg)
	}
	var oauthRedirect string
	if cfg.FrontendBaseURL != "" {
		oauthRedirect = strings.TrimRight(cfg.FrontendBaseURL, "/") + "/"
	}

	authController := controllers.NewAuthController(d.Users, d.Captcha, cfg.OTPCaptchaEnabled, cookies)
	oauthController := controllers.NewOAuthController(d.Users, d.States, providers, cookies, oauthRedirect)
	configController := controllers.NewConfigController(oauthController, cfg.OTPCaptchaEnabled)
	postController := controllers.NewPostController(d.Posts, d.Categories)
	commentController := controllers.NewCommentController(d.Comments, d.Votes)
	notificationController := controllers.NewNotificationController(d.Notifications)
	messageController := controllers.NewMessageController(d.Messages)

	auth := middleware.AuthRequired(d.Tokens, d.Revoked)
	limit := middleware.NewIPRateLimiter(cfg.RateLimitPerMinute).Middleware()

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, "ok", gin.H{"status": "ok"})
	})
	r.GET("/config/auth", configController.GetAuth)
	r.GET("/search", postController.Search)

	users := r.Group("/users")
	{
		open := users.Group("", limit)
		open.GET("/captcha", authController.Captcha)
		open.POST("/send-otp", authController.SendOTP)
		open.POST("/register", authController.Register)
		open.POST("/login", authController.Login)
		open.POST("/refresh-token", authController.RefreshToken)
		open.POST("/forget-password", authController.ForgetPassword)
		open.POST("/reset-password", authController.ResetPassword)
		open.GET("/oauth/:provider/login", oauthController.Redirect)
		open.GET("/oauth/:provider/callback", oauthController.Callback)

		users.POST("/logout", auth, authController.Logout)
		users.GET("/me", auth, authController.Me)
		users.POST("/liked-categories", auth, authController.AddLikedCategories)
		users.DELETE("/liked-categories/:categoryId", auth, authController.RemoveLikedCategory)
		users.GET("/:userId", authController.GetUserPublic)
		users.PATCH("/:userId", auth, authController.EditProfile)
	}

	r.GET("/category", postController.ListCategories)
	r.POST("/category", auth, postController.CreateCategory)

	r.GET("/posts", postController.ListPosts)
	r.GET("/posts/:postId", postController.GetPost)
	r.POST("/posts", auth, postController.CreatePost)

	comments := r.Group("/comments")
	{
		comments.GET("", commentController.ListComments)
		comments.GET("/:postId", commentController.ListComments)
		comments.POST("/create-comment/:postId", auth, commentController.CreateComment)
		comments.POST("/delete-comment/:commentId", auth, commentController.DeleteComment)
	}

	r.POST("/vote/create-vote/:postId", auth, commentController.CreateVote)

	notifications := r.Group("/notifications", auth)
	{
		notifications.GET("/:userId", notificationController.List)
		notifications.GET("/:userId/unread-count", notificationController.UnreadCount)
		notifications.PATCH("/:userId/mark-read", notificationController.MarkRead)
	}

	messages := r.Group("/messages", auth)
	{
		messages.POST("/conversations", messageController.StartConversation)
		messages.GET("/conversations", messageController.ListConversations)
		messages.POST("/:conversationId", messageController.Send)
		messages.GET("/:conversationId", messageController.List)
	}

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, "route not found")
	})

	return r
}
