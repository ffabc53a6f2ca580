package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisperhub/whisperhub/config"
	"github.com/whisperhub/whisperhub/routes"
	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

func openStore(ctx context.Context, cfg config.AppConfig) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case "mongo":
		_, db, err := config.OpenMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s := store.NewMongoStore(db)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "mysql":
		db, err := config.OpenMySQL(cfg)
		if err != nil {
			return nil, err
		}
		s := store.NewGormStore(db)
		if err := s.Migrate(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer utils.Logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		utils.Sugar.Fatalf("database init failed: %v", err)
	}

	media, err := utils.NewMediaStore(ctx, cfg)
	if err != nil {
		utils.Sugar.Fatalf("media store init failed: %v", err)
	}

	var publisher utils.EventPublisher = utils.NopPublisher{}
	var closeNATS func()
	if cfg.NATSURL != "" {
		nc, err := utils.ConnectNATS(cfg.NATSURL)
		if err != nil {
			utils.Logger.Warn("nats unavailable, notification events disabled", zap.Error(err))
		} else {
			publisher = utils.NewNATSPublisher(nc)
			closeNATS = func() {
				if err := nc.Drain(); err != nil {
					utils.Logger.Warn("nats drain failed", zap.Error(err))
				}
			}
		}
	}

	rc := utils.GetRedis()
	revoked := utils.NewRevocationList(rc)

	tokens := services.NewTokenService(st, services.TokenConfig{
		AccessSecret:  []byte(cfg.AccessTokenSecret),
		RefreshSecret: []byte(cfg.RefreshTokenSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		ResetTTL:      cfg.ResetTokenTTL,
	})
	notifications := services.NewNotificationService(st, publisher)
	categories := services.NewCategoryService(st)
	votes := services.NewVoteService(st, st, notifications)
	users := services.NewUserService(services.UserDeps{
		Users:           st,
		Categories:      categories,
		Tokens:          tokens,
		OTP:             services.NewOTPLedger(st, st, cfg.OTPValidity),
		Mailer:          utils.NewMailer(cfg),
		Media:           media,
		Revoked:         revoked,
		Cooldowns:       utils.NewCooldowns(rc),
		OTPCooldown:     cfg.OTPCooldown,
		MaxUploadBytes:  int64(cfg.MaxUploadMB) << 20,
		FrontendBaseURL: cfg.FrontendBaseURL,
	})

	r := routes.SetupRouter(routes.Deps{
		Config:        cfg,
		Tokens:        tokens,
		Users:         users,
		Categories:    categories,
		Posts:         services.NewPostService(st, categories, votes),
		Comments:      services.NewCommentService(st, st, notifications),
		Votes:         votes,
		Notifications: notifications,
		Messages:      services.NewMessageService(st, st, notifications),
		Revoked:       revoked,
		Captcha:       utils.NewCaptcha(rc),
		States:        utils.NewStateStore(rc),
	})

	srv := utils.NewServer(":"+cfg.AppPort, r, utils.DEFAULT_READ_TIMEOUT, utils.DEFAULT_WRITE_TIMEOUT)
	if closeNATS != nil {
		srv.OnShutdown(closeNATS)
	}
	if rc != nil {
		srv.OnShutdown(func() { _ = rc.Close() })
	}
	srv.OnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(ctx); err != nil {
			utils.Logger.Warn("database close failed", zap.Error(err))
		}
	})

	utils.Sugar.Infof("Starting server on port %s (graceful, %s store)", cfg.AppPort, cfg.DatabaseDriver)
	if err := srv.ListenAndServe(); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
