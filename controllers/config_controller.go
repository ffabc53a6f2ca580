package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/whisperhub/whisperhub/utils"
)

// ConfigController serves public settings the SPA needs before sign-in.
type ConfigController struct {
	oauth          *OAuthController
	captchaEnabled bool
}

func NewConfigController(oauth *OAuthController, captchaEnabled bool) *ConfigController {
	return &ConfigController{oauth: oauth, captchaEnabled: captchaEnabled}
}

// GetAuth reports which federated providers and gates are enabled.
func (c *ConfigController) GetAuth(ctx *gin.Context) {
	providers := []string{}
	if c.oauth != nil {
		providers = c.oauth.Names()
	}
	utils.Success(ctx, "auth options", gin.H{
		"oauthProviders": providers,
		"captcha":        c.captchaEnabled,
	})
}
