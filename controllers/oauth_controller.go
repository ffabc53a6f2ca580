package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/whisperhub/whisperhub/config"
	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/utils"
)

const discordAPI = "https://discord.com/api"

// x/oauth2 ships no Discord endpoint.
var discordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  discordAPI + "/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// IdentityFetcher reads the user's identity from a provider API using an
// authorised client.
type IdentityFetcher func(ctx context.Context, client *http.Client) (services.OAuthIdentity, error)

// OAuthProvider pairs an oauth2 config with its identity lookup.
type OAuthProvider struct {
	Config *oauth2.Config
	Fetch  IdentityFetcher
}

// OAuthController runs the redirect/callback handshake and hands the
// resulting identity to the user service.
type OAuthController struct {
	users       *services.UserService
	states      *utils.StateStore
	providers   map[string]OAuthProvider
	cookies     CookieConfig
	redirectURL string
}

func NewOAuthController(users *services.UserService, states *utils.StateStore, providers map[string]OAuthProvider, cookies CookieConfig, redirectURL string) *OAuthController {
	return &OAuthController{users: users, states: states, providers: providers, cookies: cookies, redirectURL: redirectURL}
}

// OAuthProviders builds the providers that have credentials configured.
func OAuthProviders(cfg config.AppConfig) map[string]OAuthProvider {
	base := strings.TrimRight(cfg.OAuthRedirectBase, "/")
	out := map[string]OAuthProvider{}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		out["github"] = OAuthProvider{
			Config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  base + "/users/oauth/github/callback",
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			Fetch: fetchGitHubUser,
		}
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		out["google"] = OAuthProvider{
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  base + "/users/oauth/google/callback",
				Scopes:       []string{"openid", "profile", "email"},
				Endpoint:     google.Endpoint,
			},
			Fetch: fetchGoogleUser,
		}
	}
	if cfg.DiscordClientID != "" && cfg.DiscordClientSecret != "" {
		out["discord"] = OAuthProvider{
			Config: &oauth2.Config{
				ClientID:     cfg.DiscordClientID,
				ClientSecret: cfg.DiscordClientSecret,
				RedirectURL:  base + "/users/oauth/discord/callback",
				Scopes:       []string{"identify", "email"},
				Endpoint:     discordEndpoint,
			},
			Fetch: fetchDiscordUser(discordAPI),
		}
	}
	return out
}

// Names lists the enabled providers.
func (o *OAuthController) Names() []string {
	names := make([]string, 0, len(o.providers))
	for n := range o.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (o *OAuthController) provider(ctx *gin.Context) (OAuthProvider, bool) {
	name := strings.ToLower(ctx.Param("provider"))
	p, ok := o.providers[name]
	if !ok {
		utils.Fail(ctx, utils.BadRequest("unsupported or unconfigured provider: "+name))
	}
	return p, ok
}

// Redirect returns the provider authorization URL.
func (o *OAuthController) Redirect(ctx *gin.Context) {
	p, ok := o.provider(ctx)
	if !ok {
		return
	}
	state := uuid.NewString()
	o.states.Save(ctx.Request.Context(), state, 10*time.Minute)
	utils.Success(ctx, "authorization url generated", gin.H{
		"authorizationUrl": p.Config.AuthCodeURL(state, oauth2.AccessTypeOffline),
		"state":            state,
	})
}

// Callback exchanges the code, signs the user in and sets the auth cookies.
func (o *OAuthController) Callback(ctx *gin.Context) {
	p, ok := o.provider(ctx)
	if !ok {
		return
	}
	code, state := ctx.Query("code"), ctx.Query("state")
	if code == "" || state == "" {
		utils.Fail(ctx, utils.BadRequest("missing code or state"))
		return
	}
	if !o.states.Consume(ctx.Request.Context(), state) {
		utils.Fail(ctx, utils.BadRequest("invalid or expired state"))
		return
	}

	reqCtx := ctx.Request.Context()
	token, err := p.Config.Exchange(reqCtx, code)
	if err != nil {
		utils.Fail(ctx, utils.BadRequest("failed to exchange code"))
		return
	}
	identity, err := p.Fetch(reqCtx, p.Config.Client(reqCtx, token))
	if err != nil {
		utils.Fail(ctx, utils.ServerError("failed to fetch user identity", err))
		return
	}
	identity.Provider = strings.ToLower(ctx.Param("provider"))

	u, pair, err := o.users.OAuthLogin(reqCtx, identity)
	if err != nil {
		utils.Fail(ctx, err)
		return
	}
	o.cookies.set(ctx, pair.AccessToken, pair.RefreshToken)
	if o.redirectURL != "" {
		ctx.Redirect(http.StatusFound, o.redirectURL)
		return
	}
	utils.Success(ctx, "user logged in successfully", gin.H{
		"user":         u,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func fetchGitHubUser(ctx context.Context, client *http.Client) (services.OAuthIdentity, error) {
	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(ctx, client, "https://api.github.com/user", &payload); err != nil {
		return services.OAuthIdentity{}, err
	}

	email := payload.Email
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	// the profile email is often private; fall back to the verified primary
	if err := getJSON(ctx, client, "https://api.github.com/user/emails", &emails); err == nil {
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}

	return services.OAuthIdentity{
		ID:        fmt.Sprintf("%d", payload.ID),
		Username:  payload.Login,
		Email:     email,
		AvatarURL: payload.AvatarURL,
	}, nil
}

func fetchGoogleUser(ctx context.Context, client *http.Client) (services.OAuthIdentity, error) {
	var payload struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(ctx, client, "https://www.googleapis.com/oauth2/v2/userinfo", &payload); err != nil {
		return services.OAuthIdentity{}, err
	}
	id := services.OAuthIdentity{ID: payload.ID, Username: payload.Name, AvatarURL: payload.Picture}
	if payload.VerifiedEmail {
		id.Email = payload.Email
	}
	return id, nil
}

func fetchDiscordUser(api string) IdentityFetcher {
	return func(ctx context.Context, client *http.Client) (services.OAuthIdentity, error) {
		var payload struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Email    string `json:"email"`
			Verified bool   `json:"verified"`
			Avatar   string `json:"avatar"`
		}
		if err := getJSON(ctx, client, api+"/users/@me", &payload); err != nil {
			return services.OAuthIdentity{}, err
		}
		id := services.OAuthIdentity{ID: payload.ID, Username: payload.Username}
		if payload.Verified {
			id.Email = payload.Email
		}
		if payload.Avatar != "" {
			id.AvatarURL = "https://cdn.discordapp.com/avatars/" + payload.ID + "/" + payload.Avatar + ".png"
		}
		return id, nil
	}
}
