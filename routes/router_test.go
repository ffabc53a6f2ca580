package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/whisperhub/whisperhub/config"
	"github.com/whisperhub/whisperhub/controllers"
	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/routes"
	"github.com/whisperhub/whisperhub/services"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/store/storetest"
	"github.com/whisperhub/whisperhub/utils"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type inbox struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (b *inbox) Send(_ context.Context, to, _, body string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bodies[to] = body
	return nil
}

func (b *inbox) code(t *testing.T, to string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	m := regexp.MustCompile(`\b\d{6}\b`).FindString(b.bodies[to])
	require.NotEmpty(t, m, "no code mailed to %s", to)
	return m
}

type env struct {
	router *gin.Engine
	store  store.Store
	inbox  *inbox
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
	Errors     []string        `json:"errors"`
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, map[string]controllers.OAuthProvider{})
}

func newEnvWith(t *testing.T, providers map[string]controllers.OAuthProvider) *env {
	t.Helper()
	st := storetest.New(t)
	cfg := config.AppConfig{
		GinMode:            "test",
		AllowedOrigins:     []string{"http://localhost:5173"},
		RateLimitPerMinute: 10000,
		FrontendBaseURL:    "https://app.test",
		CookieSameSite:     "lax",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    time.Hour,
		MediaDriver:        "local",
	}
	box := &inbox{bodies: map[string]string{}}

	revoked := utils.NewRevocationList(nil)
	tokens := services.NewTokenService(st, services.TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		ResetTTL:      time.Hour,
	})
	notifications := services.NewNotificationService(st, nil)
	categories := services.NewCategoryService(st)
	votes := services.NewVoteService(st, st, notifications)
	users := services.NewUserService(services.UserDeps{
		Users:           st,
		Categories:      categories,
		Tokens:          tokens,
		OTP:             services.NewOTPLedger(st, st, 10*time.Minute),
		Mailer:          box,
		Media:           &utils.LocalMediaStore{Dir: t.TempDir(), BaseURL: "/static/uploads"},
		Revoked:         revoked,
		Cooldowns:       utils.NewCooldowns(nil),
		MaxUploadBytes:  1 << 20,
		FrontendBaseURL: cfg.FrontendBaseURL,
	})
	r := routes.SetupRouter(routes.Deps{
		Config:         cfg,
		Tokens:         tokens,
		Users:          users,
		Categories:     categories,
		Posts:          services.NewPostService(st, categories, votes),
		Comments:       services.NewCommentService(st, st, notifications),
		Votes:          votes,
		Notifications:  notifications,
		Messages:       services.NewMessageService(st, st, notifications),
		Revoked:        revoked,
		Captcha:        utils.NewCaptcha(nil),
		States:         utils.NewStateStore(nil),
		OAuthProviders: providers,
	})
	return &env{router: r, store: st, inbox: box}
}

func (e *env) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var body envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func jsonReq(t *testing.T, method, path, token string, payload any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func registerReq(t *testing.T, fields map[string]string, avatarName string, avatar []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if avatar != nil {
		part, err := w.CreateFormFile("avatar", avatarName)
		require.NoError(t, err)
		_, err = part.Write(avatar)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/users/register", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// seedUser creates a user directly and logs in, returning the user and access token.
func (e *env) seedUser(t *testing.T, name string) (*models.User, string) {
	t.Helper()
	hash, err := utils.HashPassword("secret123")
	require.NoError(t, err)
	u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: hash}
	require.NoError(t, e.store.CreateUser(context.Background(), u))

	_, body := e.do(t, jsonReq(t, http.MethodPost, "/users/login", "", map[string]string{
		"email": u.Email, "password": "secret123",
	}))
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	require.NotEmpty(t, data.AccessToken)
	return u, data.AccessToken
}

func cookieValue(w *httptest.ResponseRecorder, name string) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestRegistrationAndSessionLifecycle(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, jsonReq(t, http.MethodPost, "/users/send-otp", "", map[string]string{"email": "a@x.com"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, body.Success)
	code := e.inbox.code(t, "a@x.com")

	fields := map[string]string{
		"username": "newbie", "email": "a@x.com", "password": "secret123", "bio": "hi", "otp": code,
	}
	w, body = e.do(t, registerReq(t, fields, "me.png", pngBytes))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, "newbie", created["username"])
	assert.NotContains(t, created, "password")
	assert.NotContains(t, created, "refreshToken")
	assert.NotContains(t, created, "PasswordHash")
	assert.Regexp(t, `\.png$`, created["avatar"])

	fields["username"] = "other"
	fields["otp"] = "000000"
	w, body = e.do(t, registerReq(t, fields, "me.png", pngBytes))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, body.Success)
	assert.NotNil(t, body.Errors)

	w, body = e.do(t, jsonReq(t, http.MethodPost, "/users/login", "", map[string]string{"email": "a@x.com", "password": "secret123"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	access := cookieValue(w, "accessToken")
	refresh := cookieValue(w, "refreshToken")
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	// the cookie alone authenticates
	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.AddCookie(&http.Cookie{Name: "accessToken", Value: access})
	w, _ = e.do(t, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/users/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: refresh})
	w, _ = e.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	newAccess := cookieValue(w, "accessToken")
	require.NotEmpty(t, newAccess)

	w, body = e.do(t, jsonReq(t, http.MethodPost, "/users/refresh-token", "", map[string]string{"refreshToken": refresh}))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "rotated refresh token must not work twice")
	assert.False(t, body.Success)

	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/users/logout", newAccess, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "", cookieValue(w, "accessToken"))

	w, _ = e.do(t, jsonReq(t, http.MethodGet, "/users/me", newAccess, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "logged out token is revoked")
}

func TestPasswordResetOverHTTP(t *testing.T) {
	e := newEnv(t)
	u, _ := e.seedUser(t, "alice")

	w, _ := e.do(t, jsonReq(t, http.MethodPost, "/users/forget-password", "", map[string]string{"email": u.Email}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	link := regexp.MustCompile(`https://app\.test/reset-password/\S+`).FindString(e.inbox.bodies[u.Email])
	require.NotEmpty(t, link)

	reset := map[string]string{"resetlink": link, "newPassword": "brandnew1"}
	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/users/reset-password", "", reset))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/users/reset-password", "", reset))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/users/login", "", map[string]string{"email": u.Email, "password": "brandnew1"}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCommentsVotesAndNotifications(t *testing.T) {
	e := newEnv(t)
	author, authorTok := e.seedUser(t, "author")
	_, readerTok := e.seedUser(t, "reader")

	w, body := e.do(t, jsonReq(t, http.MethodPost, "/category", authorTok, map[string]string{"name": "General"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var cat models.Category
	require.NoError(t, json.Unmarshal(body.Data, &cat))

	w, body = e.do(t, jsonReq(t, http.MethodPost, "/posts", authorTok, map[string]string{
		"title": "Hello", "content": "World", "category": cat.ID,
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var post models.Post
	require.NoError(t, json.Unmarshal(body.Data, &post))

	w, body = e.do(t, jsonReq(t, http.MethodPost, "/comments/create-comment/"+post.ID, readerTok, map[string]string{"content": "first"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var top models.Comment
	require.NoError(t, json.Unmarshal(body.Data, &top))

	w, body = e.do(t, jsonReq(t, http.MethodPost, "/comments/create-comment/"+post.ID, authorTok, map[string]any{
		"content": "reply", "parentCommentId": top.ID,
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/comments/delete-comment/"+top.ID, authorTok, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/comments/delete-comment/"+top.ID, readerTok, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w, body = e.do(t, httptest.NewRequest(http.MethodGet, "/comments?postId="+post.ID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tree []services.CommentNode
	require.NoError(t, json.Unmarshal(body.Data, &tree))
	require.Len(t, tree, 1)
	assert.True(t, tree[0].Deleted)
	assert.Empty(t, tree[0].Content)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, "reply", tree[0].Replies[0].Content)

	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/vote/create-vote/"+post.ID, readerTok, map[string]string{"voteType": "upvote"}))
	assert.Equal(t, http.StatusCreated, w.Code)
	w, body = e.do(t, jsonReq(t, http.MethodPost, "/vote/create-vote/"+post.ID, readerTok, map[string]string{"voteType": "downvote"}))
	assert.Equal(t, http.StatusOK, w.Code)
	var vote models.Vote
	require.NoError(t, json.Unmarshal(body.Data, &vote))
	assert.Equal(t, models.VoteDown, vote.VoteType)
	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/vote/create-vote/"+post.ID, readerTok, map[string]string{"voteType": "meh"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	base := "/notifications/" + author.ID
	w, _ = e.do(t, jsonReq(t, http.MethodGet, base, readerTok, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = e.do(t, jsonReq(t, http.MethodGet, base+"/unread-count", authorTok, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "2", string(body.Data), "one comment and one vote")

	w, body = e.do(t, jsonReq(t, http.MethodGet, base, authorTok, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Notification
	require.NoError(t, json.Unmarshal(body.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, models.NotificationVote, list[0].Payload.Type, "newest first")

	for i := 0; i < 2; i++ {
		w, _ = e.do(t, jsonReq(t, http.MethodPatch, base+"/mark-read", authorTok, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	_, body = e.do(t, jsonReq(t, http.MethodGet, base+"/unread-count", authorTok, nil))
	assert.JSONEq(t, "0", string(body.Data))

	w, body = e.do(t, httptest.NewRequest(http.MethodGet, "/posts/"+post.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"downvotes":1`)

	w, body = e.do(t, httptest.NewRequest(http.MethodGet, "/search?q=hell", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"total":1`)
}

func TestMessagingOverHTTP(t *testing.T) {
	e := newEnv(t)
	_, aliceTok := e.seedUser(t, "alice")
	bob, bobTok := e.seedUser(t, "bob")
	_, eveTok := e.seedUser(t, "eve")

	w, body := e.do(t, jsonReq(t, http.MethodPost, "/messages/conversations", aliceTok, map[string]string{"participantId": bob.ID}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(body.Data, &conv))

	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/messages/"+conv.ID, aliceTok, map[string]string{"content": "hey"}))
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = e.do(t, jsonReq(t, http.MethodPost, "/messages/"+conv.ID, eveTok, map[string]string{"content": "hey"}))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = e.do(t, jsonReq(t, http.MethodGet, "/messages/"+conv.ID, bobTok, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(body.Data, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hey", msgs[0].Content)

	_, body = e.do(t, jsonReq(t, http.MethodGet, "/notifications/"+bob.ID+"/unread-count", bobTok, nil))
	assert.JSONEq(t, "1", string(body.Data))
}

func TestErrorEnvelopeAndPublicConfig(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, body.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, []string{}, body.Errors)

	w, body = e.do(t, jsonReq(t, http.MethodGet, "/users/me", "", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized request", body.Message)

	w, body = e.do(t, jsonReq(t, http.MethodGet, "/users/me", "garbage", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, body.Success)

	w, body = e.do(t, httptest.NewRequest(http.MethodGet, "/config/auth", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"oauthProviders":[],"captcha":false}`, string(body.Data))

	w, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/users/oauth/github/login", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuthCallbackSignsInAndRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_, _ = w.Write([]byte(`{"access_token":"provider-token","token_type":"bearer"}`))
		case "/user":
			if r.Header.Get("Authorization") != "Bearer provider-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":"42","login":"octo","email":"octo@example.com"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := controllers.OAuthProvider{
		Config: &oauth2.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost/users/oauth/fake/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
		},
		Fetch: func(ctx context.Context, client *http.Client) (services.OAuthIdentity, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/user", nil)
			if err != nil {
				return services.OAuthIdentity{}, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return services.OAuthIdentity{}, err
			}
			defer resp.Body.Close()
			var u struct {
				ID    string `json:"id"`
				Login string `json:"login"`
				Email string `json:"email"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
				return services.OAuthIdentity{}, err
			}
			return services.OAuthIdentity{ID: u.ID, Username: u.Login, Email: u.Email}, nil
		},
	}
	e := newEnvWith(t, map[string]controllers.OAuthProvider{"fake": fake})

	_, body := e.do(t, httptest.NewRequest(http.MethodGet, "/config/auth", nil))
	assert.JSONEq(t, `{"oauthProviders":["fake"],"captcha":false}`, string(body.Data))

	w, body := e.do(t, httptest.NewRequest(http.MethodGet, "/users/oauth/fake/login", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var start struct {
		AuthorizationURL string `json:"authorizationUrl"`
		State            string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &start))
	assert.Contains(t, start.AuthorizationURL, "state="+url.QueryEscape(start.State))

	w, _ = e.do(t, httptest.NewRequest(http.MethodGet, "/users/oauth/fake/callback?code=abc&state=forged", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cb := "/users/oauth/fake/callback?code=abc&state=" + url.QueryEscape(start.State)
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, cb, nil))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "https://app.test/", w.Header().Get("Location"))
	assert.NotEmpty(t, cookieValue(w, "accessToken"))

	u, err := e.store.UserByProvider(context.Background(), "fake", "42")
	require.NoError(t, err)
	assert.Equal(t, "octo", u.Username)
	assert.Equal(t, "octo@example.com", u.Email)

	// the state is single use
	w, _ = e.do(t, httptest.NewRequest(http.MethodGet, cb, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAvatarKeepsSniffedExtension(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, jsonReq(t, http.MethodPost, "/users/send-otp", "", map[string]string{"email": "h@x.com"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	polyglot := append(append([]byte{}, pngBytes...), []byte("<script>alert(1)</script>")...)
	fields := map[string]string{
		"username": "hacker", "email": "h@x.com", "password": "secret123", "otp": e.inbox.code(t, "h@x.com"),
	}
	w, body := e.do(t, registerReq(t, fields, "avatar.html", polyglot))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Avatar string `json:"avatar"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.True(t, strings.HasSuffix(created.Avatar, ".png"), created.Avatar)
	assert.NotContains(t, created.Avatar, ".html")
}
