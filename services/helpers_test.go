package services

import (
	"bytes"
	"context"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/store/storetest"
	"github.com/whisperhub/whisperhub/utils"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type sentMail struct {
	To, Subject, Body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type fakeMedia struct {
	saved []string
}

func (m *fakeMedia) Save(_ context.Context, up utils.Upload, folder string) (string, error) {
	u := "https://cdn.test/" + folder + "/" + up.File.Filename
	m.saved = append(m.saved, u)
	return u, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notified
}

type notified struct {
	Receiver string
	Payload  models.NotificationPayload
}

func (n *recordingNotifier) Notify(_ context.Context, receiver string, p models.NotificationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notified{receiver, p})
	return nil
}

func fileHeader(t *testing.T, field, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File[field][0]
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		ResetTTL:      time.Hour,
	}
}

type fixture struct {
	store    *store.GormStore
	tokens   *TokenService
	otp      *OTPLedger
	mailer   *fakeMailer
	media    *fakeMedia
	notifier *recordingNotifier
	users    *UserService
	cats     *CategoryService
	votes    *VoteService
	posts    *PostService
	comments *CommentService
	messages *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	f := &fixture{
		store:    s,
		tokens:   NewTokenService(s, testTokenConfig()),
		otp:      NewOTPLedger(s, s, 10*time.Minute),
		mailer:   &fakeMailer{},
		media:    &fakeMedia{},
		notifier: &recordingNotifier{},
	}
	f.cats = NewCategoryService(s)
	f.votes = NewVoteService(s, s, f.notifier)
	f.posts = NewPostService(s, f.cats, f.votes)
	f.comments = NewCommentService(s, s, f.notifier)
	f.messages = NewMessageService(s, s, f.notifier)
	f.users = NewUserService(UserDeps{
		Users:           s,
		Categories:      f.cats,
		Tokens:          f.tokens,
		OTP:             f.otp,
		Mailer:          f.mailer,
		Media:           f.media,
		Revoked:         utils.NewRevocationList(nil),
		Cooldowns:       utils.NewCooldowns(nil),
		OTPCooldown:     time.Minute,
		MaxUploadBytes:  1 << 20,
		FrontendBaseURL: "https://app.test",
	})
	return f
}

func (f *fixture) user(t *testing.T, name, password string) *models.User {
	t.Helper()
	hash, err := utils.HashPassword(password)
	require.NoError(t, err)
	u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: hash}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) post(t *testing.T, owner *models.User) *models.Post {
	t.Helper()
	ctx := context.Background()
	c, err := f.cats.Create(ctx, "cat-"+models.NewID()[24:], "")
	require.NoError(t, err)
	p, err := f.posts.Create(ctx, owner.ID, "hello", "first post", c.ID)
	require.NoError(t, err)
	return p
}

func strPtr(s string) *string { return &s }
