package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

const maxBioLength = 1000

// ProfileFiles are the optional image slots of a profile form.
type ProfileFiles struct {
	Avatar     *multipart.FileHeader
	CoverImage *multipart.FileHeader
}

func (f ProfileFiles) validate(maxBytes int64) error {
	for name, fh := range map[string]*multipart.FileHeader{"avatar": f.Avatar, "coverImage": f.CoverImage} {
		if fh == nil {
			continue
		}
		if _, _, err := utils.ValidateImage(fh, maxBytes); err != nil {
			return utils.BadRequest("invalid "+name+" file", err.Error())
		}
	}
	return nil
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Bio      string
	OTP      string
	Files    ProfileFiles
}

// ProfileInput carries profile edits; nil fields are left alone.
type ProfileInput struct {
	Username *string
	Email    *string
	Bio      *string
	Password *string
	OTP      string
	Files    ProfileFiles
}

// OAuthIdentity is what a federated provider tells us about a user.
type OAuthIdentity struct {
	Provider  string
	ID        string
	Username  string
	Email     string
	AvatarURL string
}

type UserDeps struct {
	Users           store.Users
	Categories      *CategoryService
	Tokens          *TokenService
	OTP             *OTPLedger
	Mailer          utils.Mailer
	Media           utils.MediaStore
	Revoked         *utils.RevocationList
	Cooldowns       *utils.Cooldowns
	OTPCooldown     time.Duration
	MaxUploadBytes  int64
	FrontendBaseURL string
}

// UserService covers registration, sessions, password reset and profiles.
type UserService struct {
	UserDeps
}

func NewUserService(d UserDeps) *UserService {
	return &UserService{UserDeps: d}
}

func validateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", utils.BadRequest("username is required")
	}
	if !usernamePattern.MatchString(name) {
		return "", utils.BadRequest("username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	return strings.ToLower(name), nil
}

func (s *UserService) loadUser(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Users.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("user not found")
	}
	if err != nil {
		return nil, utils.ServerError("failed to load user", err)
	}
	return u, nil
}

// taken reports whether lookup finds a user other than selfID.
func taken(ctx context.Context, lookup func(context.Context, string) (*models.User, error), key, selfID string) (bool, error) {
	u, err := lookup(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.ID != selfID, nil
}

// RequestOTP mails a fresh code for email. Repeated requests for the same
// address inside the cooldown window are refused.
func (s *UserService) RequestOTP(ctx context.Context, email, scenario string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if scenario == "" {
		scenario = models.OTPScenarioRegistration
	}
	key := "otp:" + email
	if s.Cooldowns != nil && !s.Cooldowns.TryAcquire(ctx, key, s.OTPCooldown) {
		return utils.TooManyRequests("please wait before requesting another code")
	}
	if err := s.sendOTP(ctx, email, scenario); err != nil {
		// nothing was delivered, so the address may retry right away
		if s.Cooldowns != nil {
			s.Cooldowns.Release(ctx, key)
		}
		return err
	}
	return nil
}

func (s *UserService) sendOTP(ctx context.Context, email, scenario string) error {
	code, err := s.OTP.Issue(ctx, email, scenario)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Your WhisperHub verification code is %s. It expires in %d minutes.",
		code, int(s.OTP.validity/time.Minute))
	if err := s.Mailer.Send(ctx, email, "Your WhisperHub verification code", body); err != nil {
		return utils.ServerError("failed to send verification email", err)
	}
	return nil
}

func (s *UserService) upload(ctx context.Context, fh *multipart.FileHeader, folder string) (string, error) {
	if fh == nil {
		return "", nil
	}
	up, err := utils.NewImageUpload(fh, s.MaxUploadBytes)
	if err != nil {
		return "", utils.BadRequest("invalid "+folder+" file", err.Error())
	}
	u, err := s.Media.Save(ctx, up, folder)
	if err != nil {
		return "", utils.ServerError("failed to upload "+folder, err)
	}
	return u, nil
}

// Register creates an account once the registration OTP checks out. Duplicate
// usernames and emails are rejected before the OTP is looked at.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if !utils.ValidPassword(in.Password) {
		return nil, utils.BadRequest("password must be between 6 and 72 characters")
	}
	bio := utils.StripTags(in.Bio)
	if len([]rune(bio)) > maxBioLength {
		return nil, utils.BadRequest("bio is too long")
	}
	if strings.TrimSpace(in.OTP) == "" {
		return nil, utils.BadRequest("otp is required")
	}
	if in.Files.Avatar == nil {
		return nil, utils.BadRequest("avatar file is required")
	}
	if err := in.Files.validate(s.MaxUploadBytes); err != nil {
		return nil, err
	}

	if dup, err := taken(ctx, s.Users.UserByEmail, email, ""); err != nil {
		return nil, utils.ServerError("failed to check email", err)
	} else if dup {
		return nil, utils.Conflict("user with this email or username already exists")
	}
	if dup, err := taken(ctx, s.Users.UserByUsername, username, ""); err != nil {
		return nil, utils.ServerError("failed to check username", err)
	} else if dup {
		return nil, utils.Conflict("user with this email or username already exists")
	}

	if err := s.OTP.Verify(ctx, email, models.OTPScenarioRegistration, in.OTP); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, utils.ServerError("failed to hash password", err)
	}
	avatar, err := s.upload(ctx, in.Files.Avatar, "avatars")
	if err != nil {
		return nil, err
	}
	cover, err := s.upload(ctx, in.Files.CoverImage, "covers")
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Avatar:       avatar,
		CoverImage:   cover,
		Bio:          bio,
	}
	err = s.Users.CreateUser(ctx, u)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, utils.Conflict("user with this email or username already exists")
	}
	if err != nil {
		return nil, utils.ServerError("failed to create user", err)
	}
	return u, nil
}

// Login accepts either the email or the username as identifier.
func (s *UserService) Login(ctx context.Context, identifier, password string) (*models.User, TokenPair, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, TokenPair{}, utils.BadRequest("email and password are required")
	}
	lookup := s.Users.UserByUsername
	if strings.Contains(identifier, "@") {
		lookup = s.Users.UserByEmail
	}
	u, err := lookup(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return nil, TokenPair{}, utils.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, TokenPair{}, utils.ServerError("failed to load user", err)
	}
	if u.PasswordHash == "" || !utils.CheckPassword(u.PasswordHash, password) {
		return nil, TokenPair{}, utils.Unauthorized("invalid credentials")
	}
	pair, err := s.Tokens.IssueTokenPair(ctx, u.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return u, pair, nil
}

// Logout drops the stored refresh token and revokes the presented access
// token until it would have expired.
func (s *UserService) Logout(ctx context.Context, userID, accessToken string, expiresAt time.Time) error {
	if err := s.Tokens.ClearSession(ctx, userID); err != nil {
		return err
	}
	if s.Revoked != nil && accessToken != "" {
		s.Revoked.Revoke(ctx, accessToken, expiresAt)
	}
	return nil
}

func (s *UserService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return s.Tokens.Rotate(ctx, refreshToken)
}

// ForgotPassword mails a reset link to the owner of email.
func (s *UserService) ForgotPassword(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	u, err := s.Users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return utils.NotFound("user with this email does not exist")
	}
	if err != nil {
		return utils.ServerError("failed to load user", err)
	}
	token, err := s.Tokens.IssueResetToken(ctx, u.ID)
	if err != nil {
		return err
	}
	link := strings.TrimRight(s.FrontendBaseURL, "/") + "/reset-password/" + url.PathEscape(token)
	body := "Use the link below to reset your WhisperHub password:\n\n" + link +
		"\n\nIf you did not ask for this, ignore this email."
	if err := s.Mailer.Send(ctx, u.Email, "Reset your WhisperHub password", body); err != nil {
		return utils.ServerError("failed to send reset email", err)
	}
	return nil
}

// ResetTokenFromLink accepts either a full reset link or the bare token.
func ResetTokenFromLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if u, err := url.Parse(link); err == nil && (u.Scheme != "" || strings.Contains(u.Path, "/")) {
		if tok, err := url.PathUnescape(path.Base(strings.TrimRight(u.Path, "/"))); err == nil {
			return tok
		}
	}
	return link
}

func (s *UserService) ResetPassword(ctx context.Context, resetLink, newPassword string) (*models.User, error) {
	return s.Tokens.ConsumeResetToken(ctx, ResetTokenFromLink(resetLink), newPassword)
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.loadUser(ctx, id)
}

// EditProfile updates the caller's own profile. Changing the email requires
// an email-change OTP sent to the new address.
func (s *UserService) EditProfile(ctx context.Context, actorID, targetID string, in ProfileInput) (*models.User, error) {
	if actorID != targetID {
		return nil, utils.Forbidden("you can only edit your own profile")
	}
	u, err := s.loadUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := in.Files.validate(s.MaxUploadBytes); err != nil {
		return nil, err
	}

	var upd store.ProfileUpdate
	if in.Username != nil {
		name, err := validateUsername(*in.Username)
		if err != nil {
			return nil, err
		}
		if name != u.Username {
			dup, err := taken(ctx, s.Users.UserByUsername, name, u.ID)
			if err != nil {
				return nil, utils.ServerError("failed to check username", err)
			}
			if dup {
				return nil, utils.Conflict("username already taken")
			}
			upd.Username = &name
		}
	}
	if in.Bio != nil {
		bio := utils.StripTags(*in.Bio)
		if len([]rune(bio)) > maxBioLength {
			return nil, utils.BadRequest("bio is too long")
		}
		upd.Bio = &bio
	}
	if in.Password != nil {
		if !utils.ValidPassword(*in.Password) {
			return nil, utils.BadRequest("password must be between 6 and 72 characters")
		}
		hash, err := utils.HashPassword(*in.Password)
		if err != nil {
			return nil, utils.ServerError("failed to hash password", err)
		}
		upd.PasswordHash = &hash
	}
	if in.Email != nil {
		email, err := NormalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		if email != u.Email {
			dup, err := taken(ctx, s.Users.UserByEmail, email, u.ID)
			if err != nil {
				return nil, utils.ServerError("failed to check email", err)
			}
			if dup {
				return nil, utils.Conflict("email already in use")
			}
			if err := s.OTP.Verify(ctx, email, models.OTPScenarioEmailChange, in.OTP); err != nil {
				return nil, err
			}
			upd.Email = &email
		}
	}
	if in.Files.Avatar != nil {
		a, err := s.upload(ctx, in.Files.Avatar, "avatars")
		if err != nil {
			return nil, err
		}
		upd.Avatar = &a
	}
	if in.Files.CoverImage != nil {
		c, err := s.upload(ctx, in.Files.CoverImage, "covers")
		if err != nil {
			return nil, err
		}
		upd.CoverImage = &c
	}

	err = s.Users.UpdateProfile(ctx, u.ID, upd)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, utils.Conflict("username or email already in use")
	}
	if err != nil {
		return nil, utils.ServerError("failed to update profile", err)
	}
	return s.loadUser(ctx, u.ID)
}

// AddLikedCategories merges categoryIDs into the user's liked set and returns
// the resulting set.
func (s *UserService) AddLikedCategories(ctx context.Context, userID string, categoryIDs []string) ([]string, error) {
	ids := utils.UniqueStrings(categoryIDs)
	if len(ids) == 0 {
		return nil, utils.BadRequest("at least one category is required")
	}
	if err := s.Categories.Exists(ctx, ids...); err != nil {
		return nil, err
	}
	liked, err := s.Users.AddLikedCategories(ctx, userID, ids)
	if errors.Is(err, store.ErrNotFound) {
		return nil, utils.NotFound("user not found")
	}
	if err != nil {
		return nil, utils.ServerError("failed to update liked categories", err)
	}
	return liked, nil
}

func (s *UserService) RemoveLikedCategory(ctx context.Context, userID, categoryID string) ([]string, error) {
	if err := s.Categories.Exists(ctx, categoryID); err != nil {
		return nil, err
	}
	removed, err := s.Users.RemoveLikedCategory(ctx, userID, categoryID)
	if err != nil {
		return nil, utils.ServerError("failed to update liked categories", err)
	}
	if !removed {
		return nil, utils.BadRequest("category is not in your liked categories")
	}
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.LikedCategories, nil
}

// OAuthLogin finds or creates the user behind a federated identity and
// starts a session for it.
func (s *UserService) OAuthLogin(ctx context.Context, id OAuthIdentity) (*models.User, TokenPair, error) {
	if id.Provider == "" || id.ID == "" {
		return nil, TokenPair{}, utils.BadRequest("incomplete identity from provider")
	}
	u, err := s.Users.UserByProvider(ctx, id.Provider, id.ID)
	if errors.Is(err, store.ErrNotFound) {
		u, err = s.createOAuthUser(ctx, id)
	}
	if err != nil {
		return nil, TokenPair{}, utils.ServerError("failed to sign in with "+id.Provider, err)
	}
	pair, err := s.Tokens.IssueTokenPair(ctx, u.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return u, pair, nil
}

func (s *UserService) createOAuthUser(ctx context.Context, id OAuthIdentity) (*models.User, error) {
	email := placeholderEmail(id)
	if addr, err := NormalizeEmail(id.Email); err == nil {
		dup, err := taken(ctx, s.Users.UserByEmail, addr, "")
		if err != nil {
			return nil, err
		}
		if !dup {
			email = addr
		}
	}
	username, err := s.uniqueUsername(ctx, id)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username:   username,
		Email:      email,
		Avatar:     id.AvatarURL,
		Provider:   id.Provider,
		ProviderID: id.ID,
	}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// lost a race with a parallel callback for the same identity
			return s.Users.UserByProvider(ctx, id.Provider, id.ID)
		}
		return nil, err
	}
	utils.Logger.Info("oauth user created", zap.String("provider", id.Provider), zap.String("user", u.ID))
	return u, nil
}

func placeholderEmail(id OAuthIdentity) string {
	return fmt.Sprintf("%s-%s@users.noreply.whisperhub", id.Provider, sanitizeUsername(id.ID))
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9_.-]+`)

func sanitizeUsername(s string) string {
	s = usernameStrip.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
	if len(s) > 24 {
		s = s[:24]
	}
	return s
}

func (s *UserService) uniqueUsername(ctx context.Context, id OAuthIdentity) (string, error) {
	base := sanitizeUsername(id.Username)
	if len(base) < 3 {
		base = id.Provider + "_" + sanitizeUsername(id.ID)
		if len(base) > 24 {
			base = base[:24]
		}
	}
	candidate := base
	for i := 1; i <= 20; i++ {
		dup, err := taken(ctx, s.Users.UserByUsername, candidate, "")
		if err != nil {
			return "", err
		}
		if !dup {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	suffix := models.NewID()
	return base + "_" + suffix[len(suffix)-6:], nil
}
