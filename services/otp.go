package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/store"
	"github.com/whisperhub/whisperhub/utils"
)

const (
	otpDigits       = 6
	otpMaxAttempts  = 10
	defaultValidity = 10 * time.Minute
)

// OTPLedger issues and checks one-time codes keyed by email and scenario.
// The newest record for an email wins; older ones are left in place.
type OTPLedger struct {
	otps     store.OTPs
	users    store.Users
	validity time.Duration

	now     func() time.Time
	codegen func(int) (string, error)
}

func NewOTPLedger(otps store.OTPs, users store.Users, validity time.Duration) *OTPLedger {
	if validity <= 0 {
		validity = defaultValidity
	}
	return &OTPLedger{
		otps:     otps,
		users:    users,
		validity: validity,
		now:      func() time.Time { return time.Now().UTC() },
		codegen:  utils.GenerateNumericCode,
	}
}

// NormalizeEmail lowercases and trims an address and checks its syntax.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", utils.BadRequest("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", utils.BadRequest("invalid email address")
	}
	return email, nil
}

func validScenario(s string) bool {
	return s == models.OTPScenarioRegistration || s == models.OTPScenarioEmailChange
}

// Issue creates a new code for email. Addresses that already belong to a user
// are refused for every scenario.
func (l *OTPLedger) Issue(ctx context.Context, email, scenario string) (string, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	if !validScenario(scenario) {
		return "", utils.BadRequest("invalid otp scenario")
	}

	_, err = l.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		return "", utils.Conflict("user with this email already exists")
	case !errors.Is(err, store.ErrNotFound):
		return "", utils.ServerError("failed to check email", err)
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == otpMaxAttempts {
			return "", utils.Conflict("could not allocate a unique otp, try again")
		}
		code, err = l.codegen(otpDigits)
		if err != nil {
			return "", utils.ServerError("failed to generate otp", err)
		}
		taken, err := l.otps.OTPCodeExists(ctx, code)
		if err != nil {
			return "", utils.ServerError("failed to check otp", err)
		}
		if !taken {
			break
		}
	}

	now := l.now()
	rec := &models.OTP{
		Email:     email,
		Scenario:  scenario,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(l.validity),
	}
	if err := l.otps.CreateOTP(ctx, rec); err != nil {
		return "", utils.ServerError("failed to save otp", err)
	}
	return code, nil
}

// Verify checks code against the newest record for (email, scenario).
func (l *OTPLedger) Verify(ctx context.Context, email, scenario, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return utils.BadRequest("email and otp are required")
	}
	rec, err := l.otps.LatestOTP(ctx, email, scenario)
	if errors.Is(err, store.ErrNotFound) {
		return utils.InvalidOTP("invalid otp")
	}
	if err != nil {
		return utils.ServerError("failed to load otp", err)
	}
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return utils.InvalidOTP("invalid otp")
	}
	if !l.now().Before(rec.ExpiresAt) {
		return utils.InvalidOTP("otp has expired")
	}
	return nil
}
