package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperhub/whisperhub/models"
	"github.com/whisperhub/whisperhub/utils"
)

func scriptedCodes(codes ...string) func(int) (string, error) {
	i := 0
	return func(int) (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func TestOTPNewestCodeWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.otp.codegen = scriptedCodes("111111", "222222")

	first, err := f.otp.Issue(ctx, "a@x.com", models.OTPScenarioRegistration)
	require.NoError(t, err)
	second, err := f.otp.Issue(ctx, "a@x.com", models.OTPScenarioRegistration)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	err = f.otp.Verify(ctx, "a@x.com", models.OTPScenarioRegistration, first)
	assert.True(t, utils.IsKind(err, utils.KindInvalidOTP))
	assert.NoError(t, f.otp.Verify(ctx, "a@x.com", models.OTPScenarioRegistration, second))
}

func TestOTPRegeneratesOnCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.otp.codegen = scriptedCodes("123456")
	_, err := f.otp.Issue(ctx, "one@x.com", models.OTPScenarioRegistration)
	require.NoError(t, err)

	f.otp.codegen = scriptedCodes("123456", "123456", "654321")
	code, err := f.otp.Issue(ctx, "two@x.com", models.OTPScenarioRegistration)
	require.NoError(t, err)
	assert.Equal(t, "654321", code)
}

func TestOTPGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.otp.codegen = scriptedCodes("000000")
	_, err := f.otp.Issue(ctx, "one@x.com", models.OTPScenarioRegistration)
	require.NoError(t, err)

	_, err = f.otp.Issue(ctx, "two@x.com", models.OTPScenarioRegistration)
	assert.True(t, utils.IsKind(err, utils.KindConflict))
}

func TestOTPRefusesRegisteredEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "taken", "secret123")

	for _, scenario := range []string{models.OTPScenarioRegistration, models.OTPScenarioEmailChange} {
		_, err := f.otp.Issue(ctx, "Taken@Example.com", scenario)
		assert.True(t, utils.IsKind(err, utils.KindConflict), scenario)
	}
}

func TestOTPRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.otp.Issue(ctx, "not-an-email", models.OTPScenarioRegistration)
	assert.True(t, utils.IsKind(err, utils.KindBadRequest))
	_, err = f.otp.Issue(ctx, "a@x.com", "password-reset")
	assert.True(t, utils.IsKind(err, utils.KindBadRequest))

	err = f.otp.Verify(ctx, "nobody@x.com", models.OTPScenarioRegistration, "123456")
	assert.True(t, utils.IsKind(err, utils.KindInvalidOTP))
}

func TestOTPScenariosAreSeparate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.otp.Issue(ctx, "a@x.com", models.OTPScenarioEmailChange)
	require.NoError(t, err)

	err = f.otp.Verify(ctx, "a@x.com", models.OTPScenarioRegistration, code)
	assert.True(t, utils.IsKind(err, utils.KindInvalidOTP))
	assert.NoError(t, f.otp.Verify(ctx, "a@x.com", models.OTPScenarioEmailChange, code))
}

func TestOTPExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.otp.now = func() time.Time { return start }

	code, err := f.otp.Issue(ctx, "a@x.com", models.OTPScenarioRegistration)
	require.NoError(t, err)

	f.otp.now = func() time.Time { return start.Add(9 * time.Minute) }
	assert.NoError(t, f.otp.Verify(ctx, "a@x.com", models.OTPScenarioRegistration, code))

	f.otp.now = func() time.Time { return start.Add(10 * time.Minute) }
	err = f.otp.Verify(ctx, "a@x.com", models.OTPScenarioRegistration, code)
	assert.True(t, utils.IsKind(err, utils.KindInvalidOTP))
}
