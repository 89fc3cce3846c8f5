package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/repository"
	"github.com/ganapathi9191/vegie9/shared/events"
	"github.com/ganapathi9191/vegie9/shared/security"
	"github.com/ganapathi9191/vegie9/shared/validation"
)

var (
	otpPattern          = regexp.MustCompile(`^[0-9]{6}$`)
	referralCodePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)
)

func TestRegister_CreatesPendingAccount(t *testing.T) {
	f := newFixture(t, nil, nil)

	result := f.register(t, "Ann@X.com ", "")

	assert.Regexp(t, otpPattern, result.OTP)
	assert.Regexp(t, referralCodePattern, result.ReferralCode)

	account := f.account(t, result.AccountID)
	assert.Equal(t, model.StatePending, account.State())
	assert.Equal(t, "ann@x.com", account.Email)
	require.NotNil(t, account.OTP)
	assert.Equal(t, result.OTP, *account.OTP)
	require.NotNil(t, account.OTPExpiresAt)
	assert.Nil(t, account.PasswordHash)
	assert.Nil(t, account.ReferredBy)
	assert.Zero(t, account.Coins)

	assert.Equal(t, result.OTP, f.sender.last("ann@x.com"))
	assert.Equal(t, 1, f.publisher.count(events.TypeAccountRegistered))
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, nil, nil)

	tests := []struct {
		name   string
		params RegisterParams
		field  string
	}{
		{
			name:   "missing first name",
			params: RegisterParams{LastName: "Lee", Email: "ann@x.com", PhoneNumber: "1"},
			field:  "firstName",
		},
		{
			name:   "blank phone number",
			params: RegisterParams{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", PhoneNumber: "  "},
			field:  "phoneNumber",
		},
		{
			name:   "malformed email",
			params: RegisterParams{FirstName: "Ann", LastName: "Lee", Email: "ann-at-x", PhoneNumber: "1"},
			field:  "email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.accounts.Register(context.Background(), tt.params)
			require.ErrorIs(t, err, ErrValidation)

			var fields validation.FieldErrors
			require.ErrorAs(t, err, &fields)
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestRegister_DuplicateEmailCreatesNoRecord(t *testing.T) {
	f := newFixture(t, nil, nil)
	first := f.register(t, "ann@x.com", "")

	_, err := f.accounts.Register(context.Background(), RegisterParams{
		FirstName:   "Other",
		LastName:    "Person",
		Email:       "ANN@x.com",
		PhoneNumber: "555-0199",
	})
	require.ErrorIs(t, err, ErrConflict)

	account, err := f.repo.GetByEmail(context.Background(), "ann@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.AccountID, account.ID.Hex())
	assert.Equal(t, "Ann", account.FirstName)
}

func TestRegister_ReferralCreditsBothSides(t *testing.T) {
	f := newFixture(t, nil, nil)
	referrer := f.register(t, "ref@x.com", "")

	referred := f.register(t, "new@x.com", referrer.ReferralCode)

	newAccount := f.account(t, referred.AccountID)
	require.NotNil(t, newAccount.ReferredBy)
	assert.Equal(t, referrer.ReferralCode, *newAccount.ReferredBy)
	assert.Equal(t, model.ReferralBonus, newAccount.Coins)

	assert.Equal(t, model.ReferralBonus, f.account(t, referrer.AccountID).Coins)
	assert.Equal(t, 1, f.publisher.count(events.TypeReferralCredited))
}

func TestRegister_UnknownReferralCodeIsIgnored(t *testing.T) {
	f := newFixture(t, nil, nil)

	for _, code := range []string{"DEADBEEF", "not-a-code"} {
		result := f.register(t, fmt.Sprintf("%s@x.com", code), code)

		account := f.account(t, result.AccountID)
		assert.Nil(t, account.ReferredBy)
		assert.Zero(t, account.Coins)
	}
	assert.Zero(t, f.publisher.count(events.TypeReferralCredited))
}

func TestRegister_ConcurrentReferralsLoseNoUpdates(t *testing.T) {
	f := newFixture(t, nil, nil)
	referrer := f.register(t, "ref@x.com", "")

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.accounts.Register(context.Background(), RegisterParams{
				FirstName:        "User",
				LastName:         fmt.Sprint(i),
				Email:            fmt.Sprintf("user%d@x.com", i),
				PhoneNumber:      "555-0100",
				ReferralCodeUsed: referrer.ReferralCode,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n*model.ReferralBonus, f.account(t, referrer.AccountID).Coins)
}

func TestRegister_RetriesReferralCodeCollision(t *testing.T) {
	codes := &scriptedCodes{rand: security.NewRandomCodeGenerator(), codes: []string{"AAAA1111", "AAAA1111", "BBBB2222"}}
	f := newFixture(t, nil, codes)

	first := f.register(t, "first@x.com", "")
	second := f.register(t, "second@x.com", "")

	assert.Equal(t, "AAAA1111", first.ReferralCode)
	assert.Equal(t, "BBBB2222", second.ReferralCode)
}

func TestRegister_GivesUpAfterRepeatedCollisions(t *testing.T) {
	codes := &scriptedCodes{rand: security.NewRandomCodeGenerator()}
	for i := 0; i < 1+maxReferralCodeAttempts; i++ {
		codes.codes = append(codes.codes, "AAAA1111")
	}
	f := newFixture(t, nil, codes)
	f.register(t, "first@x.com", "")

	_, err := f.accounts.Register(context.Background(), RegisterParams{
		FirstName: "Ann", LastName: "Lee", Email: "second@x.com", PhoneNumber: "1",
	})

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "create account", storeErr.Op)

	_, err = f.repo.GetByEmail(context.Background(), "second@x.com")
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

func TestRegister_FailedReferralCreditKeepsAccount(t *testing.T) {
	repo := &failingCreditRepo{MemoryAccountRepository: repository.NewMemoryAccountRepository()}
	f := newFixture(t, repo, nil)
	referrer := f.register(t, "ref@x.com", "")

	referred := f.register(t, "new@x.com", referrer.ReferralCode)

	assert.Equal(t, maxReferralCreditAttempts, repo.attempts)
	assert.Equal(t, model.ReferralBonus, f.account(t, referred.AccountID).Coins)
	assert.Zero(t, f.account(t, referrer.AccountID).Coins)
	assert.Equal(t, 1, f.publisher.count(events.TypeReferralCreditFailed))
}

func TestRegister_OTPDeliveryFailureDoesNotFail(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.sender.err = errors.New("smtp down")

	result := f.register(t, "ann@x.com", "")
	assert.NotEmpty(t, result.OTP)
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	result := f.register(t, "ann@x.com", "")

	wrong := "000000"
	if result.OTP == wrong {
		wrong = "111111"
	}
	_, err := f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: wrong})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	id, err := f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
	require.NoError(t, err)
	assert.Equal(t, result.AccountID, id)

	account := f.account(t, id)
	assert.Equal(t, model.StateVerified, account.State())
	assert.Nil(t, account.OTP)

	_, err = f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "missing@x.com", OTP: result.OTP})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com"})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 1, f.publisher.count(events.TypeAccountVerified))
}

func TestVerifyOTP_Expired(t *testing.T) {
	f := newFixture(t, nil, nil)
	result := f.register(t, "ann@x.com", "")

	later := time.Now().UTC().Add(testOTPTTL + time.Second)
	f.accounts.now = func() time.Time { return later }

	_, err := f.accounts.VerifyOTP(context.Background(), VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyOTP_LocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	result := f.register(t, "ann@x.com", "")

	wrong := "000000"
	if result.OTP == wrong {
		wrong = "111111"
	}
	for i := 0; i < testMaxAttempts; i++ {
		_, err := f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: wrong})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = f.accounts.ResendOTP(ctx, "ann@x.com")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestVerifyOTP_ConcurrentGuessesRespectLimit(t *testing.T) {
	repo := &slowVerifyRepo{MemoryAccountRepository: repository.NewMemoryAccountRepository(), delay: 5 * time.Millisecond}
	f := newFixture(t, repo, nil)
	result := f.register(t, "ann@x.com", "")

	wrong := "000000"
	if result.OTP == wrong {
		wrong = "111111"
	}

	const guesses = 300
	var (
		wg     sync.WaitGroup
		locked atomic.Int64
	)
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.accounts.VerifyOTP(context.Background(), VerifyOTPParams{Email: "ann@x.com", OTP: wrong})
			if errors.Is(err, ErrTooManyAttempts) {
				locked.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(testMaxAttempts), repo.calls.Load())
	assert.Equal(t, int64(guesses-testMaxAttempts), locked.Load())

	_, err := f.accounts.VerifyOTP(context.Background(), VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, model.StatePending, f.account(t, result.AccountID).State())
}

func TestResendOTP(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	result := f.register(t, "ann@x.com", "")

	otp, err := f.accounts.ResendOTP(ctx, "ann@x.com")
	require.NoError(t, err)
	assert.Regexp(t, otpPattern, otp)
	assert.Equal(t, otp, f.sender.last("ann@x.com"))

	if otp != result.OTP {
		_, err = f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err = f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: otp})
	require.NoError(t, err)

	_, err = f.accounts.ResendOTP(ctx, "ann@x.com")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.accounts.ResendOTP(ctx, "bad-email")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetPassword(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	result := f.register(t, "ann@x.com", "")

	err := f.accounts.SetPassword(ctx, SetPasswordParams{AccountID: result.AccountID, Password: "secret1"})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Nil(t, f.account(t, result.AccountID).PasswordHash)

	err = f.accounts.SetPassword(ctx, SetPasswordParams{AccountID: result.AccountID})
	require.ErrorIs(t, err, ErrValidation)

	err = f.accounts.SetPassword(ctx, SetPasswordParams{AccountID: "64b7f0c2a1b2c3d4e5f60718", Password: "secret1"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "ann@x.com", OTP: result.OTP})
	require.NoError(t, err)

	require.NoError(t, f.accounts.SetPassword(ctx, SetPasswordParams{AccountID: result.AccountID, Password: "secret1"}))

	account := f.account(t, result.AccountID)
	assert.Equal(t, model.StateActive, account.State())
	require.NotNil(t, account.PasswordHash)
	assert.NotEqual(t, "secret1", *account.PasswordHash)
	assert.Equal(t, 1, f.publisher.count(events.TypeAccountActivated))
}

func TestLogin_EndToEnd(t *testing.T) {
	f := newFixture(t, nil, nil)
	result := f.activate(t, "ann@x.com", "secret1")

	login, err := f.accounts.Login(context.Background(), LoginParams{Email: "ann@x.com", Password: "secret1"})
	require.NoError(t, err)

	assert.Equal(t, result.AccountID, login.AccountID)
	assert.Equal(t, "Ann Lee", login.FullName)
	assert.Equal(t, "ann@x.com", login.Email)
	assert.Equal(t, "555-0100", login.PhoneNumber)

	claims, err := f.tokens.ValidateAccessToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.AccountID, claims.Subject)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.activate(t, "ann@x.com", "secret1")
	pending := f.register(t, "pending@x.com", "")

	verified := f.register(t, "verified@x.com", "")
	_, err := f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: "verified@x.com", OTP: verified.OTP})
	require.NoError(t, err)

	attempts := []LoginParams{
		{Email: "ann@x.com", Password: "wrong"},
		{Email: "missing@x.com", Password: "secret1"},
		{Email: "pending@x.com", Password: pending.OTP},
		{Email: "verified@x.com", Password: "secret1"},
	}
	for _, params := range attempts {
		_, err := f.accounts.Login(ctx, params)
		assert.ErrorIs(t, err, ErrInvalidCredentials, params.Email)
	}

	_, err = f.accounts.Login(ctx, LoginParams{Email: "ann@x.com"})
	assert.ErrorIs(t, err, ErrValidation)
}
