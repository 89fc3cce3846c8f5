package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/ratelimit"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/repository"
	"github.com/ganapathi9191/vegie9/shared/events"
	"github.com/ganapathi9191/vegie9/shared/security"
	"github.com/ganapathi9191/vegie9/shared/validation"
)

const (
	maxReferralCodeAttempts   = 5
	maxReferralCreditAttempts = 3
	referralCreditBackoff     = 50 * time.Millisecond
)

// AccountUsecase defines the account lifecycle: pending, verified, active.
type AccountUsecase interface {
	Register(ctx context.Context, params RegisterParams) (*RegisterResult, error)
	VerifyOTP(ctx context.Context, params VerifyOTPParams) (string, error)
	ResendOTP(ctx context.Context, email string) (string, error)
	SetPassword(ctx context.Context, params SetPasswordParams) error
	Login(ctx context.Context, params LoginParams) (*LoginResult, error)
}

// RegisterParams defines the parameters for registration.
type RegisterParams struct {
	FirstName        string
	LastName         string
	Email            string
	PhoneNumber      string
	ReferralCodeUsed string
}

type RegisterResult struct {
	AccountID    string
	OTP          string
	ReferralCode string
}

type VerifyOTPParams struct {
	Email string
	OTP   string
}

type SetPasswordParams struct {
	AccountID string
	Password  string
}

// LoginParams defines the parameters for login.
type LoginParams struct {
	Email    string
	Password string
}

type LoginResult struct {
	AccountID      string
	FullName       string
	Email          string
	PhoneNumber    string
	AccessToken    string
	TokenExpiresAt time.Time
}

// OTPSender delivers a one-time password out of band.
type OTPSender interface {
	SendOTP(ctx context.Context, to, name, otp string) error
}

// TokenIssuer issues access tokens for logged in accounts.
type TokenIssuer interface {
	GenerateAccessToken(accountID, email string) (string, time.Time, error)
}

type accountUsecase struct {
	logger      *zerolog.Logger
	accountRepo repository.AccountRepository
	codes       security.CodeGenerator
	hasher      security.PasswordHasher
	otpLimiter  ratelimit.OTPLimiter
	tokens      TokenIssuer
	otpSender   OTPSender
	publisher   events.Publisher
	otpTTL      time.Duration

	now           func() time.Time
	creditBackoff time.Duration
}

// NewAccountUsecase creates the lifecycle usecase. otpSender may be nil, in
// which case OTPs are only returned to the caller. An otpTTL of zero disables expiry.
func NewAccountUsecase(
	logger *zerolog.Logger,
	accountRepo repository.AccountRepository,
	codes security.CodeGenerator,
	hasher security.PasswordHasher,
	otpLimiter ratelimit.OTPLimiter,
	tokens TokenIssuer,
	otpSender OTPSender,
	publisher events.Publisher,
	otpTTL time.Duration,
) AccountUsecase {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &accountUsecase{
		logger:        logger,
		accountRepo:   accountRepo,
		codes:         codes,
		hasher:        hasher,
		otpLimiter:    otpLimiter,
		tokens:        tokens,
		otpSender:     otpSender,
		publisher:     publisher,
		otpTTL:        otpTTL,
		now:           func() time.Time { return time.Now().UTC() },
		creditBackoff: referralCreditBackoff,
	}
}

func (u *accountUsecase) Register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	params.FirstName = strings.TrimSpace(params.FirstName)
	params.LastName = strings.TrimSpace(params.LastName)
	params.Email = normalizeEmail(params.Email)
	params.PhoneNumber = strings.TrimSpace(params.PhoneNumber)
	params.ReferralCodeUsed = strings.ToUpper(strings.TrimSpace(params.ReferralCodeUsed))

	fields := requireFields(map[string]string{
		"firstName":   params.FirstName,
		"lastName":    params.LastName,
		"email":       params.Email,
		"phoneNumber": params.PhoneNumber,
	})
	if _, missing := fields["email"]; !missing && !validation.IsEmail(params.Email) {
		fields["email"] = "email must be a valid email address"
	}
	if len(fields) > 0 {
		return nil, validationError(fields)
	}

	if _, err := u.accountRepo.GetByEmail(ctx, params.Email); err == nil {
		return nil, ErrConflict
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, storeError("get account by email", err)
	}

	referrer, err := u.resolveReferrer(ctx, params.ReferralCodeUsed)
	if err != nil {
		return nil, err
	}

	otp, err := u.codes.OTP()
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Email:        params.Email,
		PhoneNumber:  params.PhoneNumber,
		OTP:          &otp,
		OTPExpiresAt: u.otpExpiry(),
	}
	if referrer != nil {
		code := referrer.ReferralCode
		account.ReferredBy = &code
		account.Coins = model.ReferralBonus
	}

	created, err := u.createWithUniqueReferralCode(ctx, account)
	if err != nil {
		return nil, err
	}

	accountID := created.ID.Hex()
	attrs := map[string]string{"referral_code": created.ReferralCode}
	if referrer != nil {
		attrs["referred_by"] = referrer.ReferralCode
		u.creditReferrer(ctx, referrer, accountID)
	}

	u.publisher.Publish(ctx, events.Event{
		Type:       events.TypeAccountRegistered,
		AccountID:  accountID,
		OccurredAt: created.CreatedAt,
		Attributes: attrs,
	})
	u.deliverOTP(ctx, created, otp)

	u.logger.Info().Str("account_id", accountID).Bool("referred", referrer != nil).Msg("account registered")

	return &RegisterResult{
		AccountID:    accountID,
		OTP:          otp,
		ReferralCode: created.ReferralCode,
	}, nil
}

// resolveReferrer returns the owner of code, or nil when code is empty or unknown.
func (u *accountUsecase) resolveReferrer(ctx context.Context, code string) (*model.Account, error) {
	if code == "" || !security.IsReferralCode(code) {
		return nil, nil
	}

	referrer, err := u.accountRepo.GetByReferralCode(ctx, code)
	if errors.Is(err, repository.ErrAccountNotFound) {
		u.logger.Debug().Msg("ignoring unknown referral code")
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get account by referral code", err)
	}

	return referrer, nil
}

// createWithUniqueReferralCode inserts account, drawing a fresh referral code
// whenever the insert collides on the referral code index.
func (u *accountUsecase) createWithUniqueReferralCode(ctx context.Context, account *model.Account) (*model.Account, error) {
	for attempt := 1; attempt <= maxReferralCodeAttempts; attempt++ {
		code, err := u.codes.ReferralCode()
		if err != nil {
			return nil, err
		}
		account.ReferralCode = code

		created, err := u.accountRepo.Create(ctx, account)
		switch {
		case err == nil:
			return created, nil
		case errors.Is(err, repository.ErrDuplicateReferralCode):
			u.logger.Warn().Int("attempt", attempt).Msg("referral code collision, retrying")
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, ErrConflict
		default:
			return nil, storeError("create account", err)
		}
	}

	return nil, storeError("create account", repository.ErrDuplicateReferralCode)
}

// creditReferrer adds the referral bonus to the referrer. The new account is
// already stored, so a credit that keeps failing is logged and published
// instead of failing the registration.
func (u *accountUsecase) creditReferrer(ctx context.Context, referrer *model.Account, referredID string) {
	ctx = context.WithoutCancel(ctx)
	code := referrer.ReferralCode
	backoff := u.creditBackoff

	var err error
	for attempt := 1; attempt <= maxReferralCreditAttempts; attempt++ {
		err = u.accountRepo.IncrementCoinsByReferralCode(ctx, code, model.ReferralBonus)
		if err == nil {
			u.publisher.Publish(ctx, events.Event{
				Type:       events.TypeReferralCredited,
				AccountID:  referrer.ID.Hex(),
				Attributes: map[string]string{"referred_account_id": referredID},
			})
			return
		}
		if errors.Is(err, repository.ErrAccountNotFound) {
			break
		}

		u.logger.Warn().Err(err).Int("attempt", attempt).Str("referrer_id", referrer.ID.Hex()).
			Msg("referral credit failed")
		if attempt < maxReferralCreditAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	u.logger.Error().Err(err).
		Str("referrer_id", referrer.ID.Hex()).
		Str("referred_account_id", referredID).
		Msg("giving up on referral credit")
	u.publisher.Publish(ctx, events.Event{
		Type:       events.TypeReferralCreditFailed,
		AccountID:  referrer.ID.Hex(),
		Attributes: map[string]string{"referred_account_id": referredID, "error": err.Error()},
	})
}

func (u *accountUsecase) VerifyOTP(ctx context.Context, params VerifyOTPParams) (string, error) {
	email := normalizeEmail(params.Email)
	otp := strings.TrimSpace(params.OTP)

	if fields := requireFields(map[string]string{"email": email, "otp": otp}); len(fields) > 0 {
		return "", validationError(fields)
	}

	if err := u.reserveAttempt(ctx, email); err != nil {
		return "", err
	}

	account, err := u.accountRepo.VerifyOTP(ctx, email, otp, u.now())
	if errors.Is(err, repository.ErrAccountNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", storeError("verify otp", err)
	}

	if err := u.otpLimiter.Reset(ctx, email); err != nil {
		u.logger.Warn().Err(err).Msg("failed to reset otp attempts")
	}

	accountID := account.ID.Hex()
	u.publisher.Publish(ctx, events.Event{Type: events.TypeAccountVerified, AccountID: accountID})
	u.logger.Info().Str("account_id", accountID).Msg("account verified")

	return accountID, nil
}

func (u *accountUsecase) ResendOTP(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if !validation.IsEmail(email) {
		return "", validationError(validation.FieldErrors{"email": "email must be a valid email address"})
	}

	if err := u.checkAttempts(ctx, email); err != nil {
		return "", err
	}

	otp, err := u.codes.OTP()
	if err != nil {
		return "", err
	}

	account, err := u.accountRepo.RotateOTP(ctx, email, otp, u.otpExpiry())
	if errors.Is(err, repository.ErrAccountNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", storeError("rotate otp", err)
	}

	u.deliverOTP(ctx, account, otp)

	return otp, nil
}

func (u *accountUsecase) SetPassword(ctx context.Context, params SetPasswordParams) error {
	accountID := strings.TrimSpace(params.AccountID)

	fields := requireFields(map[string]string{"userId": accountID, "password": params.Password})
	if len(fields) > 0 {
		return validationError(fields)
	}

	hash, err := u.hasher.Hash(params.Password)
	if err != nil {
		return err
	}

	account, err := u.accountRepo.SetPasswordHash(ctx, accountID, hash)
	if errors.Is(err, repository.ErrAccountNotFound) {
		// The conditional update matched nothing: either the account does not
		// exist or it is still pending.
		if _, getErr := u.accountRepo.GetByID(ctx, accountID); getErr != nil {
			if errors.Is(getErr, repository.ErrAccountNotFound) {
				return ErrNotFound
			}
			return storeError("get account", getErr)
		}
		return ErrInvalidState
	}
	if err != nil {
		return storeError("set password", err)
	}

	u.publisher.Publish(ctx, events.Event{Type: events.TypeAccountActivated, AccountID: account.ID.Hex()})

	return nil
}

func (u *accountUsecase) Login(ctx context.Context, params LoginParams) (*LoginResult, error) {
	email := normalizeEmail(params.Email)

	if fields := requireFields(map[string]string{"email": email, "password": params.Password}); len(fields) > 0 {
		return nil, validationError(fields)
	}

	account, err := u.accountRepo.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		u.logger.Debug().Msg("login rejected: unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeError("get account by email", err)
	}

	if account.State() != model.StateActive {
		u.logger.Debug().Str("account_id", account.ID.Hex()).Str("state", string(account.State())).
			Msg("login rejected: account not active")
		return nil, ErrInvalidCredentials
	}

	ok, err := u.hasher.Verify(params.Password, *account.PasswordHash)
	if err != nil {
		u.logger.Error().Err(err).Str("account_id", account.ID.Hex()).Msg("failed to verify password hash")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		u.logger.Debug().Str("account_id", account.ID.Hex()).Msg("login rejected: password mismatch")
		return nil, ErrInvalidCredentials
	}

	accountID := account.ID.Hex()
	token, expiresAt, err := u.tokens.GenerateAccessToken(accountID, account.Email)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccountID:      accountID,
		FullName:       account.FullName(),
		Email:          account.Email,
		PhoneNumber:    account.PhoneNumber,
		AccessToken:    token,
		TokenExpiresAt: expiresAt,
	}, nil
}

// checkAttempts fails open when the limiter backend is unavailable.
func (u *accountUsecase) checkAttempts(ctx context.Context, email string) error {
	allowed, err := u.otpLimiter.Allow(ctx, email)
	if err != nil {
		u.logger.Warn().Err(err).Msg("otp limiter unavailable")
		return nil
	}
	if !allowed {
		return ErrTooManyAttempts
	}
	return nil
}

// reserveAttempt counts the attempt before it is evaluated. Like checkAttempts
// it fails open when the limiter backend is unavailable.
func (u *accountUsecase) reserveAttempt(ctx context.Context, email string) error {
	allowed, err := u.otpLimiter.Reserve(ctx, email)
	if err != nil {
		u.logger.Warn().Err(err).Msg("failed to record otp attempt")
		return nil
	}
	if !allowed {
		return ErrTooManyAttempts
	}
	return nil
}

func (u *accountUsecase) otpExpiry() *time.Time {
	if u.otpTTL <= 0 {
		return nil
	}
	expiresAt := u.now().Add(u.otpTTL)
	return &expiresAt
}

func (u *accountUsecase) deliverOTP(ctx context.Context, account *model.Account, otp string) {
	if u.otpSender == nil {
		return
	}

	if err := u.otpSender.SendOTP(ctx, account.Email, account.FirstName, otp); err != nil {
		u.logger.Error().Err(err).Str("account_id", account.ID.Hex()).Msg("failed to deliver otp")
	}
}
