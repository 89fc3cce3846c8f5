package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/ratelimit"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/repository"
	"github.com/ganapathi9191/vegie9/shared/auth"
	"github.com/ganapathi9191/vegie9/shared/events"
	"github.com/ganapathi9191/vegie9/shared/security"
)

const (
	testOTPTTL      = 10 * time.Minute
	testMaxAttempts = 3
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type recordingSender struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (s *recordingSender) SendOTP(_ context.Context, to, _, otp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string]string)
	}
	s.sent[to] = otp
	return s.err
}

func (s *recordingSender) last(to string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[to]
}

// scriptedCodes hands out referral codes from a fixed list, then falls back to random ones.
type scriptedCodes struct {
	mu    sync.Mutex
	codes []string
	rand  *security.RandomCodeGenerator
}

func (g *scriptedCodes) ReferralCode() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.codes) == 0 {
		return g.rand.ReferralCode()
	}
	code := g.codes[0]
	g.codes = g.codes[1:]
	return code, nil
}

func (g *scriptedCodes) OTP() (string, error) {
	return g.rand.OTP()
}

// failingCreditRepo fails every referral credit.
type failingCreditRepo struct {
	*repository.MemoryAccountRepository
	mu       sync.Mutex
	attempts int
}

func (r *failingCreditRepo) IncrementCoinsByReferralCode(context.Context, string, int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return errors.New("write conflict")
}

// slowVerifyRepo delays every OTP check and counts how many reach the store.
type slowVerifyRepo struct {
	*repository.MemoryAccountRepository
	delay time.Duration
	calls atomic.Int64
}

func (r *slowVerifyRepo) VerifyOTP(ctx context.Context, email, otp string, now time.Time) (*model.Account, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	return r.MemoryAccountRepository.VerifyOTP(ctx, email, otp, now)
}

type fixture struct {
	repo      repository.AccountRepository
	publisher *recordingPublisher
	sender    *recordingSender
	tokens    *auth.JWTAuthenticator
	accounts  *accountUsecase
	profiles  ProfileUsecase
}

func newFixture(t *testing.T, repo repository.AccountRepository, codes security.CodeGenerator) *fixture {
	t.Helper()

	if repo == nil {
		repo = repository.NewMemoryAccountRepository()
	}
	if codes == nil {
		codes = security.NewRandomCodeGenerator()
	}

	logger := zerolog.Nop()
	f := &fixture{
		repo:      repo,
		publisher: &recordingPublisher{},
		sender:    &recordingSender{},
		tokens:    auth.NewJWTAuthenticator("0123456789abcdef0123456789abcdef", "vegie9-test", time.Minute),
	}

	accounts := NewAccountUsecase(
		&logger,
		repo,
		codes,
		security.NewBcryptHasher(bcrypt.MinCost),
		ratelimit.NewMemoryOTPLimiter(testMaxAttempts, time.Minute),
		f.tokens,
		f.sender,
		f.publisher,
		testOTPTTL,
	).(*accountUsecase)
	accounts.creditBackoff = 0

	f.accounts = accounts
	f.profiles = NewProfileUsecase(&logger, repo)
	return f
}

func (f *fixture) register(t *testing.T, email, referralCode string) *RegisterResult {
	t.Helper()

	result, err := f.accounts.Register(context.Background(), RegisterParams{
		FirstName:        "Ann",
		LastName:         "Lee",
		Email:            email,
		PhoneNumber:      "555-0100",
		ReferralCodeUsed: referralCode,
	})
	require.NoError(t, err)
	return result
}

// activate registers, verifies and sets a password.
func (f *fixture) activate(t *testing.T, email, password string) *RegisterResult {
	t.Helper()
	ctx := context.Background()

	result := f.register(t, email, "")
	_, err := f.accounts.VerifyOTP(ctx, VerifyOTPParams{Email: email, OTP: result.OTP})
	require.NoError(t, err)
	require.NoError(t, f.accounts.SetPassword(ctx, SetPasswordParams{AccountID: result.AccountID, Password: password}))
	return result
}

func (f *fixture) account(t *testing.T, id string) *model.Account {
	t.Helper()

	account, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return account
}
