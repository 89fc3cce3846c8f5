package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
)

var _ AccountRepository = (*MemoryAccountRepository)(nil)

// MemoryAccountRepository is an AccountRepository kept in process memory.
// A single mutex serializes writes, which gives the same uniqueness and
// conditional-update guarantees as the MongoDB indexes and filters.
type MemoryAccountRepository struct {
	mu             sync.RWMutex
	accounts       map[bson.ObjectID]*model.Account
	byEmail        map[string]bson.ObjectID
	byReferralCode map[string]bson.ObjectID
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		accounts:       make(map[bson.ObjectID]*model.Account),
		byEmail:        make(map[string]bson.ObjectID),
		byReferralCode: make(map[string]bson.ObjectID),
	}
}

func (r *MemoryAccountRepository) Create(_ context.Context, account *model.Account) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[account.Email]; ok {
		return nil, ErrDuplicateEmail
	}
	if _, ok := r.byReferralCode[account.ReferralCode]; ok {
		return nil, ErrDuplicateReferralCode
	}

	now := time.Now().UTC()
	stored := account.Clone()
	stored.ID = bson.NewObjectID()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.accounts[stored.ID] = stored
	r.byEmail[stored.Email] = stored.ID
	r.byReferralCode[stored.ReferralCode] = stored.ID

	return stored.Clone(), nil
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.lookupID(id)
	if !ok {
		return nil, ErrAccountNotFound
	}
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.accounts[id].Clone(), nil
}

func (r *MemoryAccountRepository) GetByReferralCode(_ context.Context, code string) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReferralCode[code]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return r.accounts[id].Clone(), nil
}

func (r *MemoryAccountRepository) IncrementCoinsByReferralCode(_ context.Context, code string, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byReferralCode[code]
	if !ok {
		return ErrAccountNotFound
	}

	account := r.accounts[id]
	account.Coins += amount
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryAccountRepository) VerifyOTP(_ context.Context, email, otp string, now time.Time) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrAccountNotFound
	}

	account := r.accounts[id]
	if account.IsVerified || account.OTP == nil || *account.OTP != otp || account.OTPExpired(now) {
		return nil, ErrAccountNotFound
	}

	account.IsVerified = true
	account.OTP = nil
	account.OTPExpiresAt = nil
	account.UpdatedAt = now
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) RotateOTP(
	_ context.Context,
	email, otp string,
	expiresAt *time.Time,
) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok || r.accounts[id].IsVerified {
		return nil, ErrAccountNotFound
	}

	account := r.accounts[id]
	account.OTP = &otp
	account.OTPExpiresAt = nil
	if expiresAt != nil {
		t := *expiresAt
		account.OTPExpiresAt = &t
	}
	account.UpdatedAt = time.Now().UTC()
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) SetPasswordHash(_ context.Context, id, hash string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.lookupID(id)
	if !ok || !account.IsVerified {
		return nil, ErrAccountNotFound
	}

	account.PasswordHash = &hash
	account.UpdatedAt = time.Now().UTC()
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) UpdateProfile(
	_ context.Context,
	id string,
	params UpdateProfileParams,
) (*model.Account, error) {
	if params.empty() {
		return nil, errNoProfileFields
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.lookupID(id)
	if !ok {
		return nil, ErrAccountNotFound
	}

	if params.Email != nil && *params.Email != account.Email {
		if _, taken := r.byEmail[*params.Email]; taken {
			return nil, ErrDuplicateEmail
		}
		delete(r.byEmail, account.Email)
		account.Email = *params.Email
		r.byEmail[account.Email] = account.ID
	}
	if params.FirstName != nil {
		account.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		account.LastName = *params.LastName
	}
	if params.PhoneNumber != nil {
		account.PhoneNumber = *params.PhoneNumber
	}

	account.UpdatedAt = time.Now().UTC()
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) SetAddress(_ context.Context, id string, address model.Address) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.lookupID(id)
	if !ok {
		return nil, ErrAccountNotFound
	}

	account.Address = &address
	account.UpdatedAt = time.Now().UTC()
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) Ping(context.Context) error {
	return nil
}

// lookupID must be called with r.mu held.
func (r *MemoryAccountRepository) lookupID(id string) (*model.Account, bool) {
	objectID, err := bson.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return nil, false
	}

	account, ok := r.accounts[objectID]
	return account, ok
}
