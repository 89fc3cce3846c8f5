package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/repository"
	"github.com/ganapathi9191/vegie9/shared/validation"
)

// ProfileUsecase reads and updates an account's profile and address.
type ProfileUsecase interface {
	GetProfile(ctx context.Context, accountID string) (*Profile, error)
	UpdateProfile(ctx context.Context, accountID string, params UpdateProfileParams) (*Profile, error)
	UpsertAddress(ctx context.Context, accountID string, address model.Address) (*model.Address, error)
	GetAddress(ctx context.Context, accountID string) (*model.Address, error)
}

type Profile struct {
	FullName    string
	Email       string
	PhoneNumber string
}

// UpdateProfileParams defines the optional fields to update. A nil field is
// left unchanged; a supplied field must not be empty.
type UpdateProfileParams struct {
	FirstName   *string
	LastName    *string
	Email       *string
	PhoneNumber *string
}

type profileUsecase struct {
	logger      *zerolog.Logger
	accountRepo repository.AccountRepository
}

func NewProfileUsecase(logger *zerolog.Logger, accountRepo repository.AccountRepository) ProfileUsecase {
	return &profileUsecase{logger: logger, accountRepo: accountRepo}
}

func (u *profileUsecase) GetProfile(ctx context.Context, accountID string) (*Profile, error) {
	account, err := u.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return toProfile(account), nil
}

func (u *profileUsecase) UpdateProfile(
	ctx context.Context,
	accountID string,
	params UpdateProfileParams,
) (*Profile, error) {
	update, err := normalizeProfileUpdate(params)
	if err != nil {
		return nil, err
	}

	if update.Email != nil {
		owner, err := u.accountRepo.GetByEmail(ctx, *update.Email)
		switch {
		case err == nil && owner.ID.Hex() != accountID:
			return nil, ErrConflict
		case err != nil && !errors.Is(err, repository.ErrAccountNotFound):
			return nil, storeError("get account by email", err)
		}
	}

	account, err := u.accountRepo.UpdateProfile(ctx, accountID, update)
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return nil, ErrNotFound
	case errors.Is(err, repository.ErrDuplicateEmail):
		return nil, ErrConflict
	case err != nil:
		return nil, storeError("update profile", err)
	}

	u.logger.Info().Str("account_id", accountID).Msg("profile updated")

	return toProfile(account), nil
}

func (u *profileUsecase) UpsertAddress(
	ctx context.Context,
	accountID string,
	address model.Address,
) (*model.Address, error) {
	address = model.Address{
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      strings.TrimSpace(address.Line2),
		City:       strings.TrimSpace(address.City),
		State:      strings.TrimSpace(address.State),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
	}

	account, err := u.accountRepo.SetAddress(ctx, accountID, address)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError("set address", err)
	}

	return account.Address, nil
}

// GetAddress returns ErrNotFound both for unknown accounts and for accounts
// that never stored an address.
func (u *profileUsecase) GetAddress(ctx context.Context, accountID string) (*model.Address, error) {
	account, err := u.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.Address == nil {
		return nil, ErrNotFound
	}

	return account.Address, nil
}

func (u *profileUsecase) getAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := u.accountRepo.GetByID(ctx, strings.TrimSpace(accountID))
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError("get account", err)
	}

	return account, nil
}

func normalizeProfileUpdate(params UpdateProfileParams) (repository.UpdateProfileParams, error) {
	fields := validation.FieldErrors{}
	trim := func(name string, v *string) *string {
		if v == nil {
			return nil
		}
		s := strings.TrimSpace(*v)
		if s == "" {
			fields[name] = name + " must not be empty"
		}
		return &s
	}

	update := repository.UpdateProfileParams{
		FirstName:   trim("firstName", params.FirstName),
		LastName:    trim("lastName", params.LastName),
		PhoneNumber: trim("phoneNumber", params.PhoneNumber),
	}
	if params.Email != nil {
		email := normalizeEmail(*params.Email)
		if !validation.IsEmail(email) {
			fields["email"] = "email must be a valid email address"
		}
		update.Email = &email
	}

	if update.FirstName == nil && update.LastName == nil && update.Email == nil && update.PhoneNumber == nil {
		fields["profile"] = "at least one field must be provided"
	}

	if len(fields) > 0 {
		return repository.UpdateProfileParams{}, validationError(fields)
	}

	return update, nil
}

func toProfile(account *model.Account) *Profile {
	return &Profile{
		FullName:    account.FullName(),
		Email:       account.Email,
		PhoneNumber: account.PhoneNumber,
	}
}
