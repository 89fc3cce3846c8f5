package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrDuplicateReferralCode = errors.New("referral code already taken")

	errNoProfileFields = errors.New("no profile fields to update")
)

// AccountRepository defines the persistence operations on accounts.
// Every state transition is a single conditional write, so concurrent
// callers cannot observe or produce a half-applied transition.
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) (*model.Account, error)
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	GetByReferralCode(ctx context.Context, code string) (*model.Account, error)
	// IncrementCoinsByReferralCode atomically adds amount to the coins of the
	// account owning code.
	IncrementCoinsByReferralCode(ctx context.Context, code string, amount int64) error
	// VerifyOTP marks the pending account matching email and otp as verified
	// and clears the OTP. An expired OTP does not match.
	VerifyOTP(ctx context.Context, email, otp string, now time.Time) (*model.Account, error)
	// RotateOTP replaces the OTP of a pending account.
	RotateOTP(ctx context.Context, email, otp string, expiresAt *time.Time) (*model.Account, error)
	// SetPasswordHash stores hash on a verified account. It returns
	// ErrAccountNotFound when no verified account has the given id.
	SetPasswordHash(ctx context.Context, id, hash string) (*model.Account, error)
	UpdateProfile(ctx context.Context, id string, params UpdateProfileParams) (*model.Account, error)
	SetAddress(ctx context.Context, id string, address model.Address) (*model.Account, error)
	Ping(ctx context.Context) error
}

// UpdateProfileParams defines the optional profile fields to update.
// Only the fields that are not nil will be updated.
type UpdateProfileParams struct {
	FirstName   *string
	LastName    *string
	Email       *string
	PhoneNumber *string
}

func (p UpdateProfileParams) empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil && p.PhoneNumber == nil
}

const (
	accountCollection = "accounts"

	emailIndex        = "email_unique"
	referralCodeIndex = "referral_code_unique"
)

type accountMongoRepository struct {
	db *mongo.Database
}

func NewAccountMongoRepository(ctx context.Context, logger *zerolog.Logger, db *mongo.Database) AccountRepository {
	collection := db.Collection(accountCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(emailIndex),
		},
		{
			Keys:    bson.D{{Key: "referral_code", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(referralCodeIndex),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create account indexes")
	}

	return &accountMongoRepository{db: db}
}

func (r *accountMongoRepository) collection() *mongo.Collection {
	return r.db.Collection(accountCollection)
}

func (r *accountMongoRepository) Create(ctx context.Context, account *model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	result, err := r.collection().InsertOne(ctx, account)
	if err != nil {
		return nil, translateWriteError(err)
	}

	if objectID, ok := result.InsertedID.(bson.ObjectID); ok {
		account.ID = objectID
	} else {
		return nil, errors.New("failed to convert inserted ID to ObjectID")
	}

	return account, nil
}

func (r *accountMongoRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	return r.findOne(ctx, bson.M{"_id": objectID})
}

func (r *accountMongoRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *accountMongoRepository) GetByReferralCode(ctx context.Context, code string) (*model.Account, error) {
	return r.findOne(ctx, bson.M{"referral_code": code})
}

func (r *accountMongoRepository) IncrementCoinsByReferralCode(ctx context.Context, code string, amount int64) error {
	result, err := r.collection().UpdateOne(
		ctx,
		bson.M{"referral_code": code},
		bson.M{
			"$inc": bson.M{"coins": amount},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *accountMongoRepository) VerifyOTP(
	ctx context.Context,
	email, otp string,
	now time.Time,
) (*model.Account, error) {
	filter := bson.M{
		"email":       email,
		"otp":         otp,
		"is_verified": false,
		"$or": bson.A{
			bson.M{"otp_expires_at": nil},
			bson.M{"otp_expires_at": bson.M{"$gt": now}},
		},
	}
	update := bson.M{
		"$set":   bson.M{"is_verified": true, "updated_at": now},
		"$unset": bson.M{"otp": "", "otp_expires_at": ""},
	}

	return r.findOneAndUpdate(ctx, filter, update)
}

func (r *accountMongoRepository) RotateOTP(
	ctx context.Context,
	email, otp string,
	expiresAt *time.Time,
) (*model.Account, error) {
	set := bson.M{"otp": otp, "updated_at": time.Now().UTC()}
	update := bson.M{"$set": set}
	if expiresAt != nil {
		set["otp_expires_at"] = *expiresAt
	} else {
		update["$unset"] = bson.M{"otp_expires_at": ""}
	}

	return r.findOneAndUpdate(ctx, bson.M{"email": email, "is_verified": false}, update)
}

func (r *accountMongoRepository) SetPasswordHash(ctx context.Context, id, hash string) (*model.Account, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	return r.findOneAndUpdate(
		ctx,
		bson.M{"_id": objectID, "is_verified": true},
		bson.M{"$set": bson.M{"password_hash": hash, "updated_at": time.Now().UTC()}},
	)
}

func (r *accountMongoRepository) UpdateProfile(
	ctx context.Context,
	id string,
	params UpdateProfileParams,
) (*model.Account, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	// Build update query
	updateMap := bson.M{}
	if params.FirstName != nil {
		updateMap["first_name"] = *params.FirstName
	}
	if params.LastName != nil {
		updateMap["last_name"] = *params.LastName
	}
	if params.Email != nil {
		updateMap["email"] = *params.Email
	}
	if params.PhoneNumber != nil {
		updateMap["phone_number"] = *params.PhoneNumber
	}

	if len(updateMap) == 0 {
		return nil, errNoProfileFields
	}

	updateMap["updated_at"] = time.Now().UTC()

	return r.findOneAndUpdate(ctx, bson.M{"_id": objectID}, bson.M{"$set": updateMap})
}

func (r *accountMongoRepository) SetAddress(
	ctx context.Context,
	id string,
	address model.Address,
) (*model.Account, error) {
	objectID, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	return r.findOneAndUpdate(
		ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"address": address, "updated_at": time.Now().UTC()}},
	)
}

func (r *accountMongoRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

func (r *accountMongoRepository) findOne(ctx context.Context, filter bson.M) (*model.Account, error) {
	result := r.collection().FindOne(ctx, filter)
	if result.Err() != nil {
		if errors.Is(result.Err(), mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, result.Err()
	}

	var account model.Account
	if err := result.Decode(&account); err != nil {
		return nil, err
	}

	return &account, nil
}

func (r *accountMongoRepository) findOneAndUpdate(
	ctx context.Context,
	filter bson.M,
	update bson.M,
) (*model.Account, error) {
	result := r.collection().FindOneAndUpdate(
		ctx,
		filter,
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	if result.Err() != nil {
		if errors.Is(result.Err(), mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, translateWriteError(result.Err())
	}

	var account model.Account
	if err := result.Decode(&account); err != nil {
		return nil, err
	}

	return &account, nil
}

// translateWriteError maps unique index violations to the sentinel of the
// index that fired.
func translateWriteError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, referralCodeIndex):
		return ErrDuplicateReferralCode
	case strings.Contains(msg, emailIndex):
		return ErrDuplicateEmail
	default:
		return err
	}
}
