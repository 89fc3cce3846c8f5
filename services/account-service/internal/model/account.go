package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// AccountState is the activation state derived from an account's fields.
type AccountState string

const (
	StatePending  AccountState = "pending"
	StateVerified AccountState = "verified"
	StateActive   AccountState = "active"
)

// ReferralBonus is the number of coins credited to both sides of a referral.
const ReferralBonus int64 = 100

// Account represents a registered user.
type Account struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	FirstName    string        `bson:"first_name"`
	LastName     string        `bson:"last_name"`
	Email        string        `bson:"email"`
	PhoneNumber  string        `bson:"phone_number"`
	PasswordHash *string       `bson:"password_hash,omitempty"`
	OTP          *string       `bson:"otp,omitempty"`
	OTPExpiresAt *time.Time    `bson:"otp_expires_at,omitempty"`
	IsVerified   bool          `bson:"is_verified"`
	ReferralCode string        `bson:"referral_code"`
	ReferredBy   *string       `bson:"referred_by,omitempty"`
	Coins        int64         `bson:"coins"`
	Address      *Address      `bson:"address,omitempty"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

// Address is the single postal address of an account.
type Address struct {
	Line1      string `bson:"address_line1"`
	Line2      string `bson:"address_line2"`
	City       string `bson:"city"`
	State      string `bson:"state"`
	PostalCode string `bson:"postal_code"`
	Country    string `bson:"country"`
}

func (a *Account) FullName() string {
	return a.FirstName + " " + a.LastName
}

// State derives the activation state. A password hash only exists on verified accounts.
func (a *Account) State() AccountState {
	switch {
	case !a.IsVerified:
		return StatePending
	case a.PasswordHash == nil:
		return StateVerified
	default:
		return StateActive
	}
}

// OTPExpired reports whether the pending OTP has an expiry that lies before now.
func (a *Account) OTPExpired(now time.Time) bool {
	return a.OTPExpiresAt != nil && !now.Before(*a.OTPExpiresAt)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Account) Clone() *Account {
	c := *a
	c.PasswordHash = cloneString(a.PasswordHash)
	c.OTP = cloneString(a.OTP)
	c.ReferredBy = cloneString(a.ReferredBy)
	if a.OTPExpiresAt != nil {
		t := *a.OTPExpiresAt
		c.OTPExpiresAt = &t
	}
	if a.Address != nil {
		addr := *a.Address
		c.Address = &addr
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
