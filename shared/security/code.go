package security

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeLength   = 8

	otpMin = 100000
	otpMax = 999999
)

// CodeGenerator produces referral codes and one-time passwords.
// Codes are not unique by construction; callers rely on the store's unique index.
type CodeGenerator interface {
	ReferralCode() (string, error)
	OTP() (string, error)
}

// RandomCodeGenerator draws codes from crypto/rand.
type RandomCodeGenerator struct{}

// NewRandomCodeGenerator creates a RandomCodeGenerator.
func NewRandomCodeGenerator() *RandomCodeGenerator {
	return &RandomCodeGenerator{}
}

// ReferralCode returns 8 characters drawn uniformly from A-Z and 0-9.
func (g *RandomCodeGenerator) ReferralCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(referralCodeAlphabet)))

	code := make([]byte, referralCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		code[i] = referralCodeAlphabet[n.Int64()]
	}

	return string(code), nil
}

// OTP returns a 6-digit numeric code in [100000, 999999].
func (g *RandomCodeGenerator) OTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}

	return strconv.FormatInt(otpMin+n.Int64(), 10), nil
}

// IsReferralCode reports whether s has the shape of a generated referral code.
func IsReferralCode(s string) bool {
	if len(s) != referralCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
