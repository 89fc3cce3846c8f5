package payload

import "time"

type RegisterRequest struct {
	FirstName        string `json:"firstName"                  validate:"required"`
	LastName         string `json:"lastName"                   validate:"required"`
	Email            string `json:"email"                      validate:"required,email"`
	PhoneNumber      string `json:"phoneNumber"                validate:"required"`
	ReferralCodeUsed string `json:"referralCodeUsed,omitempty"`
}

type RegisterResponse struct {
	Message      string `json:"message"`
	UserID       string `json:"userId"`
	OTP          string `json:"otp,omitempty"`
	ReferralCode string `json:"referralCode"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp"   validate:"required"`
}

type VerifyOTPResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type ResendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResendOTPResponse struct {
	Message string `json:"message"`
	OTP     string `json:"otp,omitempty"`
}

type SetPasswordRequest struct {
	UserID   string `json:"userId"   validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginUser struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

type LoginResponse struct {
	Message     string    `json:"message"`
	User        LoginUser `json:"user"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
