package handler

import (
	"errors"
	"net/http"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/payload"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/usecase"
)

func (h *AccountHTTPHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req payload.RegisterRequest
	if !h.decode(w, r, &req, "All fields are required") {
		return
	}

	result, err := h.accountUsecase.Register(r.Context(), usecase.RegisterParams{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		PhoneNumber:      req.PhoneNumber,
		ReferralCodeUsed: req.ReferralCodeUsed,
	})
	if err != nil {
		h.fail(w, r, err, "Registration failed")
		return
	}

	resp := payload.RegisterResponse{
		Message:      "User registered. OTP sent.",
		UserID:       result.AccountID,
		ReferralCode: result.ReferralCode,
	}
	if h.opts.ReturnOTP {
		resp.OTP = result.OTP
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *AccountHTTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req payload.VerifyOTPRequest
	if !h.decode(w, r, &req, "Email and OTP are required") {
		return
	}

	accountID, err := h.accountUsecase.VerifyOTP(r.Context(), usecase.VerifyOTPParams{
		Email: req.Email,
		OTP:   req.OTP,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidCredentials) {
			writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "Invalid OTP"})
			return
		}
		h.fail(w, r, err, "OTP verification failed")
		return
	}

	writeJSON(w, http.StatusOK, payload.VerifyOTPResponse{
		Message: "OTP verified. You can now set a password.",
		UserID:  accountID,
	})
}

func (h *AccountHTTPHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req payload.ResendOTPRequest
	if !h.decode(w, r, &req, "Email is required") {
		return
	}

	otp, err := h.accountUsecase.ResendOTP(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidCredentials) {
			writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "No pending verification for this email"})
			return
		}
		h.fail(w, r, err, "Failed to resend OTP")
		return
	}

	resp := payload.ResendOTPResponse{Message: "OTP sent."}
	if h.opts.ReturnOTP {
		resp.OTP = otp
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AccountHTTPHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req payload.SetPasswordRequest
	if !h.decode(w, r, &req, "All fields required") {
		return
	}

	err := h.accountUsecase.SetPassword(r.Context(), usecase.SetPasswordParams{
		AccountID: req.UserID,
		Password:  req.Password,
	})
	if err != nil {
		h.fail(w, r, err, "Failed to set password")
		return
	}

	writeJSON(w, http.StatusOK, payload.MessageResponse{Message: "Password set successfully"})
}

func (h *AccountHTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req payload.LoginRequest
	if !h.decode(w, r, &req, "Email and password required") {
		return
	}

	result, err := h.accountUsecase.Login(r.Context(), usecase.LoginParams{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, payload.ErrorResponse{Message: "Invalid credentials"})
			return
		}
		h.fail(w, r, err, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, payload.LoginResponse{
		Message: "Login successful",
		User: payload.LoginUser{
			ID:          result.AccountID,
			FullName:    result.FullName,
			Email:       result.Email,
			PhoneNumber: result.PhoneNumber,
		},
		AccessToken: result.AccessToken,
		ExpiresAt:   result.TokenExpiresAt,
	})
}
