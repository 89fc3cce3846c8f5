package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/payload"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/usecase"
	"github.com/ganapathi9191/vegie9/shared/middleware"
	"github.com/ganapathi9191/vegie9/shared/validation"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options controls what the handlers reveal to clients.
type Options struct {
	// ReturnOTP echoes generated OTPs in register and resend responses.
	ReturnOTP bool
	// ExposeErrors adds the internal error text to 500 responses.
	ExposeErrors bool
}

// AccountHTTPHandler serves the account endpoints.
type AccountHTTPHandler struct {
	logger         *zerolog.Logger
	accountUsecase usecase.AccountUsecase
	profileUsecase usecase.ProfileUsecase
	validator      *validation.Validator
	store          Pinger
	opts           Options
}

func NewAccountHTTPHandler(
	logger *zerolog.Logger,
	accountUsecase usecase.AccountUsecase,
	profileUsecase usecase.ProfileUsecase,
	validator *validation.Validator,
	store Pinger,
	opts Options,
) *AccountHTTPHandler {
	return &AccountHTTPHandler{
		logger:         logger,
		accountUsecase: accountUsecase,
		profileUsecase: profileUsecase,
		validator:      validator,
		store:          store,
		opts:           opts,
	}
}

// decode reads a JSON body into dst and validates it. On failure the error
// response has already been written.
func (h *AccountHTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any, message string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "Invalid request body"})
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		resp := payload.ErrorResponse{Message: message}
		var fields validation.FieldErrors
		if errors.As(err, &fields) {
			resp.Details = fields
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}

	return true
}

// fail maps a usecase error to a response. internalMessage is used for 500s.
func (h *AccountHTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error, internalMessage string) {
	var fields validation.FieldErrors

	switch {
	case errors.Is(err, usecase.ErrValidation):
		resp := payload.ErrorResponse{Message: "All fields are required"}
		if errors.As(err, &fields) {
			resp.Details = fields
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, usecase.ErrConflict):
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "User already exists"})
	case errors.Is(err, usecase.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "User not verified"})
	case errors.Is(err, usecase.ErrNotFound):
		writeJSON(w, http.StatusNotFound, payload.ErrorResponse{Message: "User not found"})
	case errors.Is(err, usecase.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, payload.ErrorResponse{Message: "Too many attempts, try again later"})
	case errors.Is(err, usecase.ErrInvalidCredentials):
		writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "Invalid credentials"})
	default:
		h.log(r).Error().Err(err).Msg(internalMessage)

		resp := payload.ErrorResponse{Message: internalMessage}
		if h.opts.ExposeErrors {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	h.log(r).Debug().Err(err).Msg("request rejected")
}

// authorizeAccount rejects requests whose access token belongs to another
// account. Without a token in the context (auth not required) it allows the request.
func authorizeAccount(w http.ResponseWriter, r *http.Request, accountID string) bool {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.Subject == accountID {
		return true
	}

	writeJSON(w, http.StatusForbidden, payload.ErrorResponse{Message: "Forbidden"})
	return false
}

// log returns the request-scoped logger, falling back to the handler's own.
func (h *AccountHTTPHandler) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return h.logger
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
