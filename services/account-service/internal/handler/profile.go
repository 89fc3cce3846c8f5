package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/model"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/payload"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/usecase"
)

func (h *AccountHTTPHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "userId")
	if !authorizeAccount(w, r, accountID) {
		return
	}

	profile, err := h.profileUsecase.GetProfile(r.Context(), accountID)
	if err != nil {
		h.fail(w, r, err, "Failed to get profile")
		return
	}

	writeJSON(w, http.StatusOK, payload.ProfileResponse{
		FullName:    profile.FullName,
		Email:       profile.Email,
		PhoneNumber: profile.PhoneNumber,
	})
}

func (h *AccountHTTPHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "userId")
	if !authorizeAccount(w, r, accountID) {
		return
	}

	var req payload.UpdateProfileRequest
	if !h.decode(w, r, &req, "Invalid profile fields") {
		return
	}

	profile, err := h.profileUsecase.UpdateProfile(r.Context(), accountID, usecase.UpdateProfileParams{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		if errors.Is(err, usecase.ErrConflict) {
			writeJSON(w, http.StatusBadRequest, payload.ErrorResponse{Message: "Email already in use"})
			return
		}
		h.fail(w, r, err, "Failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, payload.UpdateProfileResponse{
		Message:     "Profile updated successfully",
		FullName:    profile.FullName,
		Email:       profile.Email,
		PhoneNumber: profile.PhoneNumber,
	})
}

func (h *AccountHTTPHandler) UpsertAddress(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "userId")
	if !authorizeAccount(w, r, accountID) {
		return
	}

	var req payload.Address
	if !h.decode(w, r, &req, "Invalid address") {
		return
	}

	address, err := h.profileUsecase.UpsertAddress(r.Context(), accountID, toModelAddress(req))
	if err != nil {
		h.fail(w, r, err, "Error updating address")
		return
	}

	writeJSON(w, http.StatusOK, payload.AddressResponse{
		Message: "Address updated successfully",
		Address: toPayloadAddress(address),
	})
}

func (h *AccountHTTPHandler) GetAddress(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "userId")
	if !authorizeAccount(w, r, accountID) {
		return
	}

	address, err := h.profileUsecase.GetAddress(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, usecase.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, payload.ErrorResponse{Message: "Address not found"})
			return
		}
		h.fail(w, r, err, "Error fetching address")
		return
	}

	writeJSON(w, http.StatusOK, payload.AddressResponse{Address: toPayloadAddress(address)})
}

func toModelAddress(a payload.Address) model.Address {
	return model.Address{
		Line1:      a.AddressLine1,
		Line2:      a.AddressLine2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func toPayloadAddress(a *model.Address) payload.Address {
	return payload.Address{
		AddressLine1: a.Line1,
		AddressLine2: a.Line2,
		City:         a.City,
		State:        a.State,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
	}
}
