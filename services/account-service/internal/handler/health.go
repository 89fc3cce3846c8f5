package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/payload"
)

const healthTimeout = 2 * time.Second

func (h *AccountHTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log(r).Warn().Err(err).Msg("store ping failed")
		writeJSON(w, http.StatusServiceUnavailable, payload.HealthResponse{Status: "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, payload.HealthResponse{Status: "ok"})
}
