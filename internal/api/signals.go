package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

// RecentSignalStore is the read-side persistence surface backing the bounded
// signal backfill endpoint.
type RecentSignalStore interface {
	RecentSignals(ctx context.Context, deviceID string, signal model.SignalType, limit int) ([]model.SignalRecord, error)
}

// SignalsHandler serves GET /api/v1/signals/recent.
type SignalsHandler struct {
	store RecentSignalStore
	log   zerolog.Logger
}

func NewSignalsHandler(store RecentSignalStore, log zerolog.Logger) *SignalsHandler {
	return &SignalsHandler{store: store, log: log.With().Str("component", "signals").Logger()}
}

func (h *SignalsHandler) Routes(r chi.Router) {
	r.Get("/signals/recent", h.Recent)
}

// Recent returns the most recent records for a device, newest first, bounded
// by limit (default 100, max 1000), optionally filtered to one signal type.
func (h *SignalsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := QueryString(r, "device_id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	limit := 100
	if n, ok := QueryInt(r, "limit"); ok {
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	var signal model.SignalType
	if s, ok := QueryString(r, "signal"); ok {
		signal = model.SignalType(s)
	}

	recs, err := h.store.RecentSignals(r.Context(), deviceID, signal, limit)
	if err != nil {
		h.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to load recent signals")
		WriteError(w, http.StatusInternalServerError, "failed to load recent signals")
		return
	}
	if recs == nil {
		recs = []model.SignalRecord{}
	}

	WriteJSON(w, http.StatusOK, recs)
}
