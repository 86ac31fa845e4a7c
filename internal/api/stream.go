package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/serena-health/breath-engine/internal/fanout"
	"github.com/serena-health/breath-engine/internal/model"
)

// StreamHandler serves the live SSE feed of signal records, backed by the
// fanout bus. Trimmed from the teacher's event-replay SSE endpoint: there is
// no Last-Event-ID replay here, since a dropped connection just resubscribes
// and reads the next derived beat rather than needing to recover a buffered
// call-event history.
type StreamHandler struct {
	bus *fanout.Bus
}

func NewStreamHandler(bus *fanout.Bus) *StreamHandler {
	return &StreamHandler{bus: bus}
}

func (h *StreamHandler) Routes(r chi.Router) {
	r.Get("/stream", h.Stream)
}

// Stream opens an SSE connection scoped to one device_id (or every device,
// via model.UnknownDeviceID, when device_id is omitted), optionally
// filtered to a comma-separated set of signal types.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	deviceID := model.UnknownDeviceID
	if v, ok := QueryString(r, "device_id"); ok {
		deviceID = v
	}
	wanted := make(map[model.SignalType]bool)
	for _, s := range QueryStringList(r, "signals") {
		wanted[model.SignalType(s)] = true
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.bus.Subscribe(deviceID)
	defer cancel()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Str("device_id", deviceID).Msg("sse client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("device_id", deviceID).Msg("sse client disconnected")
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			if len(wanted) > 0 && !wanted[rec.Signal] {
				continue
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				log.Warn().Err(err).Msg("failed to marshal signal record for sse")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
