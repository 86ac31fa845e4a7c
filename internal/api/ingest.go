package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/fanout"
	"github.com/serena-health/breath-engine/internal/metrics"
	"github.com/serena-health/breath-engine/internal/model"
	"github.com/serena-health/breath-engine/internal/pipeline"
	"github.com/serena-health/breath-engine/internal/session"
)

// DeviceStore is the persistence surface ingest touches on every record.
type DeviceStore interface {
	TouchDevice(ctx context.Context, deviceID string, now time.Time) error
}

// IngestSignalStore is the persistence surface every ingested record (not
// just derived ones) is flushed through, mirroring the original's
// insert_many over the whole request's records_to_insert.
type IngestSignalStore interface {
	InsertSignalRecords(ctx context.Context, recs []model.SignalRecord) error
}

// IngestSessionStore is the session lifecycle persistence surface a
// BreathTarget record drives.
type IngestSessionStore interface {
	CreateSession(ctx context.Context, sess model.Session) error
	UpdateSessionTarget(ctx context.Context, sessionID, technique string, targetRR float64, paramVersion string) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, status model.SessionStatus) error
}

// IngestResponse mirrors the original's IngestResponse model. SessionID is
// encoded as null when no session is active.
type IngestResponse struct {
	Accepted  int     `json:"accepted"`
	SessionID *string `json:"session_id"`
}

// IngestHandler accepts sensor data as NDJSON or a JSON object/array, per
// record: touches the device, drives session lifecycle for BreathTarget
// records, broadcasts to SSE subscribers, persists the batch, and hands ecg
// records with an active session to the derivation pipeline. A direct port
// of ingest.py's ingest/process_record pair.
type IngestHandler struct {
	devices  *session.Registry
	deviceDB DeviceStore
	signals  IngestSignalStore
	sessions IngestSessionStore
	bus      *fanout.Bus
	pipeline *pipeline.Processor
	log      zerolog.Logger
}

// NewIngestHandler builds an IngestHandler. deviceDB, signals, and sessions
// may be nil in tests that don't exercise persistence.
func NewIngestHandler(devices *session.Registry, deviceDB DeviceStore, signals IngestSignalStore, sessions IngestSessionStore, bus *fanout.Bus, proc *pipeline.Processor, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		devices:  devices,
		deviceDB: deviceDB,
		signals:  signals,
		sessions: sessions,
		bus:      bus,
		pipeline: proc,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

func (h *IngestHandler) Routes(r chi.Router) {
	r.Post("/ingest", h.Ingest)
}

// Ingest parses the request body as NDJSON (one JSON object or array per
// line, tolerant of a missing trailing newline) or a single JSON
// object/array, processing each record in turn.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now()
	ctype := strings.ToLower(r.Header.Get("Content-Type"))

	var accepted int
	var activeSessionID string
	var toInsert []model.SignalRecord

	handle := func(raw model.RawRecord) {
		rec := h.processRecord(ctx, raw, now)
		if rec.SessionID != "" {
			activeSessionID = rec.SessionID
		}
		toInsert = append(toInsert, rec)
		accepted++
		metrics.IngestRecordsAcceptedTotal.Inc()
	}

	if strings.Contains(ctype, "application/x-ndjson") {
		reader := bufio.NewReaderSize(r.Body, 64*1024)
		for {
			line, err := reader.ReadBytes('\n')
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				h.decodeLine(line, handle)
			}
			if err != nil {
				break
			}
		}
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		body = bytes.TrimSpace(body)
		if len(body) > 0 {
			if body[0] == '[' {
				var items []model.RawRecord
				if err := json.Unmarshal(body, &items); err != nil {
					WriteError(w, http.StatusBadRequest, "invalid JSON array")
					return
				}
				for _, raw := range items {
					handle(raw)
				}
			} else {
				var raw model.RawRecord
				if err := json.Unmarshal(body, &raw); err != nil {
					WriteError(w, http.StatusBadRequest, "invalid JSON object")
					return
				}
				handle(raw)
			}
		}
	}

	if h.signals != nil && len(toInsert) > 0 {
		if err := h.signals.InsertSignalRecords(ctx, toInsert); err != nil {
			h.log.Error().Err(err).Int("count", len(toInsert)).Msg("failed to persist ingested records")
			WriteError(w, http.StatusInternalServerError, "failed to persist ingested records")
			return
		}
	}

	resp := IngestResponse{Accepted: accepted}
	if activeSessionID != "" {
		resp.SessionID = &activeSessionID
	}
	WriteJSON(w, http.StatusOK, resp)
}

// decodeLine parses one NDJSON line, tolerant of a bare object or an array
// of objects. Malformed lines are logged and skipped rather than failing
// the whole request.
func (h *IngestHandler) decodeLine(line []byte, handle func(model.RawRecord)) {
	if line[0] == '[' {
		var items []model.RawRecord
		if err := json.Unmarshal(line, &items); err != nil {
			h.log.Debug().Err(err).Msg("skipping malformed ndjson line")
			return
		}
		for _, raw := range items {
			handle(raw)
		}
		return
	}
	var raw model.RawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		h.log.Debug().Err(err).Msg("skipping malformed ndjson line")
		return
	}
	handle(raw)
}

// processRecord normalizes one inbound record, drives BreathTarget session
// lifecycle, broadcasts it, and forwards ecg records to the derivation
// pipeline when a session is active.
func (h *IngestHandler) processRecord(ctx context.Context, raw model.RawRecord, now time.Time) model.SignalRecord {
	rec := model.Normalize(raw, now)

	if h.deviceDB != nil {
		if err := h.deviceDB.TouchDevice(ctx, rec.DeviceID, now); err != nil {
			h.log.Warn().Err(err).Str("device_id", rec.DeviceID).Msg("failed to touch device")
		}
	}

	dev := h.devices.Get(ctx, rec.DeviceID)

	var sessionID string
	if rec.Signal == model.SignalBreathTgt {
		sessionID = h.handleBreathTarget(ctx, dev, raw, now)
	} else {
		dev.Lock()
		sessionID = dev.SessionID
		dev.Unlock()
	}
	rec.SessionID = sessionID

	h.bus.Publish(rec)
	metrics.SignalsBroadcastTotal.WithLabelValues(string(rec.Signal)).Inc()

	if rec.Signal == model.SignalECG {
		if sessionID != "" {
			h.pipeline.ProcessECG(ctx, rec)
		} else {
			h.log.Debug().Str("device_id", rec.DeviceID).Msg("no active session, ecg record not processed")
		}
	}

	return rec
}

// handleBreathTarget implements process_record's three-way TargetRR branch:
// zero ends the active session, positive starts or updates one, and
// negative (which the wire format never legitimately sends) is a no-op that
// leaves the current session untouched.
func (h *IngestHandler) handleBreathTarget(ctx context.Context, dev *session.Device, raw model.RawRecord, now time.Time) string {
	var targetRR float64
	if raw.TargetRR != nil {
		targetRR = *raw.TargetRR
	}

	switch {
	case targetRR == 0:
		dev.Lock()
		sessionID := dev.SessionID
		dev.SessionID = ""
		dev.CurrentTargetRR = 0
		dev.CurrentTechnique = ""
		dev.CurrentBreathCycle = model.BreathCycle{}
		dev.Unlock()

		if sessionID != "" && h.sessions != nil {
			if err := h.sessions.EndSession(ctx, sessionID, now, model.SessionCompleted); err != nil {
				h.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to end session")
			}
		}
		return ""

	case targetRR > 0:
		technique := raw.Technique
		dev.ActivateTechnique(ctx, technique)

		var cycle model.BreathCycle
		if raw.BreathCycle != nil {
			cycle = *raw.BreathCycle
		}

		// Held across the whole read-check-create-write sequence, not just
		// the field accesses: two concurrent BreathTarget requests for a
		// device with no active session must not both create one.
		dev.Lock()
		defer dev.Unlock()

		dev.CurrentTargetRR = targetRR
		dev.CurrentBreathCycle = cycle
		paramVersion := dev.ActiveVersion

		if dev.SessionID != "" {
			existingSessionID := dev.SessionID
			if h.sessions != nil {
				if err := h.sessions.UpdateSessionTarget(ctx, existingSessionID, technique, targetRR, paramVersion); err != nil {
					h.log.Error().Err(err).Str("session_id", existingSessionID).Msg("failed to update session target")
				}
			}
			return existingSessionID
		}

		newSessionID := uuid.NewString()
		if h.sessions != nil {
			sess := model.Session{
				SessionID:    newSessionID,
				DeviceID:     dev.DeviceID,
				StartedAt:    time.UnixMilli(model.NormalizeTimestamp(raw.TS, now)),
				Technique:    technique,
				ParamVersion: paramVersion,
				TargetRR:     &targetRR,
				Status:       model.SessionActive,
			}
			if err := h.sessions.CreateSession(ctx, sess); err != nil {
				h.log.Error().Err(err).Str("device_id", dev.DeviceID).Msg("failed to create session")
				return ""
			}
		}
		dev.SessionID = newSessionID
		return newSessionID

	default:
		dev.Lock()
		sessionID := dev.SessionID
		dev.Unlock()
		return sessionID
	}
}
