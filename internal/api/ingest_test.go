package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/fanout"
	"github.com/serena-health/breath-engine/internal/feedback"
	"github.com/serena-health/breath-engine/internal/model"
	"github.com/serena-health/breath-engine/internal/paramset"
	"github.com/serena-health/breath-engine/internal/pipeline"
	"github.com/serena-health/breath-engine/internal/session"
)

type fakeDeviceStore struct {
	mu      sync.Mutex
	touched []string
}

func (s *fakeDeviceStore) TouchDevice(ctx context.Context, deviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, deviceID)
	return nil
}

type fakeIngestSignalStore struct {
	mu   sync.Mutex
	recs []model.SignalRecord
}

func (s *fakeIngestSignalStore) InsertSignalRecords(ctx context.Context, recs []model.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, recs...)
	return nil
}

func (s *fakeIngestSignalStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type fakeIngestSessionStore struct {
	mu       sync.Mutex
	created  []model.Session
	updated  int
	ended    int
	endedIDs []string
}

func (s *fakeIngestSessionStore) CreateSession(ctx context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, sess)
	return nil
}

func (s *fakeIngestSessionStore) UpdateSessionTarget(ctx context.Context, sessionID, technique string, targetRR float64, paramVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated++
	return nil
}

func (s *fakeIngestSessionStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time, status model.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	s.endedIDs = append(s.endedIDs, sessionID)
	return nil
}

type fakeParamStore struct{}

func (fakeParamStore) ParamSets(ctx context.Context) (map[string]model.ParameterSet, error) {
	return map[string]model.ParameterSet{model.DefaultParamVersion: model.DefaultParameterSet()}, nil
}

func (fakeParamStore) Technique(ctx context.Context, name string) (model.Technique, bool, error) {
	return model.Technique{}, false, nil
}

func newTestIngestHandler() (*IngestHandler, *session.Registry, *fakeDeviceStore, *fakeIngestSignalStore, *fakeIngestSessionStore) {
	log := zerolog.Nop()
	params := paramset.NewRegistry(fakeParamStore{}, log)
	devices := session.NewRegistry(params, log)
	bus := fanout.NewBus(log)
	gen := feedback.NewGenerator(func(ctx context.Context) (model.FeedbackRules, error) {
		return model.DefaultFeedbackRules(), nil
	}, log)
	proc := pipeline.NewProcessor(devices, gen, bus, nil, nil, log)

	deviceDB := &fakeDeviceStore{}
	signals := &fakeIngestSignalStore{}
	sessions := &fakeIngestSessionStore{}

	h := NewIngestHandler(devices, deviceDB, signals, sessions, bus, proc, log)
	return h, devices, deviceDB, signals, sessions
}

func postIngest(h *IngestHandler, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)
	return rec
}

func TestIngestBreathTargetStartsAndEndsSession(t *testing.T) {
	h, devices, _, signals, sessions := newTestIngestHandler()

	start := `{"signal":"BreathTarget","device_id":"dev-1","TargetRR":6.0,"technique":"box-breathing","breath_cycle":{"in":4,"hold1":4,"out":4,"hold2":4}}`
	rec := postIngest(h, "application/json", start)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sessions.created == nil || len(sessions.created) != 1 {
		t.Fatalf("expected one session created, got %d", len(sessions.created))
	}

	dev := devices.Get(context.Background(), "dev-1")
	dev.Lock()
	sessionID := dev.SessionID
	targetRR := dev.CurrentTargetRR
	cycle := dev.CurrentBreathCycle
	dev.Unlock()

	if sessionID == "" {
		t.Fatal("expected device to have an active session id")
	}
	if targetRR != 6.0 {
		t.Fatalf("expected target RR 6.0, got %v", targetRR)
	}
	if cycle.In != 4 || cycle.Hold1 != 4 {
		t.Fatalf("expected breath cycle to be set, got %+v", cycle)
	}
	if signals.count() != 1 {
		t.Fatalf("expected one signal record persisted, got %d", signals.count())
	}

	end := `{"signal":"BreathTarget","device_id":"dev-1","TargetRR":0}`
	rec = postIngest(h, "application/json", end)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sessions.ended != 1 || sessions.endedIDs[0] != sessionID {
		t.Fatalf("expected session %q to be ended, got %+v", sessionID, sessions.endedIDs)
	}

	dev.Lock()
	sessionID = dev.SessionID
	dev.Unlock()
	if sessionID != "" {
		t.Fatal("expected device session id to be cleared after end")
	}
}

func TestIngestECGWithoutActiveSessionIsNotForwardedButIsPersisted(t *testing.T) {
	h, _, _, signals, _ := newTestIngestHandler()

	body := `{"signal":"ecg","device_id":"dev-2","samples":[1,2,3]}`
	rec := postIngest(h, "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if signals.count() != 1 {
		t.Fatalf("expected the ecg record to still be persisted, got %d", signals.count())
	}
}

func TestIngestNDJSONToleratesTrailingLineWithoutNewline(t *testing.T) {
	h, _, deviceDB, signals, _ := newTestIngestHandler()

	body := `{"signal":"ecg","device_id":"dev-3","samples":[1,2]}
{"signal":"ecg","device_id":"dev-3","samples":[3,4]}`
	rec := postIngest(h, "application/x-ndjson", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Accepted != 2 {
		t.Fatalf("expected 2 accepted records, got %d", resp.Accepted)
	}
	if signals.count() != 2 {
		t.Fatalf("expected 2 persisted records, got %d", signals.count())
	}
	if len(deviceDB.touched) != 2 {
		t.Fatalf("expected device to be touched twice, got %d", len(deviceDB.touched))
	}
}

func TestIngestNDJSONSkipsMalformedLineAndContinues(t *testing.T) {
	h, _, _, signals, _ := newTestIngestHandler()

	body := `{"signal":"ecg","device_id":"dev-4","samples":[1]}
not valid json
{"signal":"ecg","device_id":"dev-4","samples":[2]}
`
	rec := postIngest(h, "application/x-ndjson", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if signals.count() != 2 {
		t.Fatalf("expected the malformed line to be skipped, got %d persisted records", signals.count())
	}
}

func TestIngestJSONArrayProcessesEveryElement(t *testing.T) {
	h, _, _, signals, _ := newTestIngestHandler()

	body := `[{"signal":"ecg","device_id":"dev-5","samples":[1]},{"signal":"ecg","device_id":"dev-5","samples":[2]}]`
	rec := postIngest(h, "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if signals.count() != 2 {
		t.Fatalf("expected 2 persisted records, got %d", signals.count())
	}
}
