// Package pipeline turns appended ECG blocks into derived resp_rr, guidance,
// and hr_derived signals: it is a direct port of signal_processor.py's
// SignalProcessor, with the per-device ECG buffer and session bookkeeping
// moved into the session package so the estimate -> emit -> persist
// critical section can be locked as a unit (SPEC_FULL.md §5/§9).
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/estimator"
	"github.com/serena-health/breath-engine/internal/fanout"
	"github.com/serena-health/breath-engine/internal/feedback"
	"github.com/serena-health/breath-engine/internal/ingest"
	"github.com/serena-health/breath-engine/internal/metrics"
	"github.com/serena-health/breath-engine/internal/model"
	"github.com/serena-health/breath-engine/internal/session"
)

const (
	fsECG          = 130.0
	startThreshold = 20 // minimum buffered samples before estimation runs
	batchMaxItems  = 100
	batchInterval  = 2 * time.Second
)

// SignalStore is the persistence surface derived signals are flushed through.
type SignalStore interface {
	InsertSignalRecords(ctx context.Context, recs []model.SignalRecord) error
}

// SessionStore is the persistence surface the emission watermark is
// durably advanced through.
type SessionStore interface {
	UpdateLastEmittedTS(ctx context.Context, sessionID string, ts int64) error
}

// Processor processes inbound ECG blocks and produces derived signals.
type Processor struct {
	devices  *session.Registry
	feedback *feedback.Generator
	bus      *fanout.Bus
	signals  SignalStore
	sessions SessionStore
	batcher  *ingest.Batcher[model.SignalRecord]
	log      zerolog.Logger

	blockMu sync.Mutex
	blocks  map[string]*blockWindow

	watermarkWG sync.WaitGroup
}

// NewProcessor builds a Processor. signals and sessions may be nil in tests
// that don't exercise persistence.
func NewProcessor(devices *session.Registry, gen *feedback.Generator, bus *fanout.Bus, signals SignalStore, sessions SessionStore, log zerolog.Logger) *Processor {
	p := &Processor{
		devices:  devices,
		feedback: gen,
		bus:      bus,
		signals:  signals,
		sessions: sessions,
		log:      log.With().Str("component", "pipeline").Logger(),
		blocks:   make(map[string]*blockWindow),
	}
	p.batcher = ingest.NewBatcher(batchMaxItems, batchInterval, p.flush)
	return p
}

// Close flushes any pending derived signals, stops the batcher, and waits
// for any in-flight watermark persistence to finish.
func (p *Processor) Close() {
	p.batcher.Stop()
	p.watermarkWG.Wait()
}

func (p *Processor) flush(recs []model.SignalRecord) {
	if p.signals == nil || len(recs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.signals.InsertSignalRecords(ctx, recs); err != nil {
		p.log.Error().Err(err).Int("count", len(recs)).Msg("failed to persist derived signals")
	}
}

func (p *Processor) blockWindowFor(deviceID string) *blockWindow {
	p.blockMu.Lock()
	defer p.blockMu.Unlock()
	w, ok := p.blocks[deviceID]
	if !ok {
		w = newBlockWindow(fsECG)
		p.blocks[deviceID] = w
	}
	return w
}

// ProcessECG appends one ECG block to its device's buffer and, once enough
// samples have accumulated, runs the RR/HR estimator and emits resp_rr,
// guidance, and hr_derived signals for every newly-available beat. It never
// returns an error: estimator failures (too few R-peaks, noisy segment) are
// logged and treated as "nothing to emit yet", matching the original's
// broad except-and-continue around estimate_from_records.
func (p *Processor) ProcessECG(ctx context.Context, rec model.SignalRecord) {
	if len(rec.Samples) == 0 {
		return
	}
	dev := p.devices.Get(ctx, rec.DeviceID)
	win := p.blockWindowFor(rec.DeviceID)

	dev.Lock()
	defer dev.Unlock()

	dev.Buffer.Append(rec.Samples)
	win.append(rec.TS, len(rec.Samples))
	win.trimToSamples(dev.Buffer.Cap())

	if dev.SessionID == "" {
		p.log.Debug().Str("device_id", rec.DeviceID).Msg("no active session, buffered without estimating")
		return
	}
	if dev.Buffer.Len() < startThreshold {
		return
	}

	samples := dev.Buffer.Samples()
	blockTS, blockSizes := win.snapshot()

	result, err := estimator.Estimate(samples, blockTS, blockSizes, fsECG, dev.ActiveParams)
	if err != nil {
		metrics.EstimatorInsufficientPeaksTotal.Inc()
		p.log.Info().Err(err).Str("device_id", rec.DeviceID).Msg("rr estimation skipped")
		return
	}

	sessionID := dev.SessionID
	targetRR := dev.CurrentTargetRR
	technique := dev.CurrentTechnique
	breathCycle := dev.CurrentBreathCycle
	lastEmitted := dev.LastEmittedTS

	var derived []model.SignalRecord

	for i, v := range result.EstRR {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if i >= len(result.TSPerBeat) {
			continue
		}
		tsVal := result.TSPerBeat[i]
		if math.IsNaN(tsVal) || math.IsInf(tsVal, 0) {
			continue
		}
		tsMs := int64(tsVal)
		if tsMs <= lastEmitted {
			continue
		}
		dt := model.FormatDT(tsMs)

		estRR := v
		derived = append(derived, model.SignalRecord{
			DeviceID:  rec.DeviceID,
			Signal:    model.SignalRespRR,
			TS:        tsMs,
			DT:        dt,
			SessionID: sessionID,
			EstRR:     &estRR,
			Tijd:      stringAt(result.Tijd, i),
			Inhale:    stringAt(result.Inhale, i),
			Exhale:    stringAt(result.Exhale, i),
		})

		if targetRR > 0 {
			visual, audio, color := p.feedback.GetFeedback(ctx, sessionID, targetRR, v)
			if visual != "" {
				instruction := ""
				if color == "accent" && !breathCycle.AllZero() {
					instruction = buildBreathInstruction(breathCycle, technique)
				}
				audioText := audio
				if instruction != "" {
					audioText = strings.TrimSpace(audio + "... " + instruction)
				}
				target := targetRR
				actual := v
				derived = append(derived, model.SignalRecord{
					DeviceID:  rec.DeviceID,
					Signal:    model.SignalGuidance,
					TS:        tsMs,
					DT:        dt,
					SessionID: sessionID,
					Text:      visual,
					AudioText: audioText,
					Color:     color,
					Target:    &target,
					Actual:    &actual,
				})
			}
		}

		if tsMs > lastEmitted {
			lastEmitted = tsMs
		}
	}

	if hr, ok := latestHeartRate(result, rec.DeviceID, sessionID); ok {
		derived = append(derived, hr)
	}

	if len(derived) == 0 {
		return
	}

	for _, sig := range derived {
		p.batcher.Add(sig)
		p.bus.Publish(sig)
		metrics.SignalsBroadcastTotal.WithLabelValues(string(sig.Signal)).Inc()
	}

	if lastEmitted > dev.LastEmittedTS {
		dev.LastEmittedTS = lastEmitted
		p.persistWatermark(sessionID, lastEmitted)
	}
}

// persistWatermark advances the durable last_emitted_ts off the hot path,
// matching the original's fire-and-forget DB update after a response has
// already been produced.
func (p *Processor) persistWatermark(sessionID string, ts int64) {
	if p.sessions == nil {
		return
	}
	p.watermarkWG.Add(1)
	go func() {
		defer p.watermarkWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.sessions.UpdateLastEmittedTS(ctx, sessionID, ts); err != nil {
			p.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist last_emitted_ts")
		}
	}()
}

// latestHeartRate builds the single hr_derived signal for the most recent
// valid RR interval, scanning backward as the original does.
func latestHeartRate(result *estimator.Result, deviceID, sessionID string) (model.SignalRecord, bool) {
	for k := len(result.RRMs) - 1; k >= 0; k-- {
		rr := result.RRMs[k]
		if math.IsNaN(rr) || math.IsInf(rr, 0) || rr <= 0 {
			continue
		}
		idx := k + 1
		if idx > len(result.TSPerBeat)-1 {
			idx = len(result.TSPerBeat) - 1
		}
		if idx < 0 || idx >= len(result.TSPerBeat) {
			continue
		}
		tsHR := result.TSPerBeat[idx]
		if math.IsNaN(tsHR) || math.IsInf(tsHR, 0) {
			continue
		}
		bpm := 60000.0 / rr
		tsMs := int64(tsHR)
		return model.SignalRecord{
			DeviceID:  deviceID,
			Signal:    model.SignalHRDerived,
			TS:        tsMs,
			DT:        model.FormatDT(tsMs),
			SessionID: sessionID,
			BPM:       &bpm,
		}, true
	}
	return model.SignalRecord{}, false
}

func stringAt(xs []string, i int) string {
	if i < 0 || i >= len(xs) {
		return ""
	}
	return xs[i]
}

// buildBreathInstruction renders the Dutch-language phase instruction spoken
// during the "accent" feedback window, e.g. "Box breathing... Adem 4
// seconden in, hou 4 seconden vast, adem 4 seconden uit, hou 4 seconden
// vast.". Ported verbatim from _build_breath_instruction.
func buildBreathInstruction(cycle model.BreathCycle, technique string) string {
	parts := []string{fmt.Sprintf("Adem %d seconden in", cycle.In)}
	if cycle.Hold1 > 0 {
		parts = append(parts, fmt.Sprintf("hou %d seconden vast", cycle.Hold1))
	}
	parts = append(parts, fmt.Sprintf("adem %d seconden uit", cycle.Out))
	if cycle.Hold2 > 0 {
		parts = append(parts, fmt.Sprintf("hou %d seconden vast", cycle.Hold2))
	}
	instruction := strings.Join(parts, ", ") + "."

	if technique != "" {
		techClean := technique
		if idx := strings.Index(technique, "("); idx >= 0 {
			techClean = strings.TrimSpace(technique[:idx])
		} else {
			techClean = strings.TrimSpace(technique)
		}
		instruction = techClean + "... " + instruction
	}
	return instruction
}
