// Package session holds the per-device runtime state the signal processor
// reads and mutates: the ECG sample buffer, the active estimator parameter
// set, the current breathing technique/target, and the watermark used to
// avoid re-emitting already-delivered beats. It is a direct port of
// session.py's DeviceSession/SessionManager, minus the SSE listener
// bookkeeping (that now lives in the fanout package) since this spec emits
// bare SSE frames instead of a listener-per-session queue on this type.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
	"github.com/serena-health/breath-engine/internal/paramset"
)

// Device is the live, in-memory state tracked for one device_id between
// ingest calls. Every mutating method acquires Mu itself; callers that need
// to hold the lock across an estimate -> emit -> persist critical section
// (Component H) should use Lock/Unlock directly.
type Device struct {
	Mu sync.Mutex

	DeviceID string
	Buffer   *RingBuffer

	ActiveParams  model.ParameterSet
	ActiveVersion string

	CurrentTechnique   string
	CurrentTargetRR    float64
	CurrentBreathCycle model.BreathCycle

	// SessionID is the currently active persisted session for this device,
	// empty when no session is active.
	SessionID     string
	LastEmittedTS int64

	registry *paramset.Registry
	log      zerolog.Logger
}

// NewDevice builds a Device seeded with the registry's default parameter set.
func NewDevice(ctx context.Context, deviceID string, registry *paramset.Registry, log zerolog.Logger) *Device {
	version := registry.DefaultVersion(ctx)
	params := registry.Resolve(ctx, version)
	return &Device{
		DeviceID:      deviceID,
		Buffer:        NewRingBuffer(params.BufferSize),
		ActiveParams:  params,
		ActiveVersion: version,
		registry:      registry,
		log:           log.With().Str("component", "session").Str("device_id", deviceID).Logger(),
	}
}

// Lock acquires the device's critical-section mutex. Held across estimate ->
// emit -> persist so last_emitted_ts advances monotonically under concurrent
// ingest calls for the same device (SPEC_FULL.md §5 / §9 race resolution).
func (d *Device) Lock()   { d.Mu.Lock() }
func (d *Device) Unlock() { d.Mu.Unlock() }

// ActivateTechnique switches the device onto the named technique's
// parameter set, resizing the ECG buffer if the new set names a different
// BUFFER_SIZE. A no-op if the technique is already active, matching the
// original's activate_technique.
func (d *Device) ActivateTechnique(ctx context.Context, techName string) {
	if techName == "" {
		return
	}
	d.Mu.Lock()
	defer d.Mu.Unlock()

	d.CurrentTechnique = techName
	params, version := d.registry.ResolveByTechnique(ctx, techName)
	if version == d.ActiveVersion {
		return
	}
	d.ActiveParams = params
	d.ActiveVersion = version
	d.log.Info().Str("technique", techName).Str("param_version", version).Msg("activated technique parameters")
	d.applyBufferSizeLocked()
}

// ResetParams returns the device to the registry default parameter set,
// called when a technique's exercise ends. A no-op if already on default.
func (d *Device) ResetParams(ctx context.Context) {
	d.Mu.Lock()
	defer d.Mu.Unlock()

	d.CurrentTechnique = ""
	defaultVersion := d.registry.DefaultVersion(ctx)
	if d.ActiveVersion == defaultVersion {
		return
	}
	d.ActiveParams = d.registry.Resolve(ctx, defaultVersion)
	d.ActiveVersion = defaultVersion
	d.log.Info().Str("param_version", defaultVersion).Msg("reset to default parameters")
	d.applyBufferSizeLocked()
}

func (d *Device) applyBufferSizeLocked() {
	newSize := d.ActiveParams.BufferSize
	if newSize > 0 && newSize != d.Buffer.Cap() {
		d.log.Info().Int("old_size", d.Buffer.Cap()).Int("new_size", newSize).Msg("resizing ECG buffer")
		d.Buffer.Resize(newSize)
	}
}

// Registry is the lazy-creating, thread-safe map of device_id -> Device.
type Registry struct {
	mu       sync.Mutex
	devices  map[string]*Device
	params   *paramset.Registry
	log      zerolog.Logger
}

// NewRegistry builds an empty device registry.
func NewRegistry(params *paramset.Registry, log zerolog.Logger) *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		params:  params,
		log:     log,
	}
}

// Get returns the Device for deviceID, lazily creating it on first access.
func (r *Registry) Get(ctx context.Context, deviceID string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		d = NewDevice(ctx, deviceID, r.params, r.log)
		r.devices[deviceID] = d
		r.log.Info().Str("device_id", deviceID).Msg("created device session")
	}
	return d
}

// Count reports how many device sessions are currently tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Remove drops a device's runtime state, e.g. once its session ends.
func (r *Registry) Remove(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, deviceID)
}
