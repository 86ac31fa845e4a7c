// Package model holds the canonical, storage- and wire-agnostic types shared
// across the ingest pipeline: devices, sessions, signal records, parameter
// sets, techniques, and feedback rules.
package model

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// DefaultParamVersion is the parameter-set version new sessions start on.
const DefaultParamVersion = "v1_default"

// Device is a wearable chest-strap identified by a stable client-chosen id.
type Device struct {
	DeviceID    string    `json:"device_id"`
	DisplayName string    `json:"display_name,omitempty"`
	DeviceType  string    `json:"device_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Session is one guided-breathing run for a device.
type Session struct {
	SessionID     string        `json:"session_id"`
	DeviceID      string        `json:"device_id"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	Technique     string        `json:"technique,omitempty"`
	ParamVersion  string        `json:"param_version"`
	TargetRR      *float64      `json:"target_rr,omitempty"`
	Status        SessionStatus `json:"status"`
	LastEmittedTS int64         `json:"last_emitted_ts"`
}

// IsActive reports whether the session is currently accepting derivation.
func (s Session) IsActive() bool {
	return s.Status == SessionActive
}

// ParameterSet is one named configuration snapshot for the RR/HR estimator.
type ParameterSet struct {
	Version   string `json:"version"`
	IsDefault bool   `json:"is_default"`

	BPLowHz     float64 `json:"BP_LOW_HZ"`
	BPHighHz    float64 `json:"BP_HIGH_HZ"`
	MWAQRSSec   float64 `json:"MWA_QRS_SEC"`
	MWABeatSec  float64 `json:"MWA_BEAT_SEC"`
	MinSegSec   float64 `json:"MIN_SEG_SEC"`
	MinRRSec    float64 `json:"MIN_RR_SEC"`
	QRSHalfSec  float64 `json:"QRS_HALF_SEC"`

	HeartbeatWindow int `json:"HEARTBEAT_WINDOW"`
	FFTLength       int `json:"FFT_LENGTH"`

	FreqRangeCBLow  float64 `json:"freq_range_cb_low"`
	FreqRangeCBHigh float64 `json:"freq_range_cb_high"`

	SmoothWin int `json:"SMOOTH_WIN"`

	BPMMin float64 `json:"BPM_MIN"`
	BPMMax float64 `json:"BPM_MAX"`

	HarmonicRatio float64 `json:"HARMONIC_RATIO"`
	BufferSize    int     `json:"BUFFER_SIZE"`
}

// DefaultParameterSet returns the v1_default parameter snapshot, per SPEC_FULL.md §3.
func DefaultParameterSet() ParameterSet {
	return ParameterSet{
		Version:         DefaultParamVersion,
		IsDefault:       true,
		BPLowHz:         4.0,
		BPHighHz:        20.0,
		MWAQRSSec:       0.12,
		MWABeatSec:      0.6,
		MinSegSec:       0.08,
		MinRRSec:        0.3,
		QRSHalfSec:      0.04,
		HeartbeatWindow: 32,
		FFTLength:       512,
		FreqRangeCBLow:  0.03,
		FreqRangeCBHigh: 0.5,
		SmoothWin:       32,
		BPMMin:          4.0,
		BPMMax:          40.0,
		HarmonicRatio:   1.4,
		BufferSize:      2000,
	}
}

// ProtocolRow is one row of a Technique's breathing protocol:
// in/hold1/out/hold2 phase seconds plus a repeat count.
type ProtocolRow struct {
	In      int `json:"in"`
	Hold1   int `json:"hold1"`
	Out     int `json:"out"`
	Hold2   int `json:"hold2"`
	Repeats int `json:"repeats"`
}

// Technique is a named breathing protocol.
type Technique struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	ParamVersion string       `json:"param_version"`
	ShowInApp   bool          `json:"show_in_app"`
	IsActive    bool          `json:"is_active"`
	Protocol    []ProtocolRow `json:"protocol"`
}

// Cycle returns the BreathCycle implied by the technique's first protocol row.
// The pipeline builds accent-phase guidance text from the breath_cycle carried
// by the BreathTarget record, not from this method.
func (t Technique) Cycle() BreathCycle {
	if len(t.Protocol) == 0 {
		return BreathCycle{}
	}
	r := t.Protocol[0]
	return BreathCycle{In: r.In, Hold1: r.Hold1, Out: r.Out, Hold2: r.Hold2}
}

// FeedbackMessage is one candidate coaching message within a category.
type FeedbackMessage struct {
	Weight    int    `json:"weight"`
	Text      string `json:"text"`
	AudioText string `json:"audio_text"`
}

// FeedbackCategory groups messages for one guidance category, plus its
// optional category-specific threshold.
type FeedbackCategory struct {
	Messages     []FeedbackMessage `json:"messages"`
	ThresholdSec float64           `json:"threshold_sec,omitempty"`
	ThresholdPct float64           `json:"threshold_pct,omitempty"`
}

// FeedbackSettings holds the timing constants governing debounce/repeat behavior.
type FeedbackSettings struct {
	StabilityDuration float64 `json:"stability_duration"`
	RepeatInterval    float64 `json:"repeat_interval"`
	VisualInterval    float64 `json:"visual_interval"`
}

// FeedbackRules is the singleton document driving the guidance state machine.
type FeedbackRules struct {
	Blue     FeedbackCategory `json:"blue"`
	Green    FeedbackCategory `json:"green"`
	Orange   FeedbackCategory `json:"orange"`
	RedFast  FeedbackCategory `json:"red_fast"`
	RedSlow  FeedbackCategory `json:"red_slow"`
	Settings FeedbackSettings `json:"settings"`
}

// DefaultFeedbackRules mirrors the original's in-process fallback rules, used
// when no feedback_rules document has been stored (SPEC_FULL.md §3).
func DefaultFeedbackRules() FeedbackRules {
	return FeedbackRules{
		Blue: FeedbackCategory{
			ThresholdSec: 30.0,
			Messages: []FeedbackMessage{
				{Weight: 1, Text: "Volg het ritme...", AudioText: "Volg het ritme."},
			},
		},
		Green: FeedbackCategory{
			ThresholdPct: 5,
			Messages: []FeedbackMessage{
				{Weight: 1, Text: "Goed bezig!", AudioText: "Goed bezig."},
			},
		},
		Orange: FeedbackCategory{
			ThresholdPct: 15,
			Messages: []FeedbackMessage{
				{Weight: 1, Text: "Bijna goed.", AudioText: "Bijna goed."},
			},
		},
		RedFast: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 1, Text: "Adem iets langzamer.", AudioText: "Adem iets langzamer."},
			},
		},
		RedSlow: FeedbackCategory{
			Messages: []FeedbackMessage{
				{Weight: 1, Text: "Adem iets sneller.", AudioText: "Adem iets sneller."},
			},
		},
		Settings: FeedbackSettings{
			StabilityDuration: 3.0,
			RepeatInterval:    7.0,
			VisualInterval:    7.0,
		},
	}
}

// Category returns the rules for a named category, or a zero-value category
// (no messages) if the name is unrecognized.
func (r FeedbackRules) Category(name string) FeedbackCategory {
	switch name {
	case "blue":
		return r.Blue
	case "green":
		return r.Green
	case "orange":
		return r.Orange
	case "red_fast":
		return r.RedFast
	case "red_slow":
		return r.RedSlow
	default:
		return FeedbackCategory{}
	}
}
