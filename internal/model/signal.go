package model

import (
	"fmt"
	"time"
)

// SignalType enumerates the recognized signal kinds carried by a SignalRecord.
type SignalType string

const (
	SignalECG         SignalType = "ecg"
	SignalHRDerived   SignalType = "hr_derived"
	SignalRespRR      SignalType = "resp_rr"
	SignalGuidance    SignalType = "guidance"
	SignalBreathTgt   SignalType = "BreathTarget"
	SignalResp        SignalType = "resp"
	SignalMarker      SignalType = "marker"
)

// UnknownDeviceID is substituted when an inbound record carries no device id.
const UnknownDeviceID = "UNKNOWN"

// BreathCycle describes the four named phases of one breathing-technique cycle, in seconds.
type BreathCycle struct {
	In    int `json:"in"`
	Hold1 int `json:"hold1"`
	Out   int `json:"out"`
	Hold2 int `json:"hold2"`
}

// AllZero reports whether the cycle carries no usable phase durations at all.
func (c BreathCycle) AllZero() bool {
	return c.In == 0 && c.Hold1 == 0 && c.Out == 0 && c.Hold2 == 0
}

// SignalRecord is the canonical, persisted/broadcast record shape. It carries a
// small set of well-known fields plus a typed, flattened sum of signal-specific
// payload fields — only the fields relevant to Signal are ever populated.
type SignalRecord struct {
	DeviceID  string     `json:"device_id"`
	SessionID string     `json:"session_id,omitempty"`
	Signal    SignalType `json:"signal"`
	TS        int64      `json:"ts"`
	DT        string     `json:"dt"`

	// ecg
	Samples []int16 `json:"samples,omitempty"`

	// hr_derived
	BPM *float64 `json:"bpm,omitempty"`

	// resp_rr
	EstRR  *float64 `json:"estRR,omitempty"`
	Tijd   string   `json:"tijd,omitempty"`
	Inhale string   `json:"inhale,omitempty"`
	Exhale string   `json:"exhale,omitempty"`

	// guidance
	Text      string   `json:"text,omitempty"`
	AudioText string   `json:"audio_text,omitempty"`
	Color     string   `json:"color,omitempty"`
	Target    *float64 `json:"target,omitempty"`
	Actual    *float64 `json:"actual,omitempty"`

	// BreathTarget
	TargetRR           *float64     `json:"TargetRR,omitempty"`
	Technique          string       `json:"technique,omitempty"`
	BreathCycle        *BreathCycle `json:"breath_cycle,omitempty"`
	ActiveParamVersion string       `json:"active_param_version,omitempty"`
}

// RawRecord is the loosely-typed shape accepted at the HTTP edge, before normalization.
// Only here do we tolerate an open map-like shape (per SPEC_FULL.md §9, "reject unknown
// fields only where it matters" — the edge is where heterogeneous client payloads land).
type RawRecord struct {
	Signal             string       `json:"signal"`
	DeviceID           string       `json:"device_id"`
	TS                 *float64     `json:"ts"`
	Samples            []int16      `json:"samples"`
	BPM                *float64     `json:"bpm"`
	EstRR              *float64     `json:"estRR"`
	TargetRR           *float64     `json:"TargetRR"`
	Technique          string       `json:"technique"`
	BreathCycle        *BreathCycle `json:"breath_cycle"`
	Text               string       `json:"text"`
	AudioText          string       `json:"audio_text"`
	Color              string       `json:"color"`
	Target             *float64     `json:"target"`
	Actual             *float64     `json:"actual"`
	Tijd               string       `json:"tijd"`
	Inhale             string       `json:"inhale"`
	Exhale             string       `json:"exhale"`
	ActiveParamVersion string       `json:"active_param_version"`
}

// NormalizeTimestamp converts an inbound timestamp of unknown magnitude to epoch
// milliseconds, per SPEC_FULL.md §4.B. The cascade is a single unambiguous
// if/else-if chain (ns -> s -> ms -> fallback to wall clock) with no overlapping
// ranges, unlike the ambiguous cascade in the original source.
func NormalizeTimestamp(ts *float64, now time.Time) int64 {
	if ts == nil {
		return now.UnixMilli()
	}
	v := *ts
	switch {
	case v > 1e13:
		// nanoseconds
		return int64(v / 1e6)
	case v > 1e9 && v < 1e10:
		// seconds
		return int64(v * 1e3)
	case v >= 1e12 && v <= 1e13:
		// milliseconds, already canonical
		return int64(v)
	default:
		return now.UnixMilli()
	}
}

// FormatDT renders the server-local datetime string used for the dt field.
func FormatDT(epochMs int64) string {
	t := time.UnixMilli(epochMs).Local()
	return fmt.Sprintf("%02d-%02d-%04d %02d:%02d:%02d:%03d",
		t.Day(), t.Month(), t.Year(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e6)
}

// Normalize builds a canonical SignalRecord from an inbound RawRecord.
func Normalize(raw RawRecord, now time.Time) SignalRecord {
	deviceID := raw.DeviceID
	if deviceID == "" {
		deviceID = UnknownDeviceID
	}
	ts := NormalizeTimestamp(raw.TS, now)

	return SignalRecord{
		DeviceID:           deviceID,
		Signal:             SignalType(raw.Signal),
		TS:                 ts,
		DT:                 FormatDT(ts),
		Samples:            raw.Samples,
		BPM:                raw.BPM,
		EstRR:              raw.EstRR,
		Tijd:               raw.Tijd,
		Inhale:             raw.Inhale,
		Exhale:             raw.Exhale,
		Text:               raw.Text,
		AudioText:          raw.AudioText,
		Color:              raw.Color,
		Target:             raw.Target,
		Actual:             raw.Actual,
		TargetRR:           raw.TargetRR,
		Technique:          raw.Technique,
		BreathCycle:        raw.BreathCycle,
		ActiveParamVersion: raw.ActiveParamVersion,
	}
}
