// Package feedback turns a target/actual respiratory-rate pair into the
// coaching text, optional spoken text, and accent color the device renders,
// debounced and rate-limited per session so the voice doesn't chatter.
// It is a direct port of feedback_generator.py's FeedbackGenerator.
package feedback

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

// RulesLoader fetches the current feedback rules document, e.g. from storage.
type RulesLoader func(ctx context.Context) (model.FeedbackRules, error)

type sessionState struct {
	hasTarget          bool
	lastTargetRR       float64
	targetChangeAt     time.Time
	lastSpokenCategory string
	pendingCategory    string
	pendingAt          time.Time
	lastVisualAt       time.Time
	lastSpokenAt       time.Time
	cachedText         string
	cachedColor        string
}

// Generator is the per-process feedback state machine. One Generator serves
// every session; per-session state lives in the sessions map.
type Generator struct {
	mu sync.Mutex

	load     RulesLoader
	rules    *model.FeedbackRules
	rulesAt  time.Time
	rulesTTL time.Duration

	sessions map[string]*sessionState

	now func() time.Time
	log zerolog.Logger
}

// NewGenerator builds a Generator backed by load, a 60s rules cache TTL
// matching the original.
func NewGenerator(load RulesLoader, log zerolog.Logger) *Generator {
	return &Generator{
		load:     load,
		rulesTTL: 60 * time.Second,
		sessions: make(map[string]*sessionState),
		now:      time.Now,
		log:      log.With().Str("component", "feedback").Logger(),
	}
}

func (g *Generator) rulesLocked(ctx context.Context) model.FeedbackRules {
	now := g.now()
	if g.rules != nil && now.Sub(g.rulesAt) < g.rulesTTL {
		return *g.rules
	}
	rules, err := g.load(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("feedback rules load failed, using compiled-in defaults")
		rules = model.DefaultFeedbackRules()
	}
	g.rules = &rules
	g.rulesAt = now
	return rules
}

func (g *Generator) sessionLocked(sessionID string) *sessionState {
	s, ok := g.sessions[sessionID]
	if !ok {
		s = &sessionState{cachedText: "Wachten..."}
		g.sessions[sessionID] = s
	}
	return s
}

// GetFeedback returns (visualText, audioText, color) for one target/actual
// reading, mutating the session's debounce state.
//
// A non-positive target or actual rate is a no-op: the device has not yet
// converged on a breathing target, so the coach stays silent.
func (g *Generator) GetFeedback(ctx context.Context, sessionID string, targetRR, actualRR float64) (string, string, string) {
	if targetRR <= 0 || actualRR <= 0 {
		return "Wachten...", "", ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rules := g.rulesLocked(ctx)
	state := g.sessionLocked(sessionID)
	now := g.now()

	if !state.hasTarget || targetRR != state.lastTargetRR {
		state.hasTarget = true
		state.lastTargetRR = targetRR
		state.targetChangeAt = now
		state.lastSpokenCategory = ""
		state.pendingCategory = ""
		state.pendingAt = now
	}

	blueLimit := rules.Blue.ThresholdSec
	if blueLimit == 0 {
		blueLimit = 30.0
	}
	elapsed := now.Sub(state.targetChangeAt).Seconds()

	var rawCategory, color string
	if elapsed < blueLimit {
		rawCategory = "blue"
		color = "accent"
	} else {
		diff := actualRR - targetRR
		pct := (absFloat(diff) / targetRR) * 100.0

		greenLim := rules.Green.ThresholdPct
		if greenLim == 0 {
			greenLim = 5
		}
		orangeLim := rules.Orange.ThresholdPct
		if orangeLim == 0 {
			orangeLim = 15
		}

		switch {
		case pct <= greenLim:
			rawCategory, color = "green", "ok"
		case pct <= orangeLim:
			rawCategory, color = "orange", "warn"
		case diff > 0:
			rawCategory, color = "red_fast", "bad"
		default:
			rawCategory, color = "red_slow", "bad"
		}
	}

	if rawCategory != state.pendingCategory {
		state.pendingCategory = rawCategory
		state.pendingAt = now
	}

	stabilityTime := now.Sub(state.pendingAt).Seconds()
	stabilityDuration := nonZero(rules.Settings.StabilityDuration, 3.0)
	repeatInterval := nonZero(rules.Settings.RepeatInterval, 7.0)
	visualInterval := nonZero(rules.Settings.VisualInterval, 7.0)

	isStable := stabilityTime >= stabilityDuration
	shouldSpeak := false
	if isStable {
		if state.pendingCategory != state.lastSpokenCategory {
			shouldSpeak = true
		} else if now.Sub(state.lastSpokenAt).Seconds() > repeatInterval {
			shouldSpeak = true
		}
	}

	audioText := ""
	visualText := state.cachedText

	switch {
	case shouldSpeak:
		if msg, ok := pickMessage(rules.Category(state.pendingCategory)); ok {
			visualText = msg.Text
			audioText = msg.AudioText
			if audioText == "" {
				audioText = visualText
			}
			state.lastSpokenAt = now
			state.lastVisualAt = now
			state.lastSpokenCategory = state.pendingCategory
			state.cachedText = visualText
		}
	case now.Sub(state.lastVisualAt).Seconds() > visualInterval:
		if msg, ok := pickMessage(rules.Category(rawCategory)); ok {
			visualText = msg.Text
			state.lastVisualAt = now
			state.cachedText = visualText
		}
	}

	state.cachedColor = color
	return visualText, audioText, color
}

// ClearSession drops per-session debounce state, called when a session ends.
func (g *Generator) ClearSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}

// pickMessage selects a random message from the category's list, weighted by
// each message's Weight, matching random.choices(msgs, weights=weights, k=1).
func pickMessage(cat model.FeedbackCategory) (model.FeedbackMessage, bool) {
	if len(cat.Messages) == 0 {
		return model.FeedbackMessage{}, false
	}
	total := 0
	for _, m := range cat.Messages {
		w := m.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return cat.Messages[0], true
	}
	pick := rand.IntN(total)
	acc := 0
	for _, m := range cat.Messages {
		w := m.Weight
		if w <= 0 {
			w = 1
		}
		acc += w
		if pick < acc {
			return m, true
		}
	}
	return cat.Messages[len(cat.Messages)-1], true
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func nonZero(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
