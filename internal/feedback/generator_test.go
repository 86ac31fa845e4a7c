package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/serena-health/breath-engine/internal/model"
)

func defaultsLoader(ctx context.Context) (model.FeedbackRules, error) {
	return model.DefaultFeedbackRules(), nil
}

func TestGetFeedbackNoOpOnNonPositiveRates(t *testing.T) {
	g := NewGenerator(defaultsLoader, zerolog.Nop())
	text, audio, color := g.GetFeedback(context.Background(), "s1", 0, 12)
	if text != "Wachten..." || audio != "" || color != "" {
		t.Fatalf("got (%q,%q,%q), want (\"Wachten...\",\"\",\"\")", text, audio, color)
	}
}

func TestGetFeedbackStartsBlue(t *testing.T) {
	g := NewGenerator(defaultsLoader, zerolog.Nop())
	_, _, color := g.GetFeedback(context.Background(), "s1", 12, 12)
	if color != "accent" {
		t.Fatalf("color = %q, want accent (blue window)", color)
	}
}

func TestGetFeedbackSettlesGreenAfterBlueWindow(t *testing.T) {
	g := NewGenerator(defaultsLoader, zerolog.Nop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	g.now = func() time.Time { return tick }

	g.GetFeedback(context.Background(), "s1", 12, 12)

	tick = base.Add(31 * time.Second)
	_, _, color := g.GetFeedback(context.Background(), "s1", 12, 12.1)
	if color != "ok" {
		t.Fatalf("color = %q, want ok (within green threshold)", color)
	}
}

func TestGetFeedbackRedFastWhenFasterThanTarget(t *testing.T) {
	g := NewGenerator(defaultsLoader, zerolog.Nop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	g.now = func() time.Time { return tick }

	g.GetFeedback(context.Background(), "s1", 10, 10)
	tick = base.Add(31 * time.Second)
	_, _, color := g.GetFeedback(context.Background(), "s1", 10, 14)
	if color != "bad" {
		t.Fatalf("color = %q, want bad (40%% above target)", color)
	}
}

func TestClearSessionResetsState(t *testing.T) {
	g := NewGenerator(defaultsLoader, zerolog.Nop())
	g.GetFeedback(context.Background(), "s1", 12, 12)
	g.ClearSession("s1")
	if _, ok := g.sessions["s1"]; ok {
		t.Fatal("expected session state to be removed")
	}
}
