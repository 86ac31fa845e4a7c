package estimator

import (
	"math"
	"testing"

	"github.com/serena-health/breath-engine/internal/model"
)

// syntheticECG builds a crude periodic QRS-like spike train at the given
// beats-per-minute over durationSec seconds at fs Hz, enough to exercise the
// R-peak detector without needing a real recording.
func syntheticECG(fs, bpm, durationSec float64) []int16 {
	n := int(fs * durationSec)
	x := make([]int16, n)
	period := fs * 60.0 / bpm
	for i := 0; i < n; i++ {
		phase := math.Mod(float64(i), period)
		v := 200.0 * math.Exp(-phase*phase/8.0)
		x[i] = int16(v)
	}
	return x
}

func TestMedianAndPercentile(t *testing.T) {
	xs := []float64{5, 1, 4, 2, 3}
	if got := median(xs); got != 3 {
		t.Fatalf("median = %v, want 3", got)
	}
	if got := percentile(xs, 0); got != 1 {
		t.Fatalf("p0 = %v, want 1", got)
	}
	if got := percentile(xs, 100); got != 5 {
		t.Fatalf("p100 = %v, want 5", got)
	}
}

func TestFindPeaksBasic(t *testing.T) {
	x := []float64{0, 1, 0, 0, 1, 0, 0, 1, 0}
	peaks := findPeaks(x, 1, 0.5)
	if len(peaks) != 3 {
		t.Fatalf("expected 3 peaks, got %v", peaks)
	}
}

func TestEstimateDetectsPeaksOnSyntheticSignal(t *testing.T) {
	fs := 130.0
	sig := syntheticECG(fs, 72.0, 12.0)
	ts := []int64{0}
	blockSizes := []int{len(sig)}
	params := model.DefaultParameterSet()

	res, err := Estimate(sig, ts, blockSizes, fs, params)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	if len(res.RPeaks) < 4 {
		t.Fatalf("expected at least 4 R-peaks, got %d", len(res.RPeaks))
	}
	if len(res.EstRR) != len(res.RPeaks) {
		t.Fatalf("EstRR length %d does not match RPeaks length %d", len(res.EstRR), len(res.RPeaks))
	}
}

func TestEstimateInsufficientPeaks(t *testing.T) {
	sig := make([]int16, 50)
	_, err := Estimate(sig, nil, nil, 130.0, model.DefaultParameterSet())
	if err == nil {
		t.Fatal("expected an error for a flat signal with no peaks")
	}
}
