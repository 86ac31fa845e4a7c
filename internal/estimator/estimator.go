// Package estimator turns a raw ECG sample stream into per-beat respiratory
// rate, heart-rate, and inhale/exhale markers. The pipeline — bandpass ->
// envelope gating -> R-peak detection/refinement -> QRS/EDR extraction ->
// per-beat spectral breathing-rate estimate -> smoothing -> time mapping ->
// inhale/exhale peak picking — is ported beat-for-beat from
// resp_rr_estimator.py, the original estimator this service replaces.
package estimator

import (
	"errors"
	"fmt"
	"math"

	"github.com/serena-health/breath-engine/internal/model"
)

// ErrInsufficientPeaks is returned when fewer than 4 R-peaks were found in
// the supplied segment, matching the original's minimum for a usable
// RR/BPM estimate.
var ErrInsufficientPeaks = errors.New("insufficient R-peaks")

// Result carries every per-beat output array the estimator produces, aligned
// by index to the R-peak sample positions in RPeaks. RRMs is one entry
// shorter: RRMs[i] is the interval from beat i to beat i+1.
type Result struct {
	FS        float64
	RPeaks    []int
	RRMs      []float64
	EstRR     []float64
	TSPerBeat []float64
	Tijd      []string
	Inhale    []string
	Exhale    []string
}

const defaultFS = 130.0

// Estimate runs the full pipeline over one contiguous ECG segment.
//
// sig is the raw int16 sample stream; ts holds the device timestamp (epoch
// ms) of the first sample in each append-block, and blockSizes the sample
// count of each corresponding block — together they let per-beat results be
// mapped back to wall-clock time without assuming a perfectly regular
// sample clock.
func Estimate(sig []int16, ts []int64, blockSizes []int, fsHint float64, params model.ParameterSet) (*Result, error) {
	fs := fsHint
	if fs <= 0 {
		fs = defaultFS
	}

	x := make([]float64, len(sig))
	for i, v := range sig {
		x[i] = float64(v)
	}
	med := median(x)
	for i := range x {
		x[i] -= med
	}

	r0 := detectRPeaks(x, fs, params)
	r := refineRPeaks(x, r0)
	if len(r) < 4 {
		return nil, fmt.Errorf("%w: %d found", ErrInsufficientPeaks, len(r))
	}

	qrs := extractQRSStacks(x, r, fs, params)
	rms := make([]float64, len(r))
	for k, beat := range qrs {
		sumSq := 0.0
		for _, v := range beat {
			sumSq += v * v
		}
		rms[k] = math.Sqrt(sumSq / float64(len(beat)))
	}

	rrMs := make([]float64, 0)
	if len(r) > 1 {
		rrMs = make([]float64, len(r)-1)
		for i := 1; i < len(r); i++ {
			rrMs[i-1] = 1000.0 * float64(r[i]-r[i-1]) / fs
		}
	}

	hWin := params.HeartbeatWindow
	sWin := params.SmoothWin

	est := make([]float64, len(rms))
	for i := range rms {
		var section []float64
		rrMedMs := math.NaN()
		if i < hWin {
			section = sliceClamp(rms, 0, i)
			if i > 0 && len(rrMs) > 0 {
				rrMedMs = median(sliceClamp(rrMs, 0, i))
			}
		} else {
			section = sliceClamp(rms, i-hWin, i)
			start := max(0, i-hWin-1)
			stop := max(0, i-1)
			var rrSlice []float64
			if stop > start {
				rrSlice = sliceClamp(rrMs, start, stop)
			} else {
				rrSlice = sliceClamp(rrMs, 0, i)
			}
			if len(rrSlice) > 0 {
				rrMedMs = median(rrSlice)
			}
		}
		est[i] = estimateBPMFromSection(section, rrMedMs, params)
	}

	sm := make([]float64, len(est))
	copy(sm, est)
	for i := range est {
		if i >= sWin {
			sm[i] = nanMedian(est[i-sWin : i])
		}
	}

	tsPerBeat, tijd := mapBeatTimes(r, ts, blockSizes, fs, len(sig), sm)
	inhale, exhale := detectInhaleExhale(rms, rrMs, sm)

	return &Result{
		FS:        fs,
		RPeaks:    r,
		RRMs:      rrMs,
		EstRR:     sm,
		TSPerBeat: tsPerBeat,
		Tijd:      tijd,
		Inhale:    inhale,
		Exhale:    exhale,
	}, nil
}

// detectRPeaks band-limits the signal, compares a short QRS-scale envelope
// against a longer beat-scale envelope, and picks the tallest sample of each
// span where the short envelope leads, enforcing a refractory period between
// accepted peaks.
func detectRPeaks(sig []float64, fs float64, cfg model.ParameterSet) []int {
	x := butterBandpassFiltfilt(sig, fs, cfg.BPLowHz, cfg.BPHighHz, 2)
	w1 := maxInt(1, int(math.Round(cfg.MWAQRSSec*fs)))
	w2 := maxInt(1, int(math.Round(cfg.MWABeatSec*fs)))
	mwaQRS := movingWindowAbsMean(x, w1)
	mwaBeat := movingWindowAbsMean(x, w2)

	minSeg := int(math.Round(cfg.MinSegSec * fs))
	refr := int(math.Round(cfg.MinRRSec * fs))

	var peaks []int
	on := -1
	for i := 1; i < len(mwaQRS); i++ {
		blockPrev := mwaQRS[i-1] > mwaBeat[i-1]
		blockCur := mwaQRS[i] > mwaBeat[i]
		switch {
		case on < 0 && !blockPrev && blockCur:
			on = i
		case on >= 0 && blockPrev && !blockCur:
			off := i - 1
			if off-on > minSeg {
				pk := on + argmax(x[on:off+1])
				if len(peaks) == 0 || pk-peaks[len(peaks)-1] > refr {
					peaks = append(peaks, pk)
				}
			}
			on = -1
		}
	}
	return peaks
}

// refineRPeaks hill-climbs each detected index to the nearest local maximum
// of the (unfiltered, median-removed) signal.
func refineRPeaks(sig []float64, rpeaks []int) []int {
	out := make([]int, len(rpeaks))
	for k, idx := range rpeaks {
		i := idx
		if i > 0 && i < len(sig)-1 {
			for i > 0 && sig[i] < sig[i-1] {
				i--
			}
			for i < len(sig)-1 && sig[i] < sig[i+1] {
				i++
			}
		}
		out[k] = i
	}
	return out
}

// extractQRSStacks clips a fixed-width, band-limited window around each
// R-peak, edge-clamped at the signal boundaries.
func extractQRSStacks(sig []float64, rpeaks []int, fs float64, cfg model.ParameterSet) [][]float64 {
	half := int(math.Round(cfg.QRSHalfSec * fs))
	x := butterBandpassFiltfilt(sig, fs, cfg.BPLowHz, cfg.BPHighHz, 2)
	n := len(x)
	beats := make([][]float64, len(rpeaks))
	for k, rp := range rpeaks {
		beat := make([]float64, 2*half+1)
		for j := -half; j <= half; j++ {
			idx := clampInt(rp+j, 0, n-1)
			beat[j+half] = x[idx]
		}
		beats[k] = beat
	}
	return beats
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return percentile(xs, 50)
}

// nanMedian computes the median after discarding NaNs, matching np.nanmedian.
func nanMedian(xs []float64) float64 {
	clean := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN()
	}
	return median(clean)
}

func argmax(xs []float64) int {
	best := 0
	for i, v := range xs {
		if v > xs[best] {
			best = i
		}
	}
	return best
}

// sliceClamp returns xs[lo:hi] with lo, hi clamped into [0, len(xs)],
// mirroring Python's auto-clamping slice semantics.
func sliceClamp(xs []float64, lo, hi int) []float64 {
	if lo < 0 {
		lo = 0
	}
	if hi > len(xs) {
		hi = len(xs)
	}
	if lo > hi {
		lo = hi
	}
	return xs[lo:hi]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func max(a, b int) int { return maxInt(a, b) }

// mapBeatTimes maps per-beat sample positions to device wall-clock time,
// building both a millisecond timestamp array and a cumulative
// "HH:MM:SS.mmm UTC" elapsed-since-first-beat display string.
func mapBeatTimes(rpeaks []int, ts []int64, blockSizes []int, fs float64, nSamples int, sm []float64) ([]float64, []string) {
	tsPerBeat := make([]float64, len(sm))
	tijd := make([]string, len(sm))
	for i := range tsPerBeat {
		tsPerBeat[i] = math.NaN()
	}
	if len(ts) == 0 || len(blockSizes) == 0 || len(rpeaks) != len(sm) {
		return tsPerBeat, tijd
	}

	sampleTSMs := make([]float64, nSamples)
	cursor := 0
	for b, bsize := range blockSizes {
		if b >= len(ts) || bsize <= 0 {
			continue
		}
		t0 := float64(ts[b])
		end := cursor + bsize
		if end > nSamples {
			end = nSamples
		}
		for s := cursor; s < end; s++ {
			sampleTSMs[s] = t0 + float64(s-cursor)/fs*1000.0
		}
		cursor = end
	}

	for i := range sm {
		rp := rpeaks[i]
		if rp >= 0 && rp < len(sampleTSMs) && !math.IsNaN(sm[i]) {
			tsPerBeat[i] = sampleTSMs[rp]
		}
	}

	firstValid := -1
	for i, v := range tsPerBeat {
		if !math.IsNaN(v) {
			firstValid = i
			break
		}
	}
	if firstValid < 0 {
		return tsPerBeat, tijd
	}
	baseTS := tsPerBeat[firstValid]
	for i, v := range tsPerBeat {
		if math.IsNaN(v) {
			continue
		}
		totalMs := int64(math.Round(v - baseTS))
		h := totalMs / 3600000
		rem := totalMs % 3600000
		m := rem / 60000
		rem %= 60000
		s := rem / 1000
		ms := rem % 1000
		tijd[i] = fmt.Sprintf("%02d:%02d:%02d.%03d UTC", h, m, s, ms)
	}
	return tsPerBeat, tijd
}

// detectInhaleExhale smooths the EDR envelope over a breathing-scale window,
// removes a slower trend, and picks alternating inhale/exhale peaks from the
// detrended curve.
func detectInhaleExhale(rms, rrMs, sm []float64) (inhale, exhale []string) {
	inhale = make([]string, len(sm))
	exhale = make([]string, len(sm))
	if len(rms) < 10 {
		return inhale, exhale
	}

	var tail []float64
	if len(sm) >= 20 {
		tail = sm[len(sm)-20:]
	} else {
		tail = sm
	}
	estRespBPM := nanMedian(tail)
	if math.IsNaN(estRespBPM) || estRespBPM <= 3 {
		estRespBPM = 10.0
	}

	avgRRSec := 0.8
	if len(rrMs) > 0 {
		m := nanMedian(rrMs) / 1000.0
		if !math.IsNaN(m) {
			avgRRSec = m
		}
	}
	if avgRRSec <= 0.3 {
		avgRRSec = 0.8
	}

	respCycleSec := 60.0 / estRespBPM
	targetSmoothSec := math.Min(2.0, math.Max(0.6, respCycleSec*0.25))

	smoothBeats := int(math.Round(targetSmoothSec / avgRRSec))
	if smoothBeats < 3 {
		smoothBeats = 3
	}
	if smoothBeats%2 == 0 {
		smoothBeats++
	}

	window := hann(smoothBeats)
	sum := 0.0
	for _, w := range window {
		sum += w
	}
	for i := range window {
		window[i] /= sum
	}
	rmsSmooth := convolveSame(rms, window)

	trendWin := maxInt(30, int(math.Round((respCycleSec*2)/avgRRSec)))
	trend := movingWindowAbsMean(rmsSmooth, trendWin)
	rmsDetrended := make([]float64, len(rmsSmooth))
	for i := range rmsSmooth {
		rmsDetrended[i] = rmsSmooth[i] - trend[i]
	}

	minDistBeats := maxInt(1, int(math.Round((respCycleSec*0.4)/avgRRSec)))
	localPTP := percentile(rmsDetrended, 95) - percentile(rmsDetrended, 5)
	promVal := math.Max(0.001, localPTP*0.15)

	peaksE := findPeaks(rmsDetrended, float64(minDistBeats), promVal)
	neg := make([]float64, len(rmsDetrended))
	for i, v := range rmsDetrended {
		neg[i] = -v
	}
	peaksI := findPeaks(neg, float64(minDistBeats), promVal)

	for _, p := range peaksE {
		if p < len(exhale) {
			exhale[p] = "E"
		}
	}
	for _, p := range peaksI {
		if p < len(inhale) {
			inhale[p] = "I"
		}
	}
	return inhale, exhale
}
