package estimator

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/serena-health/breath-engine/internal/model"
)

// estimateBPMFromSection derives one spectral breathing-rate estimate from an
// EDR (RMS) section: a Hann-windowed real FFT power spectrum is searched over
// a beat-rate-normalized frequency window, the strongest bin is refined with
// a parabolic fit, and a harmonic check nudges the result to 2x/0.5x if a
// stronger peak sits there — mirroring
// resp_rr_estimator.py's _estimate_bpm_from_section exactly, with the FFT
// itself delegated to gonum's dsp/fourier rather than a hand-rolled DFT.
func estimateBPMFromSection(section []float64, rrMedMs float64, cfg model.ParameterSet) float64 {
	if math.IsNaN(rrMedMs) || len(section) < 4 {
		return math.NaN()
	}

	mean := 0.0
	for _, v := range section {
		mean += v
	}
	mean /= float64(len(section))

	win := hann(len(section))
	sw := make([]float64, len(section))
	for i, v := range section {
		sw[i] = (v - mean) * win[i]
	}

	nfft := cfg.FFTLength
	if nfft < len(sw) {
		nfft = nextPow2(len(sw))
	}
	padded := make([]float64, nfft)
	copy(padded, sw)

	fft := fourier.NewFFT(nfft)
	coeffs := fft.Coefficients(nil, padded)

	ps := make([]float64, len(coeffs))
	freqs := make([]float64, len(coeffs))
	for i, c := range coeffs {
		ps[i] = real(c)*real(c) + imag(c)*imag(c)
		freqs[i] = fft.Freq(i)
	}

	beatsPerMin := 60000.0 / rrMedMs

	fmin := math.Max(cfg.FreqRangeCBLow, cfg.BPMMin/beatsPerMin)
	fmax := math.Min(cfg.FreqRangeCBHigh, cfg.BPMMax/beatsPerMin)
	if fmin >= fmax {
		return math.NaN()
	}

	var idxs []int
	for i, f := range freqs {
		if f >= fmin && f <= fmax {
			idxs = append(idxs, i)
		}
	}
	if len(idxs) == 0 {
		return math.NaN()
	}

	best := idxs[0]
	for _, i := range idxs {
		if ps[i] > ps[best] {
			best = i
		}
	}

	xk, _ := parabolicInterp(ps, best)
	lo, hi := float64(idxs[0]), float64(idxs[len(idxs)-1])
	if xk < lo {
		xk = lo
	}
	if xk > hi {
		xk = hi
	}
	f0 := interpFreq(freqs, xk)
	bpm := f0 * beatsPerMin

	psAt := func(freq float64) float64 {
		if freq <= freqs[0] || freq >= freqs[len(freqs)-1] {
			return 0.0
		}
		best := 0
		bestDiff := math.Abs(freqs[0] - freq)
		for i, f := range freqs {
			d := math.Abs(f - freq)
			if d < bestDiff {
				bestDiff = d
				best = i
			}
		}
		return ps[best]
	}

	psF := psAt(f0)
	ps2F := psAt(math.Min(0.5, 2.0*f0))
	psHF := psAt(math.Max(cfg.FreqRangeCBLow, 0.5*f0))
	floor := math.Max(psF, 1e-12)

	if ps2F > cfg.HarmonicRatio*floor {
		if bpm2 := 2.0 * bpm; bpm2 >= cfg.BPMMin && bpm2 <= cfg.BPMMax {
			bpm = bpm2
		}
	} else if psHF > cfg.HarmonicRatio*floor {
		if bpm2 := 0.5 * bpm; bpm2 >= cfg.BPMMin && bpm2 <= cfg.BPMMax {
			bpm = bpm2
		}
	}
	return bpm
}

// interpFreq linearly interpolates the frequency axis at a fractional bin
// index, matching numpy.interp against arange(len(freqs)).
func interpFreq(freqs []float64, x float64) float64 {
	n := len(freqs)
	if x <= 0 {
		return freqs[0]
	}
	if x >= float64(n-1) {
		return freqs[n-1]
	}
	i := int(x)
	frac := x - float64(i)
	return freqs[i] + frac*(freqs[i+1]-freqs[i])
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
