package estimator

import (
	"math"
	"math/cmplx"
)

// butterBandpass designs a digital Butterworth bandpass filter of the given
// order with normalized corner frequencies low, high in (0,1) (1.0 == Nyquist),
// mirroring the analog-prototype -> lowpass-to-bandpass -> bilinear-transform
// pipeline scipy.signal.butter(order, [low, high], btype="band") runs. No
// example repo in the pack ships a general IIR filter designer and gonum has
// no bandpass-Butterworth design routine, so this is hand-rolled (see
// DESIGN.md).
func butterBandpass(order int, low, high float64) (b, a []float64) {
	const fs = 2.0 // scipy's normalized-frequency convention: Nyquist == 1 <=> fs == 2

	warp := func(wn float64) float64 {
		return 2 * fs * math.Tan(math.Pi*wn/fs)
	}
	lowW, highW := warp(low), warp(high)
	bw := highW - lowW
	wo := math.Sqrt(lowW * highW)

	// Analog Butterworth lowpass prototype poles (no finite zeros), gain 1.
	poles := make([]complex128, order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+1) / float64(2*order)
		poles[k] = complex(-math.Sin(theta), math.Cos(theta))
	}

	// lp2bp: shift the lowpass prototype to a bandpass centered at wo with
	// bandwidth bw. Each prototype pole becomes a conjugate pair of bandpass
	// poles; the prototype's zeros-at-infinity become `order` bandpass zeros
	// at the origin.
	bpPoles := make([]complex128, 0, 2*order)
	for _, p := range poles {
		p2 := p * complex(bw/2, 0)
		disc := cmplx.Sqrt(p2*p2 - complex(wo*wo, 0))
		bpPoles = append(bpPoles, p2+disc, p2-disc)
	}
	bpZeros := make([]complex128, order)
	kLP := math.Pow(bw, float64(order))

	// Bilinear transform to the digital domain.
	fs2 := complex(2*fs, 0)
	zDigital := make([]complex128, len(bpZeros))
	for i, z := range bpZeros {
		zDigital[i] = (fs2 + z) / (fs2 - z)
	}
	pDigital := make([]complex128, len(bpPoles))
	for i, p := range bpPoles {
		pDigital[i] = (fs2 + p) / (fs2 - p)
	}
	// Degree deficiency (zeros at infinity) maps to z = -1 in the digital domain.
	degree := len(bpPoles) - len(bpZeros)
	for i := 0; i < degree; i++ {
		zDigital = append(zDigital, -1)
	}

	num, den := complex(1, 0), complex(1, 0)
	for _, z := range bpZeros {
		num *= fs2 - z
	}
	for _, p := range bpPoles {
		den *= fs2 - p
	}
	kDigital := kLP * real(num/den)

	bC := polyFromRoots(zDigital)
	aC := polyFromRoots(pDigital)

	b = make([]float64, len(bC))
	for i, c := range bC {
		b[i] = real(c) * kDigital
	}
	a = make([]float64, len(aC))
	for i, c := range aC {
		a[i] = real(c)
	}
	return b, a
}

// polyFromRoots expands product(x - r_i) into coefficients ordered from the
// leading (highest-degree) term first, matching numpy.poly/scipy zpk2tf.
func polyFromRoots(roots []complex128) []complex128 {
	coeffs := []complex128{1}
	for _, r := range roots {
		n := len(coeffs)
		next := make([]complex128, n+1)
		for i := 0; i < n; i++ {
			next[i] += coeffs[i]
			next[i+1] -= r * coeffs[i]
		}
		coeffs = next
	}
	return coeffs
}
