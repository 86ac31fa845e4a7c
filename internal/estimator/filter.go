package estimator

import "math"

// hann returns an n-point Hann window, 0.5 - 0.5*cos(2*pi*k/(n-1)).
func hann(n int) []float64 {
	w := make([]float64, n)
	denom := float64(n - 1)
	if denom < 1 {
		denom = 1
	}
	for k := 0; k < n; k++ {
		w[k] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(k)/denom)
	}
	return w
}

// parabolicInterp refines a discrete peak index i in y using a three-point
// parabolic fit, returning the sub-sample peak location and its estimated value.
func parabolicInterp(y []float64, i int) (float64, float64) {
	if i <= 0 || i >= len(y)-1 {
		return float64(i), y[i]
	}
	y0, y1, y2 := y[i-1], y[i], y[i+1]
	denom := 2 * (2*y1 - y0 - y2)
	if denom == 0 {
		return float64(i), y1
	}
	delta := (y0 - y2) / denom
	xRef := float64(i) + delta
	yRef := y1 - 0.25*(y0-y2)*delta
	return xRef, yRef
}

// movingWindowAbsMean computes a causal moving average of |x|, using divisor
// i+1 for the not-yet-full prefix rather than the full window length.
func movingWindowAbsMean(x []float64, win int) []float64 {
	y := make([]float64, len(x))
	acc := 0.0
	for i, v := range x {
		av := math.Abs(v)
		acc += av
		if i >= win {
			acc -= math.Abs(x[i-win])
			y[i] = acc / float64(win)
		} else {
			y[i] = acc / float64(i+1)
		}
	}
	return y
}

// lfilter applies a direct-form-II-transposed IIR filter with coefficients
// b (numerator) and a (denominator, a[0] normalizes the others), zero initial
// state.
func lfilter(b, a []float64, x []float64) []float64 {
	order := len(b)
	if len(a) > order {
		order = len(a)
	}
	a0 := a[0]
	bn := make([]float64, order)
	an := make([]float64, order)
	for i := 0; i < order; i++ {
		if i < len(b) {
			bn[i] = b[i] / a0
		}
		if i < len(a) {
			an[i] = a[i] / a0
		}
	}
	z := make([]float64, order-1)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := bn[0]*xi + z[0]
		for j := 0; j < order-2; j++ {
			z[j] = bn[j+1]*xi + z[j+1] - an[j+1]*yi
		}
		z[order-2] = bn[order-1]*xi - an[order-1]*yi
		y[i] = yi
	}
	return y
}

// oddExtend pads x on both ends with an odd (point) reflection about its
// first/last sample, the same edge handling scipy.signal.filtfilt applies
// before its forward/backward pass.
func oddExtend(x []float64, padlen int) []float64 {
	n := len(x)
	if padlen <= 0 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}
	left := make([]float64, padlen)
	for i := 0; i < padlen; i++ {
		left[i] = 2*x[0] - x[padlen-i]
	}
	right := make([]float64, padlen)
	for i := 0; i < padlen; i++ {
		right[i] = 2*x[n-1] - x[n-2-i]
	}
	out := make([]float64, 0, n+2*padlen)
	out = append(out, left...)
	out = append(out, x...)
	out = append(out, right...)
	return out
}

// filtfilt applies (b, a) forward then backward over an odd-extended,
// zero-phase-padded copy of x, producing a zero-group-delay result.
func filtfilt(b, a []float64, x []float64) []float64 {
	n := len(x)
	ntaps := len(a)
	if len(b) > ntaps {
		ntaps = len(b)
	}
	padlen := 3 * ntaps
	if padlen >= n {
		if n > 1 {
			padlen = n - 1
		} else {
			padlen = 0
		}
	}
	ext := oddExtend(x, padlen)
	y := lfilter(b, a, ext)
	reverseInPlace(y)
	y = lfilter(b, a, y)
	reverseInPlace(y)
	if padlen == 0 {
		return y
	}
	return y[padlen : len(y)-padlen]
}

func reverseInPlace(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// butterBandpassFiltfilt zero-phase bandpass-filters x with a Butterworth
// filter of the given order and corner frequencies in Hz.
func butterBandpassFiltfilt(x []float64, fs, lowHz, highHz float64, order int) []float64 {
	nyq := fs / 2.0
	b, a := butterBandpass(order, lowHz/nyq, highHz/nyq)
	return filtfilt(b, a, x)
}
