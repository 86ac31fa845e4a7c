package estimator

import (
	"math"
	"sort"
)

// localMaxima finds strict local maxima in x, resolving flat plateaus to their
// midpoint sample, mirroring scipy.signal._peak_finding_utils._local_maxima_1d.
func localMaxima(x []float64) []int {
	n := len(x)
	var mids []int
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			iAhead := i + 1
			for iAhead < n-1 && x[iAhead] == x[i] {
				iAhead++
			}
			if x[iAhead] < x[i] {
				mids = append(mids, (i+iAhead-1)/2)
				i = iAhead
			}
		}
		i++
	}
	return mids
}

// peakProminences computes each peak's prominence: its height above the
// higher of the lowest points reached before a taller sample is met on
// either side, mirroring scipy.signal.peak_prominences with no wlen bound.
func peakProminences(x []float64, peaks []int) []float64 {
	n := len(x)
	proms := make([]float64, len(peaks))
	for idx, peak := range peaks {
		leftMin := x[peak]
		i := peak
		for i > 0 {
			i--
			if x[i] > x[peak] {
				break
			}
			if x[i] < leftMin {
				leftMin = x[i]
			}
		}
		rightMin := x[peak]
		j := peak
		for j < n-1 {
			j++
			if x[j] > x[peak] {
				break
			}
			if x[j] < rightMin {
				rightMin = x[j]
			}
		}
		base := leftMin
		if rightMin > base {
			base = rightMin
		}
		proms[idx] = x[peak] - base
	}
	return proms
}

// selectByDistance greedily keeps the tallest peaks first, discarding any
// shorter peak within `distance` samples of one already kept, mirroring
// scipy.signal._select_by_peak_distance.
func selectByDistance(peaks []int, heights []float64, distance float64) []int {
	n := len(peaks)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return heights[order[a]] > heights[order[b]] })
	removed := make([]bool, n)
	for _, idx := range order {
		if removed[idx] {
			continue
		}
		for j := 0; j < n; j++ {
			if j == idx || removed[j] {
				continue
			}
			if math.Abs(float64(peaks[j]-peaks[idx])) < distance {
				removed[j] = true
			}
		}
	}
	out := make([]int, 0, n)
	for i, p := range peaks {
		if !removed[i] {
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// findPeaks locates local maxima in x with prominence >= prominence, then
// prunes down to peaks at least `distance` samples apart, keeping the
// tallest of any close pair — the subset of scipy.signal.find_peaks this
// estimator relies on.
func findPeaks(x []float64, distance, prominence float64) []int {
	peaks := localMaxima(x)
	if len(peaks) == 0 {
		return nil
	}
	proms := peakProminences(x, peaks)
	kept := make([]int, 0, len(peaks))
	heights := make([]float64, 0, len(peaks))
	for i, p := range peaks {
		if proms[i] >= prominence {
			kept = append(kept, p)
			heights = append(heights, x[p])
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if distance > 1 {
		kept = selectByDistance(kept, heights, distance)
	}
	return kept
}

// convolveSame performs a 1-D convolution truncated to numpy's 'same' mode:
// output length equals len(x), centered under an odd-length kernel.
func convolveSame(x, kernel []float64) []float64 {
	n, m := len(x), len(kernel)
	full := make([]float64, n+m-1)
	for i, xv := range x {
		for j, kv := range kernel {
			full[i+j] += xv * kv
		}
	}
	start := (m - 1) / 2
	out := make([]float64, n)
	copy(out, full[start:start+n])
	return out
}

// percentile computes the p-th percentile of xs using linear interpolation
// between closest ranks, matching numpy.percentile's default method.
func percentile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
