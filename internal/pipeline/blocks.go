package pipeline

import "math"

// blockWindow tracks the device-timestamp and sample-count of each appended
// ECG block in parallel with a session.RingBuffer's flat sample contents, so
// per-beat results can be mapped back onto wall-clock time after the ring
// buffer has dropped its oldest samples. Not safe for concurrent use; callers
// must hold the owning device's lock.
type blockWindow struct {
	fs    float64
	ts    []int64
	sizes []int
}

func newBlockWindow(fs float64) *blockWindow {
	return &blockWindow{fs: fs}
}

// append records one newly-arrived block.
func (w *blockWindow) append(ts int64, n int) {
	if n <= 0 {
		return
	}
	w.ts = append(w.ts, ts)
	w.sizes = append(w.sizes, n)
}

// trimToSamples drops (or partially trims) the oldest blocks so the total
// sample count tracked here matches maxSamples, mirroring how the ring
// buffer it shadows drops its oldest raw samples.
func (w *blockWindow) trimToSamples(maxSamples int) {
	total := 0
	for _, n := range w.sizes {
		total += n
	}
	for total > maxSamples && len(w.sizes) > 0 {
		drop := total - maxSamples
		if w.sizes[0] <= drop {
			total -= w.sizes[0]
			w.ts = w.ts[1:]
			w.sizes = w.sizes[1:]
			continue
		}
		// Partially consumed: the block's remaining samples start later.
		w.sizes[0] -= drop
		w.ts[0] += int64(math.Round(float64(drop) / w.fs * 1000.0))
		total = maxSamples
	}
}

// snapshot returns copies of the tracked block timestamps and sizes, safe to
// hand to estimator.Estimate.
func (w *blockWindow) snapshot() ([]int64, []int) {
	ts := make([]int64, len(w.ts))
	copy(ts, w.ts)
	sizes := make([]int, len(w.sizes))
	copy(sizes, w.sizes)
	return ts, sizes
}
