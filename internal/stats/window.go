package stats

import "math"

// Window keeps descriptive statistics over the most recent samples.
// At capacity the oldest sample is evicted before the new one is added,
// so N never exceeds the capacity. Mean and stddev run in O(1) via
// incremental sums maintained on insert and evict.
//
// Window is not safe for concurrent use; owners synchronise around it.
type Window struct {
	buf   []float64
	head  int
	size  int
	sum   float64
	sumSq float64
}

// NewWindow creates a window holding up to capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Add folds x into the window, evicting the oldest sample at capacity.
// Non-finite values are ignored.
func (w *Window) Add(x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return
	}
	if w.size == len(w.buf) {
		old := w.buf[w.head]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.size++
	}
	w.buf[w.head] = x
	w.sum += x
	w.sumSq += x * x
	w.head = (w.head + 1) % len(w.buf)
}

// N returns the number of samples currently held.
func (w *Window) N() int { return w.size }

// Capacity returns the maximum number of samples held.
func (w *Window) Capacity() int { return len(w.buf) }

// Mean returns the arithmetic mean, or 0 when empty.
func (w *Window) Mean() float64 {
	if w.size == 0 {
		return 0
	}
	return w.sum / float64(w.size)
}

// StdDev returns the sample standard deviation (divisor N-1).
// Fewer than two samples yield 0.
func (w *Window) StdDev() float64 {
	if w.size < 2 {
		return 0
	}
	n := float64(w.size)
	mean := w.sum / n
	variance := (w.sumSq - n*mean*mean) / (n - 1)
	if variance < 0 {
		// Floating-point cancellation can push the result a hair below zero.
		variance = 0
	}
	return math.Sqrt(variance)
}
