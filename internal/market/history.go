package market

// Sample is one classified price-movement observation. Immutable after
// creation.
type Sample struct {
	PercentChange float64
	Bucket        State
}

// History is a fixed-capacity, insertion-ordered buffer of samples. Pushing
// onto a full buffer evicts the oldest entry; relative order of the survivors
// is preserved. History is not synchronized: it has exactly one writer (the
// trading tick) and readers go through the engine's snapshot.
type History struct {
	capacity int
	samples  []Sample
}

// NewHistory creates a history holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// Push appends a sample, evicting the oldest entry first when at capacity.
func (h *History) Push(s Sample) {
	if len(h.samples) >= h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, s)
}

// Len returns the number of samples currently held.
func (h *History) Len() int {
	return len(h.samples)
}

// Capacity returns the maximum number of samples held.
func (h *History) Capacity() int {
	return h.capacity
}

// Samples returns the samples oldest-first as a copy.
func (h *History) Samples() []Sample {
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Contains reports whether any held sample has the given bucket.
func (h *History) Contains(st State) bool {
	for _, s := range h.samples {
		if s.Bucket == st {
			return true
		}
	}
	return false
}
