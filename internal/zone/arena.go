package zone

import "time"

// sample is one zone observation. Samples are high-frequency allocations, so
// they live in an index-addressed arena with a free list instead of being
// heap-allocated per observation; peak memory stays bounded by the maximum
// number of live samples.
type sample struct {
	ts         time.Time
	passiveBid int64
	passiveAsk int64
	aggressive int64
	spread     int64
}

type sampleArena struct {
	samples []sample
	free    []int32
}

// alloc returns the index of a zeroed sample slot.
func (a *sampleArena) alloc() int32 {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.samples[idx] = sample{}
		return idx
	}
	a.samples = append(a.samples, sample{})
	return int32(len(a.samples) - 1)
}

// release returns a slot to the free list.
func (a *sampleArena) release(idx int32) {
	a.free = append(a.free, idx)
}

// at returns the sample stored at idx. The pointer is valid until the slot is
// released; callers must not retain it across alloc calls.
func (a *sampleArena) at(idx int32) *sample {
	return &a.samples[idx]
}

// live returns the number of slots currently in use.
func (a *sampleArena) live() int {
	return len(a.samples) - len(a.free)
}
