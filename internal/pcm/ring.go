// Package pcm moves raw interleaved stereo audio from the audio context to the
// render loop.
package pcm

import (
	"math"
	"sync/atomic"
	"time"
)

// Channels is the fixed interleaving of the transport.
const Channels = 2

// Ring is a monotonically written ring of interleaved stereo frames.
//
// One goroutine writes with PushInterleaved; one goroutine reads with
// CopyLatest. The writer never waits for the reader: history older than the
// capacity is overwritten. Samples are stored as atomic words so a reader
// racing a lapping writer sees old or new samples, never torn ones.
type Ring struct {
	capacity int
	samples  []atomic.Uint32

	written    atomic.Uint64
	lastWrite  atomic.Int64
	sampleRate atomic.Uint64

	now func() time.Time
}

// NewRing creates a ring holding capacityFrames stereo frames.
func NewRing(capacityFrames int, sampleRate float64) *Ring {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	r := &Ring{
		capacity: capacityFrames,
		samples:  make([]atomic.Uint32, capacityFrames*Channels),
		now:      time.Now,
	}
	r.SetSampleRate(sampleRate)
	return r
}

// CapacityFrames returns the number of frames of history retained.
func (r *Ring) CapacityFrames() int { return r.capacity }

// SetSampleRate records the producer's current sample rate.
func (r *Ring) SetSampleRate(rate float64) {
	r.sampleRate.Store(math.Float64bits(rate))
}

// SampleRate returns the last recorded sample rate.
func (r *Ring) SampleRate() float64 {
	return math.Float64frombits(r.sampleRate.Load())
}

// FramesWritten returns the monotonic count of frames ever pushed.
func (r *Ring) FramesWritten() uint64 {
	return r.written.Load()
}

// PushInterleaved appends frameCount stereo frames from samples. Only the
// last CapacityFrames frames of an oversized block are kept.
func (r *Ring) PushInterleaved(samples []float32, frameCount int) {
	if frameCount > len(samples)/Channels {
		frameCount = len(samples) / Channels
	}
	if frameCount <= 0 {
		return
	}

	start := r.written.Load()
	skip := 0
	if frameCount > r.capacity {
		skip = frameCount - r.capacity
	}
	for f := skip; f < frameCount; f++ {
		slot := int((start+uint64(f))%uint64(r.capacity)) * Channels
		src := f * Channels
		r.samples[slot].Store(math.Float32bits(samples[src]))
		r.samples[slot+1].Store(math.Float32bits(samples[src+1]))
	}
	r.written.Store(start + uint64(frameCount))
	r.lastWrite.Store(r.now().UnixNano())
}

// CopyLatest returns min(desiredFrames, CapacityFrames) interleaved frames
// ending at the last published frame, in chronological order. Frames older
// than the recorded history are zero.
func (r *Ring) CopyLatest(desiredFrames int) []float32 {
	if desiredFrames <= 0 {
		return nil
	}
	n := min(desiredFrames, r.capacity)
	out := make([]float32, n*Channels)

	end := r.written.Load()
	have := uint64(n)
	if end < have {
		have = end
	}
	lead := n - int(have)
	first := end - have
	for i := 0; i < int(have); i++ {
		slot := int((first+uint64(i))%uint64(r.capacity)) * Channels
		dst := (lead + i) * Channels
		out[dst] = math.Float32frombits(r.samples[slot].Load())
		out[dst+1] = math.Float32frombits(r.samples[slot+1].Load())
	}
	return out
}

// HasRecentData reports whether a block was pushed within maxAge.
// A ring that never received data is never recent.
func (r *Ring) HasRecentData(maxAge time.Duration) bool {
	last := r.lastWrite.Load()
	if last == 0 {
		return false
	}
	return r.now().UnixNano()-last <= maxAge.Nanoseconds()
}
