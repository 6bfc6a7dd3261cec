package analyzer

import "github.com/guidoenr/vizcore/internal/ring"

// WindowSize is the number of source samples covered by one Snapshot.
const WindowSize = 1024

// DefaultSnapshotCapacity absorbs bursts while the render loop sleeps or stalls.
const DefaultSnapshotCapacity = 64

// Snapshot is an immutable capture of the features of one analysis window.
// It is copied by value through the channel.
type Snapshot struct {
	// SamplePosition is the monotonic source-sample index of the window start.
	SamplePosition  uint64
	ShortTimeEnergy float32
	Features        Features
}

// Sink is the push-only handle given to the audio context.
type Sink interface {
	Push(Snapshot) bool
}

// SnapshotChannel carries snapshots from the audio context to the render loop.
// A full channel drops the newest push; queued snapshots are never reordered.
type SnapshotChannel = ring.Channel[Snapshot]

// NewSnapshotChannel creates a snapshot channel; capacity <= 0 selects
// DefaultSnapshotCapacity.
func NewSnapshotChannel(capacity int) *SnapshotChannel {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return ring.New[Snapshot](capacity)
}
