package control

import (
	"sync/atomic"

	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/ring"
)

// Listener receives a drained ParameterChange.
type Listener func(ParameterChange)

// Bridge routes parameter changes posted from a real-time producer to the
// message context, which notifies its own listener and forwards the change
// to the visualization listener.
//
// Post is the producer side; Drain runs on the message context. Listeners
// must be set before the first Drain.
type Bridge struct {
	queue    *ring.Channel[ParameterChange]
	sequence atomic.Uint64

	message       Listener
	visualization Listener
}

// NewBridge creates a bridge with capacity queued changes.
func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bridge{queue: ring.New[ParameterChange](capacity)}
}

// SetMessageListener sets the callback run on the message context.
func (b *Bridge) SetMessageListener(l Listener) { b.message = l }

// SetVisualizationListener sets the callback that forwards to the render loop.
func (b *Bridge) SetVisualizationListener(l Listener) { b.visualization = l }

// Post enqueues a change without blocking; false means it was dropped.
func (b *Bridge) Post(id params.ID, value float32) bool {
	return b.queue.Push(ParameterChange{
		ID:       id,
		Value:    value,
		Sequence: b.sequence.Add(1),
	})
}

// Drain delivers every pending change in arrival order and returns how many
// were delivered.
func (b *Bridge) Drain() int {
	n := 0
	for {
		change, ok := b.queue.Pop()
		if !ok {
			return n
		}
		if b.message != nil {
			b.message(change)
		}
		if b.visualization != nil {
			b.visualization(change)
		}
		n++
	}
}
