// Package control carries parameter changes and preset-load requests from a
// producer context (UI, keyboard, web, host automation) to the render loop.
package control

import (
	"sync/atomic"

	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/ring"
)

// DefaultCapacity is the slot count of each control channel.
const DefaultCapacity = 64

// ParameterChange is a request to set one parameter. Sequence is monotonic
// per producer and only used to verify ordering.
type ParameterChange struct {
	ID       params.ID
	Value    float32
	Sequence uint64
}

// PresetLoadRequest asks the loop to switch to the preset at Path.
type PresetLoadRequest struct {
	Path string
}

// Port is the pair of control channels owned by one producer role.
// Exactly one goroutine may post to a Port and only the render loop drains it;
// producers that run concurrently must each use their own Port.
type Port struct {
	name     string
	params   *ring.Channel[ParameterChange]
	presets  *ring.Channel[PresetLoadRequest]
	sequence atomic.Uint64
}

// NewPort creates a port with capacity slots per channel (<= 0 uses
// DefaultCapacity).
func NewPort(name string, capacity int) *Port {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Port{
		name:    name,
		params:  ring.New[ParameterChange](capacity),
		presets: ring.New[PresetLoadRequest](capacity),
	}
}

// Name identifies the producer role in logs.
func (p *Port) Name() string { return p.name }

// PostParameterChange enqueues a change without blocking. A false return means
// the channel was full and the change was dropped; callers usually re-post.
func (p *Port) PostParameterChange(id params.ID, value float32) bool {
	change := ParameterChange{
		ID:       id,
		Value:    value,
		Sequence: p.sequence.Add(1),
	}
	return p.params.Push(change)
}

// PostLoadPreset enqueues a preset request without blocking.
func (p *Port) PostLoadPreset(path string) bool {
	return p.presets.Push(PresetLoadRequest{Path: path})
}

// NextParameterChange pops the oldest pending change. Consumer side only.
func (p *Port) NextParameterChange() (ParameterChange, bool) {
	return p.params.Pop()
}

// LatestPresetPath drains every pending preset request and returns the most
// recently enqueued non-empty path. Consumer side only.
func (p *Port) LatestPresetPath() (string, bool) {
	var latest string
	found := false
	for {
		req, ok := p.presets.Pop()
		if !ok {
			return latest, found
		}
		if req.Path != "" {
			latest = req.Path
			found = true
		}
	}
}

// Pending reports queued parameter changes and preset requests.
func (p *Port) Pending() (changes, presets int) {
	return p.params.Available(), p.presets.Available()
}

// Clear discards everything queued. Consumer side only.
func (p *Port) Clear() {
	p.params.Clear()
	p.presets.Clear()
}
