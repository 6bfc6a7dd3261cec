// Package engine defines the rendering-engine capability set the visualization
// loop drives, plus a deterministic software fallback.
package engine

import (
	"errors"
	"image"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/quality"
)

var ErrNotInitialized = errors.New("engine not initialized")

// Engine decides what to draw. All methods are called from the render loop
// goroutine only.
type Engine interface {
	Init() error
	SetWindowSize(width, height int)
	SetFPS(fps int)
	// LoadPreset switches to the preset at path. On error the previous preset
	// stays active.
	LoadPreset(path string) error
	FeedPCM(samples []float32, frames, channels int)
	// RenderFrame draws one frame covering dst.Bounds().
	RenderFrame(dst *image.RGBA) error
	Shutdown()
}

// SnapshotFeeder is implemented by engines that consume analysis snapshots.
type SnapshotFeeder interface {
	FeedSnapshot(s analyzer.Snapshot)
}

// ParameterSetter is implemented by engines that expose runtime parameters.
// Unknown ids report false.
type ParameterSetter interface {
	SetParameter(id params.ID, value float64) bool
}

// ProfileSetter is implemented by engines that scale effects with quality.
type ProfileSetter interface {
	SetProfile(p quality.Profile)
}

// StatusReporter is implemented by engines that describe their state for a
// status line.
type StatusReporter interface {
	Status() string
}

// Factory builds the real engine. A nil Factory selects the fallback only.
type Factory func() (Engine, error)
