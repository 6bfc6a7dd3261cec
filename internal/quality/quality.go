// Package quality turns live render metrics into a resolution-scale decision.
package quality

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// Mode selects between the feedback controller and a fixed scale.
type Mode int32

const (
	Auto Mode = iota
	Low
	Medium
	High
)

const (
	MinScale = 0.5
	MaxScale = 1.0
	Step     = 0.1
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ParseMode accepts the names printed by String, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return Auto, nil
	case "low":
		return Low, nil
	case "medium", "med":
		return Medium, nil
	case "high":
		return High, nil
	}
	return Auto, fmt.Errorf("unknown quality mode %q", s)
}

// Scale returns the fixed scale of a manual mode. Auto reports false.
func (m Mode) Scale() (float64, bool) {
	switch m {
	case Low:
		return 0.5, true
	case Medium:
		return 0.75, true
	case High:
		return 1.0, true
	}
	return 0, false
}

// Profile is the render feature set derived from a scale.
type Profile struct {
	ResolutionScale   float64
	HighDetailEffects bool
	ParticlesEnabled  bool
}

// ProfileFor derives the feature set for scale.
func ProfileFor(scale float64) Profile {
	return Profile{
		ResolutionScale:   scale,
		HighDetailEffects: scale >= 0.9,
		ParticlesEnabled:  scale >= 0.6,
	}
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	SuggestedScale float64
	Profile        Profile
	Reason         string
}

// Thresholds configure the auto-mode hysteresis.
type Thresholds struct {
	FpsLow   float64
	FpsHigh  float64
	CpuHigh  float64
	CpuRelax float64
}

// DefaultThresholds returns the stock hysteresis band.
func DefaultThresholds() Thresholds {
	return Thresholds{FpsLow: 45, FpsHigh: 58, CpuHigh: 80, CpuRelax: 50}
}

// Controller proposes a resolution scale from fps and CPU metrics.
//
// Setters may be called from any goroutine. Evaluate is meant to be called
// from one goroutine (the render loop).
type Controller struct {
	mode      atomic.Int32
	scale     atomic.Uint64
	targetFps atomic.Uint64
	fpsLow    atomic.Uint64
	fpsHigh   atomic.Uint64
	cpuHigh   atomic.Uint64
	cpuRelax  atomic.Uint64
}

// NewController starts in Auto mode at full scale.
func NewController(t Thresholds) *Controller {
	c := &Controller{}
	storeFloat(&c.scale, MaxScale)
	storeFloat(&c.targetFps, 60)
	c.SetFpsThresholds(t.FpsLow, t.FpsHigh)
	c.SetCpuThresholds(t.CpuHigh, t.CpuRelax)
	return c
}

func (c *Controller) SetMode(m Mode) {
	if m < Auto || m > High {
		m = Auto
	}
	c.mode.Store(int32(m))
}

func (c *Controller) Mode() Mode { return Mode(c.mode.Load()) }

// SetTargetFps clamps fps to [1, 240].
func (c *Controller) SetTargetFps(fps float64) {
	storeFloat(&c.targetFps, clamp(fps, 1, 240))
}

func (c *Controller) TargetFps() float64 { return loadFloat(&c.targetFps) }

// SetFpsThresholds sets the step-down and step-up fps bounds. high is raised
// to at least low+1.
func (c *Controller) SetFpsThresholds(low, high float64) {
	low = math.Max(1, low)
	high = math.Max(high, low+1)
	storeFloat(&c.fpsLow, low)
	storeFloat(&c.fpsHigh, high)
}

// SetCpuThresholds sets the CPU percentages that force a step down and allow
// a step up, each clamped to [0, 100].
func (c *Controller) SetCpuThresholds(high, relax float64) {
	storeFloat(&c.cpuHigh, clamp(high, 0, 100))
	storeFloat(&c.cpuRelax, clamp(relax, 0, 100))
}

// Thresholds returns the active hysteresis band.
func (c *Controller) Thresholds() Thresholds {
	return Thresholds{
		FpsLow:   loadFloat(&c.fpsLow),
		FpsHigh:  loadFloat(&c.fpsHigh),
		CpuHigh:  loadFloat(&c.cpuHigh),
		CpuRelax: loadFloat(&c.cpuRelax),
	}
}

// CurrentScale is the scale returned by the last Evaluate.
func (c *Controller) CurrentScale() float64 { return loadFloat(&c.scale) }

// Evaluate returns the scale to render at. Manual modes return their fixed
// scale and ignore the metrics. Auto mode moves the current scale by at most
// one Step per call.
func (c *Controller) Evaluate(fpsEma, frameMsEma, cpuPercent float64) Decision {
	mode := c.Mode()
	if fixed, ok := mode.Scale(); ok {
		storeFloat(&c.scale, fixed)
		return Decision{
			SuggestedScale: fixed,
			Profile:        ProfileFor(fixed),
			Reason:         "manual " + mode.String(),
		}
	}

	target := c.TargetFps()
	t := c.Thresholds()
	current := c.CurrentScale()
	next := current
	reason := "hold"

	downFps := math.Min(t.FpsLow, 0.85*target)
	upFps := math.Max(t.FpsHigh, 0.95*target)

	switch {
	case (fpsEma > 0 && fpsEma < downFps) || cpuPercent >= t.CpuHigh:
		next = math.Max(MinScale, current-Step)
		reason = fmt.Sprintf("step down: fps %.1f cpu %.0f%% frame %.1fms", fpsEma, cpuPercent, frameMsEma)
	case fpsEma >= upFps && cpuPercent <= t.CpuRelax:
		next = math.Min(MaxScale, current+Step)
		reason = fmt.Sprintf("step up: fps %.1f cpu %.0f%%", fpsEma, cpuPercent)
	}
	// keep scales on the 0.1 grid so repeated steps do not accumulate error
	next = math.Round(next*100) / 100
	if next == current && reason != "hold" {
		reason += " (at limit)"
	}
	storeFloat(&c.scale, next)
	return Decision{SuggestedScale: next, Profile: ProfileFor(next), Reason: reason}
}

func storeFloat(a *atomic.Uint64, v float64) { a.Store(math.Float64bits(v)) }

func loadFloat(a *atomic.Uint64) float64 { return math.Float64frombits(a.Load()) }

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
