package viz

import (
	"image"
	"sync"
	"time"
)

const emaAlpha = 0.1

// PerformanceSample holds the loop's frame metrics. The Average fields are
// exponential moving averages; FrameMs measures the time spent producing a
// frame, FPS the rate at which frames were produced.
type PerformanceSample struct {
	FPSInstant     float64 `json:"fpsInstant"`
	FPSAverage     float64 `json:"fpsAverage"`
	FrameMsInstant float64 `json:"frameMsInstant"`
	FrameMsAverage float64 `json:"frameMsAverage"`
	CPUPercent     float64 `json:"cpuPercent"`
}

func ema(prev, v float64) float64 {
	if prev == 0 {
		return v
	}
	return prev + emaAlpha*(v-prev)
}

func (p *PerformanceSample) observe(interval, work time.Duration) {
	if interval > 0 {
		p.FPSInstant = float64(time.Second) / float64(interval)
		p.FPSAverage = ema(p.FPSAverage, p.FPSInstant)
	}
	p.FrameMsInstant = float64(work) / float64(time.Millisecond)
	p.FrameMsAverage = ema(p.FrameMsAverage, p.FrameMsInstant)
}

// backBuffer hands finished frames from the loop to readers. The lock is held
// for the pointer swap and for copies, never while rendering.
type backBuffer struct {
	mu    sync.Mutex
	front *image.RGBA
}

// swap publishes img and returns the previous front image for reuse.
func (b *backBuffer) swap(img *image.RGBA) *image.RGBA {
	b.mu.Lock()
	prev := b.front
	b.front = img
	b.mu.Unlock()
	return prev
}

// snapshot returns a deep copy of the front image.
func (b *backBuffer) snapshot() (*image.RGBA, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.front == nil {
		return nil, false
	}
	out := image.NewRGBA(b.front.Rect)
	copy(out.Pix, b.front.Pix)
	return out, true
}
