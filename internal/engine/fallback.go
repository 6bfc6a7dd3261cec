package engine

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/preset"
)

// gradient pairs, top then bottom, one per preset palette index
var fallbackPalettes = [preset.PaletteCount][2]color.RGBA{
	{{R: 18, G: 24, B: 64, A: 255}, {R: 120, G: 32, B: 140, A: 255}},
	{{R: 64, G: 12, B: 8, A: 255}, {R: 240, G: 128, B: 24, A: 255}},
	{{R: 6, G: 48, B: 48, A: 255}, {R: 32, G: 200, B: 150, A: 255}},
	{{R: 40, G: 40, B: 44, A: 255}, {R: 210, G: 210, B: 220, A: 255}},
	{{R: 8, G: 30, B: 70, A: 255}, {R: 90, G: 170, B: 250, A: 255}},
}

// Fallback paints a vertical gradient with a vignette whose brightness follows
// the latest snapshot energy. The output depends only on the dimensions, the
// palette index and the last snapshot fed, so identical inputs give identical
// frames.
type Fallback struct {
	width, height int
	palette       int
	snapshot      analyzer.Snapshot
	initialized   bool
}

func NewFallback() *Fallback {
	return &Fallback{}
}

func (f *Fallback) Init() error {
	f.initialized = true
	return nil
}

func (f *Fallback) SetWindowSize(width, height int) {
	f.width, f.height = width, height
}

func (f *Fallback) SetFPS(int) {}

// LoadPreset only derives the palette from the preset name.
func (f *Fallback) LoadPreset(path string) error {
	if err := preset.Validate(path); err != nil {
		return fmt.Errorf("fallback load preset: %w", err)
	}
	f.SetPalette(preset.DerivePaletteIndex(preset.Name(path)))
	return nil
}

func (f *Fallback) FeedPCM([]float32, int, int) {}

func (f *Fallback) FeedSnapshot(s analyzer.Snapshot) { f.snapshot = s }

// SetPalette selects a palette; out of range indices wrap.
func (f *Fallback) SetPalette(index int) {
	index %= preset.PaletteCount
	if index < 0 {
		index += preset.PaletteCount
	}
	f.palette = index
}

func (f *Fallback) Palette() int { return f.palette }

func (f *Fallback) RenderFrame(dst *image.RGBA) error {
	Paint(dst, f.snapshot.ShortTimeEnergy, f.palette)
	return nil
}

func (f *Fallback) Shutdown() { f.initialized = false }

// Paint fills dst with the fallback visual for energy and palette.
func Paint(dst *image.RGBA, energy float32, palette int) {
	if dst == nil {
		return
	}
	b := dst.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return
	}
	pair := fallbackPalettes[((palette%preset.PaletteCount)+preset.PaletteCount)%preset.PaletteCount]
	level := EnergyLevel(energy)
	gain := 0.45 + 0.55*level
	cx, cy := float64(w-1)/2, float64(h-1)/2
	norm := math.Hypot(cx, cy)
	if norm == 0 {
		norm = 1
	}

	for y := 0; y < h; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y) / float64(h-1)
		}
		br := mix(pair[0].R, pair[1].R, t)
		bg := mix(pair[0].G, pair[1].G, t)
		bb := mix(pair[0].B, pair[1].B, t)
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy) / norm
			vig := 1 - 0.7*d*d*(1-0.5*level)
			k := gain * vig
			o := x * 4
			row[o+0] = toByte(br * k)
			row[o+1] = toByte(bg * k)
			row[o+2] = toByte(bb * k)
			row[o+3] = 255
		}
	}
}

// EnergyLevel maps a mean-square energy to [0, 1].
func EnergyLevel(energy float32) float64 {
	if energy <= 0 || math.IsNaN(float64(energy)) {
		return 0
	}
	return math.Min(1, math.Sqrt(float64(energy))*4)
}

func mix(a, b uint8, t float64) float64 {
	return float64(a)*(1-t) + float64(b)*t
}

func toByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
