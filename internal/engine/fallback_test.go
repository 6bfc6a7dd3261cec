package engine

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/preset"
)

var _ Engine = (*Fallback)(nil)
var _ SnapshotFeeder = (*Fallback)(nil)

func TestPaintIsDeterministic(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 32, 18))
	b := image.NewRGBA(image.Rect(0, 0, 32, 18))
	Paint(a, 0.02, 3)
	Paint(b, 0.02, 3)
	assert.Equal(t, a.Pix, b.Pix)
}

func TestPaintEnergyBrightensCenter(t *testing.T) {
	quiet := image.NewRGBA(image.Rect(0, 0, 33, 33))
	loud := image.NewRGBA(image.Rect(0, 0, 33, 33))
	Paint(quiet, 0, 0)
	Paint(loud, 0.1, 0)

	q := quiet.RGBAAt(16, 16)
	l := loud.RGBAAt(16, 16)
	assert.Greater(t, int(l.R)+int(l.G)+int(l.B), int(q.R)+int(q.G)+int(q.B))
	assert.Equal(t, uint8(255), l.A)
}

func TestPaintVignetteDarkensCorners(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 65, 65))
	Paint(img, 0, 4)
	center := img.RGBAAt(32, 32)
	corner := img.RGBAAt(64, 32)
	assert.Greater(t, int(center.B), int(corner.B))
}

func TestPaintPalettesDiffer(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 8, 8))
	b := image.NewRGBA(image.Rect(0, 0, 8, 8))
	Paint(a, 0.01, 0)
	Paint(b, 0.01, 1)
	assert.NotEqual(t, a.Pix, b.Pix)
}

func TestPaintHandlesDegenerateImages(t *testing.T) {
	assert.NotPanics(t, func() { Paint(nil, 1, 0) })
	assert.NotPanics(t, func() { Paint(image.NewRGBA(image.Rect(0, 0, 0, 0)), 1, 0) })
	one := image.NewRGBA(image.Rect(0, 0, 1, 1))
	assert.NotPanics(t, func() { Paint(one, 1, -7) })
	assert.Equal(t, uint8(255), one.Pix[3])
}

func TestEnergyLevel(t *testing.T) {
	assert.Zero(t, EnergyLevel(0))
	assert.Zero(t, EnergyLevel(-1))
	assert.InDelta(t, 0.4, EnergyLevel(0.01), 1e-6)
	assert.Equal(t, 1.0, EnergyLevel(10))
}

func TestFallbackEngine(t *testing.T) {
	f := NewFallback()
	require.NoError(t, f.Init())
	f.SetWindowSize(16, 9)
	f.SetFPS(60)
	f.FeedPCM(make([]float32, 4), 2, 2)
	f.FeedSnapshot(analyzer.Snapshot{SamplePosition: 1024, ShortTimeEnergy: 0.05})

	dst := image.NewRGBA(image.Rect(0, 0, 16, 9))
	require.NoError(t, f.RenderFrame(dst))

	want := image.NewRGBA(image.Rect(0, 0, 16, 9))
	Paint(want, 0.05, 0)
	assert.Equal(t, want.Pix, dst.Pix)
	f.Shutdown()
}

func TestFallbackLoadPresetPicksPalette(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abc.milk")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	f := NewFallback()
	require.NoError(t, f.LoadPreset(path))
	assert.Equal(t, preset.DerivePaletteIndex("abc"), f.Palette())

	err := f.LoadPreset(filepath.Join(dir, "missing.milk"))
	assert.ErrorIs(t, err, preset.ErrNotFound)
	assert.Equal(t, preset.DerivePaletteIndex("abc"), f.Palette(), "failed load keeps the palette")
}

func TestSetPaletteWraps(t *testing.T) {
	f := NewFallback()
	f.SetPalette(7)
	assert.Equal(t, 2, f.Palette())
	f.SetPalette(-1)
	assert.Equal(t, 4, f.Palette())
}
