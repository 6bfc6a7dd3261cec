package app

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guidoenr/vizcore/internal/control"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/quality"
	"github.com/guidoenr/vizcore/internal/viz"
)

func newTestApp(t *testing.T, cfg Config) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cfg.DisableAudio = true
	cfg.DisableInput = true
	cfg.Logger = zerolog.Nop()
	cfg.Output = &out
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, &out
}

func TestNewCreatesInstancesSharingCache(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.milk", "a.milk", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("pattern=plasma\n"), 0o644))
	}

	a, _ := newTestApp(t, Config{Instances: 2, PresetDir: dir, Engine: "fallback"})
	require.Len(t, a.Loops(), 2)
	assert.Equal(t, []string{filepath.Join(dir, "a.milk"), filepath.Join(dir, "b.milk")}, a.Presets())

	for _, loop := range a.Loops() {
		loop.Start()
	}
	require.Eventually(t, func() bool {
		meta, ok := a.cache.Get(filepath.Join(dir, "a.milk"))
		return ok && meta.RefCount == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	_, err := New(Config{DisableAudio: true, Engine: "gpu", Logger: zerolog.Nop(), Output: &bytes.Buffer{}})
	require.Error(t, err)
}

func TestPresentWritesFrameAndStatus(t *testing.T) {
	a, out := newTestApp(t, Config{ShowStatusBar: true, Engine: "pattern"})
	loop := a.Loops()[0]
	loop.Start()
	require.Eventually(t, func() bool {
		_, ok := loop.FrameSnapshot()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.present())
	text := out.String()
	lines := strings.Split(text, "\n")
	assert.Len(t, lines, a.rows+1)
	assert.Contains(t, lines[len(lines)-1], "fps")
	assert.Len(t, lines[len(lines)-1], a.cols)
}

func TestHandleInputEvents(t *testing.T) {
	a, _ := newTestApp(t, Config{Instances: 2, Engine: "fallback"})

	require.NoError(t, a.handle(inputEvent{kind: inputQuality, mode: quality.Low}))
	for _, loop := range a.Loops() {
		assert.Equal(t, quality.Low, loop.QualityMode())
	}

	require.NoError(t, a.handle(inputEvent{kind: inputFPS, delta: -fpsStep}))
	for _, loop := range a.Loops() {
		assert.Equal(t, 55.0, loop.TargetFPS())
	}

	assert.ErrorIs(t, a.handle(inputEvent{kind: inputQuit}), errQuit)
}

func TestRandomPresetPostsToEveryLoop(t *testing.T) {
	a, _ := newTestApp(t, Config{Instances: 2, Engine: "fallback"})
	a.presets = []string{"/p/one.milk", "/p/two.milk"}
	a.randomPreset()

	for _, port := range a.keys {
		_, presets := port.Pending()
		assert.Equal(t, 1, presets)
	}
}

func TestBridgeForwardsToKeyboardPorts(t *testing.T) {
	a, _ := newTestApp(t, Config{Instances: 2, Engine: "fallback"})

	knob := &brightnessKnob{value: 2.95, bridge: a.bridge}
	require.True(t, knob.nudge(brightnessStep))
	assert.Equal(t, 3.0, knob.value)
	assert.Equal(t, 1, a.bridge.Drain())

	for _, port := range a.keys {
		change, ok := port.NextParameterChange()
		require.True(t, ok)
		assert.Equal(t, control.ParameterChange{ID: params.Brightness, Value: 3, Sequence: 1}, change)
	}
}

func TestKeyAction(t *testing.T) {
	tests := []struct {
		char rune
		key  keyboard.Key
		want inputEvent
	}{
		{'q', 0, inputEvent{kind: inputQuit}},
		{0, keyboard.KeyEsc, inputEvent{kind: inputQuit}},
		{'r', 0, inputEvent{kind: inputRandomPreset}},
		{'a', 0, inputEvent{kind: inputQuality, mode: quality.Auto}},
		{'1', 0, inputEvent{kind: inputQuality, mode: quality.Low}},
		{'3', 0, inputEvent{kind: inputQuality, mode: quality.High}},
		{'+', 0, inputEvent{kind: inputFPS, delta: fpsStep}},
		{'-', 0, inputEvent{kind: inputFPS, delta: -fpsStep}},
		{'[', 0, inputEvent{kind: inputBrightness, delta: -brightnessStep}},
		{'x', 0, inputEvent{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keyAction(tt.char, tt.key), "char %q key %d", tt.char, tt.key)
	}
}

func TestFakeGeneratorDeterministic(t *testing.T) {
	a := newFakeGenerator(7, syntheticRate)
	b := newFakeGenerator(7, syntheticRate)
	bufA := make([]float32, syntheticBlock*2)
	bufB := make([]float32, syntheticBlock*2)
	for i := 0; i < 10; i++ {
		a.Fill(bufA, syntheticBlock)
		b.Fill(bufB, syntheticBlock)
	}
	assert.Equal(t, bufA, bufB)

	var energy float64
	for _, s := range bufA {
		assert.LessOrEqual(t, s, float32(1))
		assert.GreaterOrEqual(t, s, float32(-1))
		energy += float64(s * s)
	}
	assert.Greater(t, energy, 0.0)
}

func TestStatusBar(t *testing.T) {
	assert.Equal(t, "abc  ", statusBar("abc", 5))
	assert.Equal(t, "abcde", statusBar("abcdefgh", 5))
	assert.Equal(t, "abc", statusBar("abc", 0))
}

func TestStatusText(t *testing.T) {
	s := viz.Status{Engine: "pattern", Preset: "aurora", TargetFPS: 60, Quality: "auto", Scale: 0.8}
	s.Performance.FPSAverage = 59.5
	text := statusText(s, "Monitor")
	assert.Contains(t, text, "pattern | aurora")
	assert.Contains(t, text, "fps 59.5/60")
	assert.Contains(t, text, "auto x0.80")
	assert.True(t, strings.HasSuffix(text, "mic=Monitor"))

	s.EngineStatus = "AURORA | pattern=waves"
	assert.Contains(t, statusText(s, "Monitor"), "x0.80 | AURORA | pattern=waves | mic=Monitor")

	s.PresetError = "missing"
	assert.Contains(t, statusText(s, ""), "preset error")
}

func TestPickRandomAvoidsCurrent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	options := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		assert.Contains(t, options, pickRandom(options, "a", rng))
	}
	assert.Equal(t, "only", pickRandom([]string{"only"}, "only", rng))
	assert.Equal(t, "cur", pickRandom(nil, "cur", rng))
}

func TestSurfaceAndInterval(t *testing.T) {
	w, h := surfaceFor(80, 23)
	assert.Equal(t, 80, w)
	assert.Equal(t, 46, h)
	assert.Equal(t, time.Second/60, presentInterval(240))
	assert.Equal(t, time.Second, presentInterval(0))
}
