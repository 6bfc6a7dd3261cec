// Package app wires audio capture, visualization loops and the terminal
// presenter into the interactive visualizer.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/audio"
	"github.com/guidoenr/vizcore/internal/control"
	"github.com/guidoenr/vizcore/internal/engine"
	"github.com/guidoenr/vizcore/internal/logging"
	"github.com/guidoenr/vizcore/internal/preset"
	"github.com/guidoenr/vizcore/internal/quality"
	"github.com/guidoenr/vizcore/internal/render"
	"github.com/guidoenr/vizcore/internal/viz"
)

// Config configures the application runtime.
type Config struct {
	DeviceName string
	// Width and Height fix the render surface; zero follows the terminal.
	Width     int
	Height    int
	TargetFPS float64
	Quality   quality.Mode

	PresetPath string
	PresetDir  string
	// Engine is "pattern" or "fallback".
	Engine    string
	Instances int

	DisableAudio  bool
	DisableInput  bool
	ShowStatusBar bool
	Palette       string
	UseANSI       bool
	Window        bool
	ProfilePath   string

	Logger zerolog.Logger
	Output io.Writer
}

var errQuit = errors.New("quit requested")

// App ties together audio capture, the visualization loops and presentation.
type App struct {
	cfg   Config
	log   zerolog.Logger
	cache *preset.Cache
	loops []*viz.Loop
	keys  []*control.Port

	bridge  *control.Bridge
	targets []audio.Target
	capture *audio.Capture
	gen     *fakeGenerator

	terminal    *render.Terminal
	window      *render.Window
	out         io.Writer
	buf         *bufio.Writer
	cols, rows  int
	deviceLabel string

	presets     []string
	rng         *rand.Rand
	inputEvents chan inputEvent
}

// New constructs the application using the provided configuration.
func New(cfg Config) (*App, error) {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = viz.DefaultTargetFPS
	}
	if cfg.Instances <= 0 {
		cfg.Instances = 1
	}
	if cfg.Engine == "" {
		cfg.Engine = "pattern"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	factory, err := engineFactory(cfg.Engine)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      logging.Component(cfg.Logger, "app"),
		cache:    preset.NewCache(logging.Component(cfg.Logger, "preset")),
		bridge:   control.NewBridge(control.DefaultCapacity),
		terminal: render.NewTerminal(cfg.Palette, cfg.UseANSI),
		out:      cfg.Output,
		buf:      bufio.NewWriterSize(cfg.Output, 64*1024),
		cols:     80,
		rows:     24,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	a.rows = a.gridRows(a.rows)

	sampleRate := syntheticRate
	if cfg.DisableAudio {
		a.gen = newFakeGenerator(time.Now().UnixNano(), syntheticRate)
		a.log.Info().Msg("audio disabled, using synthetic generator")
	} else {
		capture, err := audio.Open(audio.Config{DeviceName: cfg.DeviceName}, logging.Component(cfg.Logger, "audio"))
		if err != nil {
			return nil, fmt.Errorf("audio capture: %w", err)
		}
		a.capture = capture
		sampleRate = capture.SampleRate()
		if info := capture.Device(); info != nil {
			a.deviceLabel = info.Name
		}
	}

	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = surfaceFor(a.cols, a.rows)
	}
	for i := 0; i < cfg.Instances; i++ {
		profile := ""
		if i == 0 {
			profile = cfg.ProfilePath
		}
		loop := viz.New(viz.Config{
			TargetFPS:   cfg.TargetFPS,
			Width:       width,
			Height:      height,
			SampleRate:  sampleRate,
			Quality:     cfg.Quality,
			Engine:      factory,
			Cache:       a.cache,
			Logger:      cfg.Logger,
			ProfilePath: profile,
		})
		a.loops = append(a.loops, loop)
		a.keys = append(a.keys, loop.NewPort("keyboard"))
		a.targets = append(a.targets, audio.Target{
			PCM:      loop.PCM(),
			Windower: analyzer.NewWindower(analyzer.New(analyzer.Config{SampleRate: sampleRate}), loop.SnapshotSink()),
		})
	}

	a.bridge.SetMessageListener(func(c control.ParameterChange) {
		a.log.Debug().Str("id", string(c.ID)).Float32("value", c.Value).Uint64("seq", c.Sequence).Msg("parameter change")
	})
	a.bridge.SetVisualizationListener(func(c control.ParameterChange) {
		for _, port := range a.keys {
			if !port.PostParameterChange(c.ID, c.Value) {
				a.log.Warn().Str("port", port.Name()).Msg("control channel full, parameter change dropped")
			}
		}
	})

	if cfg.PresetDir != "" {
		presets, err := listPresets(cfg.PresetDir)
		if err != nil {
			a.log.Warn().Err(err).Str("dir", cfg.PresetDir).Msg("preset directory unavailable")
		}
		a.presets = presets
	}
	initial := cfg.PresetPath
	if initial == "" && len(a.presets) > 0 {
		initial = a.presets[0]
	}
	if initial != "" {
		for _, loop := range a.loops {
			loop.PostLoadPreset(initial)
		}
	}
	return a, nil
}

func engineFactory(name string) (engine.Factory, error) {
	switch strings.ToLower(name) {
	case "pattern":
		return render.NewEngine, nil
	case "fallback":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (pattern|fallback)", name)
	}
}

// Loops returns every visualization instance; the first one is presented.
func (a *App) Loops() []*viz.Loop { return a.loops }

// Presets lists the preset files found in the preset directory.
func (a *App) Presets() []string { return a.presets }

// Run starts the loops and presents frames until ctx is cancelled or the user
// quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, loop := range a.loops {
		loop.Start()
	}
	if a.capture != nil {
		if err := a.capture.Start(a.targets...); err != nil {
			return fmt.Errorf("audio capture: %w", err)
		}
	} else if a.gen != nil {
		go runSynthetic(ctx, a.gen, a.targets)
	}

	if a.cfg.Window {
		w, h := a.loops[0].SurfaceSize()
		window, err := render.NewWindow("vizcore", w, h)
		if err != nil {
			a.log.Warn().Err(err).Msg("window disabled")
		} else {
			a.window = window
		}
	}

	enterAltScreen(a.out)
	clearScreen(a.out)
	hideCursor(a.out)
	defer func() {
		showCursor(a.out)
		exitAltScreen(a.out)
	}()

	if !a.cfg.DisableInput {
		a.startInputListener(ctx)
	}
	a.ensureDimensions()

	ticker := time.NewTicker(presentInterval(a.cfg.TargetFPS))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			moveCursorHome(a.out)
			return ctx.Err()
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if err := a.handle(evt); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		case <-ticker.C:
			if err := a.step(); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
	}
}

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	if a.capture != nil {
		errs = append(errs, a.capture.Close())
	}
	for _, loop := range a.loops {
		errs = append(errs, loop.Close())
	}
	if a.window != nil {
		errs = append(errs, a.window.Close())
	}
	return errors.Join(errs...)
}

func (a *App) step() error {
	a.bridge.Drain()
	a.ensureDimensions()
	return a.present()
}

func (a *App) present() error {
	loop := a.loops[0]
	frame, ok := loop.FrameSnapshot()
	if !ok {
		return nil
	}

	lines, err := a.terminal.Lines(frame, a.cols, a.rows)
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	status := statusText(loop.Status(), a.deviceLabel)

	moveCursorHome(a.buf)
	for _, line := range lines {
		a.buf.WriteString(line)
		a.buf.WriteByte('\n')
	}
	if a.cfg.ShowStatusBar {
		a.buf.WriteString(statusBar(status, a.cols))
	}
	if err := a.buf.Flush(); err != nil {
		return fmt.Errorf("present: %w", err)
	}

	if a.window != nil {
		if err := a.window.Present(frame, "vizcore | "+status); err != nil {
			if errors.Is(err, render.ErrWindowClosed) {
				return errQuit
			}
			return err
		}
	}
	return nil
}

func (a *App) handle(evt inputEvent) error {
	switch evt.kind {
	case inputQuit:
		moveCursorHome(a.out)
		return errQuit
	case inputRandomPreset:
		a.randomPreset()
	case inputQuality:
		for _, loop := range a.loops {
			loop.SetQualityMode(evt.mode)
		}
		a.log.Info().Str("mode", evt.mode.String()).Msg("quality mode changed")
	case inputFPS:
		for _, loop := range a.loops {
			loop.SetTargetFPS(loop.TargetFPS() + evt.delta)
		}
		a.log.Info().Float64("fps", a.loops[0].TargetFPS()).Msg("target fps changed")
	}
	return nil
}

func (a *App) randomPreset() {
	if len(a.presets) == 0 {
		a.log.Warn().Msg("no presets to choose from")
		return
	}
	_, current := a.loops[0].CurrentPreset()
	next := pickRandom(a.presets, current, a.rng)
	for _, port := range a.keys {
		port.PostLoadPreset(next)
	}
	a.log.Info().Str("preset", preset.Name(next)).Msg("random preset requested")
}

func (a *App) ensureDimensions() {
	f, ok := a.out.(*os.File)
	if !ok {
		return
	}
	w, h, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return
	}
	rows := a.gridRows(h)
	if w == a.cols && rows == a.rows {
		return
	}
	a.cols, a.rows = w, rows
	if a.cfg.Width > 0 && a.cfg.Height > 0 {
		return
	}
	sw, sh := surfaceFor(w, rows)
	for _, loop := range a.loops {
		loop.SetSurfaceSize(sw, sh)
	}
}

// gridRows is the number of character rows available for the frame.
func (a *App) gridRows(height int) int {
	if a.cfg.ShowStatusBar && height > 1 {
		height--
	}
	return max(1, height)
}

// surfaceFor sizes the render surface for a character grid. Cells are
// roughly twice as tall as wide.
func surfaceFor(cols, rows int) (int, int) {
	return max(1, cols), max(1, rows*2)
}

func presentInterval(fps float64) time.Duration {
	fps = min(max(fps, 1), 60)
	return time.Duration(float64(time.Second) / fps)
}

func statusText(s viz.Status, device string) string {
	name := s.Preset
	if name == "" {
		name = "-"
	}
	text := fmt.Sprintf("%s | %s | fps %.1f/%.0f | frame %.1fms | cpu %.0f%% | %s x%.2f",
		s.Engine, name,
		s.Performance.FPSAverage, s.TargetFPS,
		s.Performance.FrameMsAverage,
		s.Performance.CPUPercent,
		s.Quality, s.Scale)
	if s.EngineStatus != "" {
		text += " | " + s.EngineStatus
	}
	if s.PresetError != "" {
		text += " | preset error"
	}
	if device != "" {
		text += " | mic=" + device
	}
	return text
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	if len(text) >= width {
		return text[:width]
	}
	return text + strings.Repeat(" ", width-len(text))
}

// listPresets returns the preset files directly inside dir, sorted.
func listPresets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read preset dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), preset.Extension) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func pickRandom(options []string, current string, rng *rand.Rand) string {
	if len(options) == 0 {
		return current
	}
	if len(options) == 1 {
		return options[0]
	}
	var choice string
	for attempts := 0; attempts < 4; attempts++ {
		choice = options[rng.Intn(len(options))]
		if !strings.EqualFold(choice, current) {
			return choice
		}
	}
	return options[rng.Intn(len(options))]
}
