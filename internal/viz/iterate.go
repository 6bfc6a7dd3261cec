package viz

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/guidoenr/vizcore/internal/control"
	"github.com/guidoenr/vizcore/internal/engine"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/pcm"
	"github.com/guidoenr/vizcore/internal/preset"
	"github.com/guidoenr/vizcore/internal/quality"
)

// prepare runs on the loop goroutine before the first iteration.
func (l *Loop) prepare(now time.Time) {
	st := &l.st
	if st.fallback == nil {
		st.fallback = engine.NewFallback()
		_ = st.fallback.Init()
	}
	st.engineFailed = false
	l.initEngine()

	st.nextDeadline = now
	st.lastFrame = time.Time{}
	st.lastMetrics = now
	st.cpu.lastWall = time.Time{}
	st.cpu.sample(now)
	l.fpsDirty.Store(false)
	l.qualityDirty.Store(true)
}

func (l *Loop) teardown() {
	st := &l.st
	if st.eng != nil {
		eng := st.eng
		if err := l.guard("shutdown", func() error { eng.Shutdown(); return nil }); err != nil {
			l.log.Warn().Err(err).Msg("engine shutdown failed")
		}
		st.eng = nil
	}
}

// initEngine builds and initializes the real engine. A failure leaves the
// loop on the fallback until the next distinct preset request.
func (l *Loop) initEngine() {
	st := &l.st
	if l.cfg.Engine == nil {
		l.setEngineName("fallback")
		return
	}
	eng, err := l.cfg.Engine()
	if err == nil && eng == nil {
		err = fmt.Errorf("engine factory returned nil")
	}
	if err == nil {
		err = l.guard("init", eng.Init)
	}
	if err != nil {
		l.log.Error().Err(err).Msg("engine init failed, using fallback")
		l.metrics.engineFailures.Inc()
		st.eng = nil
		st.engineFailed = true
		l.setEngineName("fallback")
		return
	}

	st.eng = eng
	st.engineFailed = false
	st.engW, st.engH = 0, 0
	eng.SetFPS(int(math.Round(l.TargetFPS())))
	if ps, ok := eng.(engine.ProfileSetter); ok {
		ps.SetProfile(quality.ProfileFor(st.scale))
	}
	if st.appliedPreset != "" {
		path := st.appliedPreset
		if err := l.guard("load preset", func() error { return eng.LoadPreset(path) }); err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("reloading preset after engine init failed")
		}
	}
	l.replayParameters(eng)
	if st.eng == nil {
		return
	}
	l.setEngineName("engine")
}

// replayParameters sends every applied parameter change to eng again. Engines
// may reset their parameters when they load a preset; host changes win.
func (l *Loop) replayParameters(eng engine.Engine) {
	setter, ok := eng.(engine.ParameterSetter)
	if !ok || len(l.st.applied) == 0 {
		return
	}
	if err := l.guard("set parameter", func() error {
		for id, v := range l.st.applied {
			setter.SetParameter(id, v)
		}
		return nil
	}); err != nil {
		l.failEngine(err)
	}
}

// guard runs an engine call, turning a panic into an error.
func (l *Loop) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine %s panicked: %v", op, r)
		}
	}()
	return fn()
}

func (l *Loop) failEngine(err error) {
	st := &l.st
	l.log.Error().Err(err).Msg("engine failed, switching to fallback")
	l.metrics.engineFailures.Inc()
	eng := st.eng
	st.eng = nil
	st.engineFailed = true
	_ = l.guard("shutdown", func() error { eng.Shutdown(); return nil })
	l.setEngineName("fallback")
}

// iterate performs one pass of the loop at time now.
func (l *Loop) iterate(now time.Time) {
	st := &l.st

	l.drainSnapshots()
	l.applyParameterChanges()
	l.applyPresetRequests()

	if l.fpsDirty.Swap(false) && st.eng != nil {
		st.eng.SetFPS(int(math.Round(l.TargetFPS())))
	}
	if l.qualityDirty.Swap(false) {
		l.applyQualityMode()
	}

	if !now.Before(st.nextDeadline) {
		interval := l.frameInterval()
		l.renderFrame(now)
		st.nextDeadline = st.nextDeadline.Add(interval)
		if now.Sub(st.nextDeadline) > resyncIntervals*interval {
			st.nextDeadline = now.Add(interval)
			l.metrics.resyncs.Inc()
			l.log.Debug().Msg("frame deadline resynchronized")
		}
	}

	if now.Sub(st.lastMetrics) >= l.cfg.MetricsInterval {
		l.sampleMetrics(now)
	}
}

func (l *Loop) frameInterval() time.Duration {
	return time.Duration(float64(time.Second) / l.TargetFPS())
}

// drainSnapshots empties the snapshot channel and keeps only the newest.
func (l *Loop) drainSnapshots() {
	st := &l.st
	var n uint64
	for {
		s, ok := l.snapshots.Pop()
		if !ok {
			break
		}
		st.latest = s
		st.haveSnapshot = true
		n++
	}
	if n == 0 {
		return
	}
	latest := st.latest
	l.lastSnapshot.Store(&latest)
	l.framesConsumed.Add(n)
	l.metrics.snapshots.Add(float64(n))
}

func (l *Loop) applyParameterChanges() {
	for _, port := range *l.ports.Load() {
		for {
			change, ok := port.NextParameterChange()
			if !ok {
				break
			}
			l.applyParameter(port, change)
		}
	}
}

func (l *Loop) applyParameter(port *control.Port, change control.ParameterChange) {
	if !params.Known(change.ID) {
		l.log.Debug().Str("port", port.Name()).Str("id", string(change.ID)).Msg("ignoring unknown parameter")
		return
	}
	value := float64(change.Value)
	l.st.applied[change.ID] = value
	if setter, ok := l.st.eng.(engine.ParameterSetter); ok {
		setter.SetParameter(change.ID, value)
	}
}

// applyPresetRequests applies the most recent request across all ports.
func (l *Loop) applyPresetRequests() {
	var (
		latest string
		found  bool
	)
	for _, port := range *l.ports.Load() {
		if path, ok := port.LatestPresetPath(); ok {
			latest = path
			found = true
		}
	}
	if !found || latest == l.st.appliedPreset {
		return
	}
	l.loadPreset(latest)
}

func (l *Loop) loadPreset(path string) {
	st := &l.st
	if err := preset.Validate(path); err != nil {
		l.presetFailed(path, err)
		return
	}
	meta := l.cache.Resolve(path)

	if st.engineFailed {
		l.initEngine()
	}
	if eng := st.eng; eng != nil {
		if err := l.guard("load preset", func() error { return eng.LoadPreset(path) }); err != nil {
			l.cache.Release(path)
			l.presetFailed(path, err)
			return
		}
		l.replayParameters(eng)
	}
	st.fallback.SetPalette(meta.PaletteIndex)

	previous := st.appliedPreset
	st.appliedPreset = path
	if previous != "" {
		l.cache.Release(previous)
	}

	l.mu.Lock()
	l.presetName = meta.Name
	l.presetPath = path
	l.presetError = ""
	l.mu.Unlock()
	l.log.Info().Str("preset", meta.Name).Int("palette", meta.PaletteIndex).Int("refs", meta.RefCount).Msg("preset applied")
}

func (l *Loop) presetFailed(path string, err error) {
	l.metrics.presetFailures.Inc()
	l.log.Warn().Err(err).Str("path", path).Msg("preset load failed")
	l.mu.Lock()
	l.presetError = err.Error()
	l.mu.Unlock()
}

func (l *Loop) applyQualityMode() {
	if l.controller.Mode() == quality.Auto {
		scale := l.controller.CurrentScale()
		l.applyDecision(quality.Decision{SuggestedScale: scale, Profile: quality.ProfileFor(scale), Reason: "auto"})
		return
	}
	perf := l.PerformanceSample()
	l.applyDecision(l.controller.Evaluate(perf.FPSAverage, perf.FrameMsAverage, perf.CPUPercent))
}

func (l *Loop) applyDecision(d quality.Decision) {
	st := &l.st
	l.mu.Lock()
	l.decision = d
	l.mu.Unlock()
	l.metrics.scale.Set(d.SuggestedScale)

	if d.SuggestedScale == st.scale {
		return
	}
	l.log.Info().Float64("from", st.scale).Float64("to", d.SuggestedScale).Str("reason", d.Reason).Msg("resolution scale changed")
	st.scale = d.SuggestedScale
	if ps, ok := st.eng.(engine.ProfileSetter); ok {
		ps.SetProfile(d.Profile)
	}
}

// sampleMetrics runs every MetricsInterval: it refreshes CPU usage and lets
// the controller adjust the scale when in auto mode.
func (l *Loop) sampleMetrics(now time.Time) {
	st := &l.st
	st.lastMetrics = now

	l.mu.Lock()
	if pct, ok := st.cpu.sample(now); ok {
		l.perf.CPUPercent = pct
	}
	perf := l.perf
	l.mu.Unlock()

	l.metrics.fps.Set(perf.FPSAverage)
	l.metrics.frameMs.Set(perf.FrameMsAverage)
	l.metrics.cpu.Set(perf.CPUPercent)

	if l.controller.Mode() == quality.Auto {
		l.applyDecision(l.controller.Evaluate(perf.FPSAverage, perf.FrameMsAverage, perf.CPUPercent))
	}
}

// renderSize is the surface size times the current scale.
func (l *Loop) renderSize() (int, int) {
	w, h := l.SurfaceSize()
	s := l.st.scale
	return max(1, int(math.Round(float64(w)*s))), max(1, int(math.Round(float64(h)*s)))
}

func (l *Loop) pcmWindow() []float32 {
	st := &l.st
	if l.pcm.HasRecentData(l.cfg.StaleAudioAfter) {
		return l.pcm.CopyLatest(l.cfg.PCMWindowFrames)
	}
	n := min(l.cfg.PCMWindowFrames, l.pcm.CapacityFrames()) * pcm.Channels
	if len(st.silence) != n {
		st.silence = make([]float32, n)
	}
	return st.silence
}

func (l *Loop) renderFrame(now time.Time) {
	st := &l.st
	start := time.Now()
	l.prof.beginFrame()

	w, h := l.renderSize()
	img := st.work
	if img == nil || img.Rect.Dx() != w || img.Rect.Dy() != h {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	window := l.pcmWindow()
	l.prof.markSection("pcm")

	rendered := false
	engineState := ""
	if eng := st.eng; eng != nil {
		if st.engW != w || st.engH != h {
			eng.SetWindowSize(w, h)
			st.engW, st.engH = w, h
		}
		err := l.guard("render", func() error {
			if feeder, ok := eng.(engine.SnapshotFeeder); ok && st.haveSnapshot {
				feeder.FeedSnapshot(st.latest)
			}
			eng.FeedPCM(window, len(window)/pcm.Channels, pcm.Channels)
			if err := eng.RenderFrame(img); err != nil {
				return err
			}
			if sr, ok := eng.(engine.StatusReporter); ok {
				engineState = sr.Status()
			}
			return nil
		})
		if err != nil {
			l.failEngine(err)
		} else {
			rendered = true
		}
	}
	if !rendered {
		st.fallback.SetWindowSize(w, h)
		st.fallback.FeedSnapshot(st.latest)
		_ = st.fallback.RenderFrame(img)
	}
	l.prof.markSection("render")

	reuse := l.back.swap(img)
	st.work = reuse
	l.prof.markSection("publish")

	var interval time.Duration
	if !st.lastFrame.IsZero() {
		interval = now.Sub(st.lastFrame)
	}
	st.lastFrame = now
	l.framesRendered.Add(1)
	l.metrics.frames.Inc()

	l.mu.Lock()
	l.perf.observe(interval, time.Since(start))
	l.engineState = engineState
	l.mu.Unlock()
	l.prof.endFrame()
}

func (l *Loop) setEngineName(name string) {
	l.mu.Lock()
	l.engineName = name
	l.mu.Unlock()
}
