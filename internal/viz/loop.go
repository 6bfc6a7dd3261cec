// Package viz runs the visualization loop: a dedicated goroutine that drains
// the audio and control channels, paces frames to a target rate and keeps the
// latest frame available to presenters.
package viz

import (
	"image"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/control"
	"github.com/guidoenr/vizcore/internal/engine"
	"github.com/guidoenr/vizcore/internal/logging"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/pcm"
	"github.com/guidoenr/vizcore/internal/preset"
	"github.com/guidoenr/vizcore/internal/quality"
)

const (
	DefaultTargetFPS       = 60.0
	DefaultWidth           = 640
	DefaultHeight          = 360
	DefaultSampleRate      = 48000.0
	DefaultPCMWindowFrames = 1024
	DefaultMetricsInterval = 2 * time.Second
	DefaultStaleAudio      = 250 * time.Millisecond

	MinTargetFPS = 1.0
	MaxTargetFPS = 240.0

	// a loop more than this many frame intervals late resets its deadline
	resyncIntervals = 5
	idleSleep       = time.Millisecond
)

// Config configures a Loop. Zero values select the defaults above.
type Config struct {
	TargetFPS float64
	Width     int
	Height    int

	SampleRate        float64
	SnapshotCapacity  int
	PCMCapacityFrames int // defaults to one second at SampleRate
	PCMWindowFrames   int
	ControlCapacity   int

	Quality    quality.Mode
	Thresholds quality.Thresholds

	MetricsInterval time.Duration
	// StaleAudioAfter is how old the newest PCM block may be before the
	// engine is fed silence instead.
	StaleAudioAfter time.Duration

	// Engine builds the real rendering engine; nil renders the fallback only.
	Engine engine.Factory
	// Cache is shared by every loop of the process; nil gives the loop a
	// private cache.
	Cache *preset.Cache

	Logger      zerolog.Logger
	ProfilePath string
}

func (c *Config) applyDefaults() {
	if c.TargetFPS <= 0 {
		c.TargetFPS = DefaultTargetFPS
	}
	c.TargetFPS = clampFPS(c.TargetFPS)
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.PCMCapacityFrames <= 0 {
		c.PCMCapacityFrames = int(c.SampleRate)
	}
	if c.PCMWindowFrames <= 0 {
		c.PCMWindowFrames = DefaultPCMWindowFrames
	}
	if c.Thresholds == (quality.Thresholds{}) {
		c.Thresholds = quality.DefaultThresholds()
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.StaleAudioAfter <= 0 {
		c.StaleAudioAfter = DefaultStaleAudio
	}
}

// Status is a point-in-time view of a loop for presenters.
type Status struct {
	ID             string            `json:"id"`
	Running        bool              `json:"running"`
	Engine         string            `json:"engine"`
	EngineStatus   string            `json:"engineStatus,omitempty"`
	Preset         string            `json:"preset"`
	PresetPath     string            `json:"presetPath"`
	PresetError    string            `json:"presetError,omitempty"`
	TargetFPS      float64           `json:"targetFps"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	Quality        string            `json:"quality"`
	Scale          float64           `json:"scale"`
	Reason         string            `json:"reason"`
	Performance    PerformanceSample `json:"performance"`
	FramesRendered uint64            `json:"framesRendered"`
	FramesConsumed uint64            `json:"framesConsumed"`
	SamplePosition uint64            `json:"samplePosition"`
	Features       analyzer.Features `json:"features"`
}

// Loop owns the render goroutine of one visualizer instance.
type Loop struct {
	id      string
	cfg     Config
	log     zerolog.Logger
	metrics instanceMetrics
	prof    *profiler

	snapshots *analyzer.SnapshotChannel
	pcm       *pcm.Ring
	host      *control.Port
	portsMu   sync.Mutex
	ports     atomic.Pointer[[]*control.Port]

	cache      *preset.Cache
	controller *quality.Controller

	lifecycle sync.Mutex
	running   atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup

	targetFPS    atomic.Uint64
	fpsDirty     atomic.Bool
	surfaceW     atomic.Int64
	surfaceH     atomic.Int64
	qualityDirty atomic.Bool

	framesRendered atomic.Uint64
	framesConsumed atomic.Uint64
	lastSnapshot   atomic.Pointer[analyzer.Snapshot]

	back backBuffer

	mu          sync.Mutex
	perf        PerformanceSample
	decision    quality.Decision
	presetName  string
	presetPath  string
	presetError string
	engineName  string
	engineState string

	st loopState
}

// loopState is touched only by the goroutine running iterate.
type loopState struct {
	eng          engine.Engine
	engineFailed bool
	engW, engH   int
	fallback     *engine.Fallback
	applied      map[params.ID]float64

	appliedPreset string
	latest        analyzer.Snapshot
	haveSnapshot  bool

	nextDeadline time.Time
	lastFrame    time.Time
	lastMetrics  time.Time
	cpu          cpuSampler

	scale   float64
	work    *image.RGBA
	silence []float32
}

// New creates an idle loop.
func New(cfg Config) *Loop {
	cfg.applyDefaults()
	id := uuid.NewString()
	log := logging.Component(cfg.Logger, "viz").With().Str("instance", id).Logger()

	l := &Loop{
		id:         id,
		cfg:        cfg,
		log:        log,
		metrics:    newInstanceMetrics(id),
		prof:       newProfiler(cfg.ProfilePath, log),
		snapshots:  analyzer.NewSnapshotChannel(cfg.SnapshotCapacity),
		pcm:        pcm.NewRing(cfg.PCMCapacityFrames, cfg.SampleRate),
		host:       control.NewPort("host", cfg.ControlCapacity),
		cache:      cfg.Cache,
		controller: quality.NewController(cfg.Thresholds),
		engineName: "fallback",
	}
	if l.cache == nil {
		l.cache = preset.NewCache(log)
	}
	ports := []*control.Port{l.host}
	l.ports.Store(&ports)

	l.controller.SetMode(cfg.Quality)
	l.controller.SetTargetFps(cfg.TargetFPS)
	l.targetFPS.Store(math.Float64bits(cfg.TargetFPS))
	l.surfaceW.Store(int64(cfg.Width))
	l.surfaceH.Store(int64(cfg.Height))
	l.decision = quality.Decision{SuggestedScale: quality.MaxScale, Profile: quality.ProfileFor(quality.MaxScale), Reason: "initial"}

	l.st.applied = make(map[params.ID]float64)
	l.st.cpu.read = threadCPUTime
	l.st.scale = quality.MaxScale
	return l
}

// ID is the instance id used in logs and metrics.
func (l *Loop) ID() string { return l.id }

// Start launches the loop goroutine. Calling Start on a running loop does
// nothing.
func (l *Loop) Start() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	l.stop = make(chan struct{})
	l.wg.Add(1)
	go l.run(l.stop)
}

// Stop signals the loop and waits for its goroutine to exit, which takes at
// most one iteration. Calling Stop on an idle loop does nothing.
func (l *Loop) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	close(l.stop)
	l.wg.Wait()
}

// Close stops the loop and drops its reference on the current preset.
func (l *Loop) Close() error {
	l.Stop()
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	if l.st.appliedPreset != "" {
		l.cache.Release(l.st.appliedPreset)
		l.st.appliedPreset = ""
	}
	deleteInstanceMetrics(l.id)
	return l.prof.Close()
}

func (l *Loop) Running() bool { return l.running.Load() }

func (l *Loop) run(stop <-chan struct{}) {
	defer l.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.prepare(time.Now())
	defer l.teardown()
	l.log.Info().Float64("fps", l.TargetFPS()).Str("engine", l.engineLabel()).Msg("visualization loop started")

	for {
		select {
		case <-stop:
			l.log.Info().Uint64("frames", l.framesRendered.Load()).Msg("visualization loop stopped")
			return
		default:
		}
		l.iterate(time.Now())
		time.Sleep(idleSleep)
	}
}

// SnapshotSink is the push-only handle for the analysis producer.
func (l *Loop) SnapshotSink() analyzer.Sink { return l.snapshots }

// PCM is the transport the audio producer pushes raw frames into.
func (l *Loop) PCM() *pcm.Ring { return l.pcm }

// NewPort registers a control port for an additional producer. Each producer
// goroutine needs its own port.
func (l *Loop) NewPort(name string) *control.Port {
	port := control.NewPort(name, l.cfg.ControlCapacity)
	l.portsMu.Lock()
	defer l.portsMu.Unlock()
	current := *l.ports.Load()
	next := make([]*control.Port, len(current), len(current)+1)
	copy(next, current)
	next = append(next, port)
	l.ports.Store(&next)
	return port
}

// PostParameterChange queues a change on the host port without blocking.
func (l *Loop) PostParameterChange(id params.ID, value float32) bool {
	return l.host.PostParameterChange(id, value)
}

// PostLoadPreset queues a preset request on the host port without blocking.
func (l *Loop) PostLoadPreset(path string) bool {
	return l.host.PostLoadPreset(path)
}

// FrameSnapshot returns a copy of the most recent frame.
func (l *Loop) FrameSnapshot() (*image.RGBA, bool) {
	return l.back.snapshot()
}

func (l *Loop) PerformanceSample() PerformanceSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perf
}

func (l *Loop) FramesRendered() uint64 { return l.framesRendered.Load() }

// FramesConsumed counts analysis snapshots drained from the channel.
func (l *Loop) FramesConsumed() uint64 { return l.framesConsumed.Load() }

// LastSnapshot returns the newest snapshot the loop has drained.
func (l *Loop) LastSnapshot() (analyzer.Snapshot, bool) {
	s := l.lastSnapshot.Load()
	if s == nil {
		return analyzer.Snapshot{}, false
	}
	return *s, true
}

func (l *Loop) TargetFPS() float64 {
	return math.Float64frombits(l.targetFPS.Load())
}

// SetTargetFPS changes the frame rate, clamped to [MinTargetFPS, MaxTargetFPS].
func (l *Loop) SetTargetFPS(fps float64) {
	fps = clampFPS(fps)
	l.targetFPS.Store(math.Float64bits(fps))
	l.controller.SetTargetFps(fps)
	l.fpsDirty.Store(true)
}

// SetSurfaceSize sets the full-quality frame size; the rendered size is this
// times the current resolution scale.
func (l *Loop) SetSurfaceSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	l.surfaceW.Store(int64(width))
	l.surfaceH.Store(int64(height))
}

func (l *Loop) SurfaceSize() (int, int) {
	return int(l.surfaceW.Load()), int(l.surfaceH.Load())
}

// SetQualityMode switches between automatic and fixed quality. The change is
// applied on the next iteration.
func (l *Loop) SetQualityMode(m quality.Mode) {
	l.controller.SetMode(m)
	l.qualityDirty.Store(true)
}

func (l *Loop) QualityMode() quality.Mode { return l.controller.Mode() }

// Controller exposes the quality controller for threshold tuning.
func (l *Loop) Controller() *quality.Controller { return l.controller }

func (l *Loop) LastDecision() quality.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decision
}

// CurrentPreset returns the name and path of the applied preset.
func (l *Loop) CurrentPreset() (name, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.presetName, l.presetPath
}

// LatestPCMWindow returns the newest n frames of interleaved PCM and the
// sample rate they were captured at.
func (l *Loop) LatestPCMWindow(n int) ([]float32, float64) {
	return l.pcm.CopyLatest(n), l.pcm.SampleRate()
}

func (l *Loop) Status() Status {
	w, h := l.SurfaceSize()
	l.mu.Lock()
	s := Status{
		ID:           l.id,
		Engine:       l.engineName,
		EngineStatus: l.engineState,
		Preset:       l.presetName,
		PresetPath:   l.presetPath,
		PresetError:  l.presetError,
		Scale:        l.decision.SuggestedScale,
		Reason:       l.decision.Reason,
		Performance:  l.perf,
	}
	l.mu.Unlock()

	s.Running = l.Running()
	s.TargetFPS = l.TargetFPS()
	s.Width, s.Height = w, h
	s.Quality = l.QualityMode().String()
	s.FramesRendered = l.FramesRendered()
	s.FramesConsumed = l.FramesConsumed()
	if snap, ok := l.LastSnapshot(); ok {
		s.SamplePosition = snap.SamplePosition
		s.Features = snap.Features
	}
	return s
}

func (l *Loop) engineLabel() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engineName
}

func clampFPS(fps float64) float64 {
	if math.IsNaN(fps) {
		return DefaultTargetFPS
	}
	return math.Min(MaxTargetFPS, math.Max(MinTargetFPS, fps))
}
