package render

import (
	"errors"
	"fmt"
	"image"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/guidoenr/vizcore/internal/analyzer"
	"github.com/guidoenr/vizcore/internal/engine"
	"github.com/guidoenr/vizcore/internal/params"
	"github.com/guidoenr/vizcore/internal/preset"
	"github.com/guidoenr/vizcore/internal/quality"
)

var ErrInvalidDimensions = errors.New("invalid dimensions")

type colorMode string
type detailLevel string

const (
	colorModeChromatic colorMode = "chromatic"
	colorModeFire      colorMode = "fire"
	colorModeAurora    colorMode = "aurora"
	colorModeMono      colorMode = "mono"

	detailHigh     detailLevel = "high"
	detailBalanced detailLevel = "balanced"
	detailEco      detailLevel = "eco"
)

var colorModeNames = []string{
	string(colorModeChromatic),
	string(colorModeFire),
	string(colorModeAurora),
	string(colorModeMono),
}

// ColorModeNames returns the supported color modes.
func ColorModeNames() []string {
	out := make([]string, len(colorModeNames))
	copy(out, colorModeNames)
	sort.Strings(out)
	return out
}

func parseColorMode(name string) colorMode {
	switch strings.ToLower(name) {
	case "fire":
		return colorModeFire
	case "aurora", "cool":
		return colorModeAurora
	case "mono", "monochrome", "bw", "gray":
		return colorModeMono
	default:
		return colorModeChromatic
	}
}

func detailFor(p quality.Profile) detailLevel {
	switch {
	case p.HighDetailEffects:
		return detailHigh
	case p.ParticlesEnabled:
		return detailBalanced
	default:
		return detailEco
	}
}

// Renderer is the pattern engine: it turns parameter state and audio features
// into RGBA frames. It implements engine.Engine and is driven from the render
// loop goroutine only.
type Renderer struct {
	width       int
	height      int
	fps         int
	initialized bool

	pattern     patternFunc
	patternName string
	detailMix   float64
	colorMode   colorMode
	detail      detailLevel
	presetName  string

	params   params.Parameters
	motion   params.Motion
	features analyzer.Features
	pcmLevel float64

	xCoords       []float64
	yCoords       []float64
	statusBuilder strings.Builder
}

var (
	_ engine.Engine          = (*Renderer)(nil)
	_ engine.SnapshotFeeder  = (*Renderer)(nil)
	_ engine.ParameterSetter = (*Renderer)(nil)
	_ engine.ProfileSetter   = (*Renderer)(nil)
	_ engine.StatusReporter  = (*Renderer)(nil)
)

// New creates an uninitialized Renderer.
func New() *Renderer {
	r := &Renderer{fps: 60, detail: detailHigh}
	r.params = params.Defaults()
	r.motion = params.Resting()
	r.configure("plasma", "chromatic")
	return r
}

// NewEngine is an engine.Factory for the pattern renderer.
func NewEngine() (engine.Engine, error) {
	return New(), nil
}

func (r *Renderer) Init() error {
	r.initialized = true
	return nil
}

func (r *Renderer) Shutdown() {
	r.initialized = false
	r.xCoords = nil
	r.yCoords = nil
}

func (r *Renderer) configure(patternName, colorModeName string) {
	key := strings.ToLower(patternName)
	if key == "" {
		key = "plasma"
	}
	entry, ok := patternRegistry[key]
	if !ok {
		key = "plasma"
		entry = patternRegistry[key]
	}
	r.pattern = entry.fn
	r.patternName = key
	r.detailMix = entry.detailMix
	r.params.Pattern = key

	r.colorMode = parseColorMode(colorModeName)
	r.params.ColorMode = string(r.colorMode)
}

// SetWindowSize updates the framebuffer dimensions.
func (r *Renderer) SetWindowSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if r.width != width || r.height != height {
		r.width = width
		r.height = height
		r.xCoords = nil
		r.yCoords = nil
	}
}

func (r *Renderer) SetFPS(fps int) {
	if fps > 0 {
		r.fps = fps
	}
}

// LoadPreset reads a preset file and applies its pattern, color mode and
// parameter keys.
func (r *Renderer) LoadPreset(path string) error {
	if !r.initialized {
		return engine.ErrNotInitialized
	}
	if err := preset.Validate(path); err != nil {
		return err
	}
	def, err := ParsePresetFile(path)
	if err != nil {
		return err
	}

	next := params.Defaults()
	next.Time = r.params.Time
	for id, v := range def.Params {
		next.Set(id, v)
	}
	r.params = next

	pattern := def.Pattern
	if pattern == "" {
		names := PatternNames()
		pattern = names[preset.DerivePaletteIndex(def.Name)%len(names)]
	}
	mode := def.ColorMode
	if mode == "" && def.Palette >= 0 {
		mode = colorModeNames[def.Palette%len(colorModeNames)]
	}
	r.configure(pattern, mode)
	r.presetName = def.Name
	return nil
}

// FeedPCM tracks the RMS level of the latest PCM window; it drives the
// visuals when no snapshot features are available.
func (r *Renderer) FeedPCM(samples []float32, frames, channels int) {
	n := frames * channels
	if n <= 0 || n > len(samples) {
		r.pcmLevel = 0
		return
	}
	var sum float64
	for _, s := range samples[:n] {
		sum += float64(s) * float64(s)
	}
	r.pcmLevel = math.Sqrt(sum / float64(n))
}

func (r *Renderer) FeedSnapshot(s analyzer.Snapshot) {
	r.features = analyzer.GateFeatures(s.Features, r.params.NoiseFloor)
}

func (r *Renderer) SetParameter(id params.ID, value float64) bool {
	return r.params.Set(id, value)
}

func (r *Renderer) SetProfile(p quality.Profile) {
	r.detail = detailFor(p)
}

func (r *Renderer) PatternName() string { return r.patternName }
func (r *Renderer) PresetName() string  { return r.presetName }
func (r *Renderer) ColorModeName() string {
	return string(r.colorMode)
}
func (r *Renderer) DetailName() string { return string(r.detail) }

// Parameters returns a copy of the current parameter state.
func (r *Renderer) Parameters() params.Parameters { return r.params }

// RenderFrame advances time by one frame interval and renders into dst.
func (r *Renderer) RenderFrame(dst *image.RGBA) error {
	if !r.initialized {
		return engine.ErrNotInitialized
	}
	if dst == nil {
		return fmt.Errorf("render frame: nil target: %w", ErrInvalidDimensions)
	}
	b := dst.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("render frame %dx%d: %w", width, height, ErrInvalidDimensions)
	}

	delta := 1.0 / float64(max(1, r.fps))
	feat := r.features
	if feat == (analyzer.Features{}) && r.pcmLevel > 0 {
		level := clamp01(r.pcmLevel * 3)
		feat = analyzer.Features{Bass: level, Mid: level * 0.5, Treble: level * 0.25, Overall: level}
	}
	r.motion.Follow(feat, delta, r.params)
	p := params.Compose(r.params, r.motion)
	r.params.Advance(delta, p.Speed)
	p.Time = r.params.Time

	activation := audioActivation(feat)
	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}
	frameCtx := r.buildFrameParams(p)

	r.ensureCoordinateCache(width, height)
	xCoords := r.xCoords
	yCoords := r.yCoords

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var wg sync.WaitGroup
	rowJobs := make(chan int, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for y := range rowJobs {
				row := dst.Pix[y*dst.Stride:]
				vy := yCoords[y] * scale
				for x := 0; x < width; x++ {
					vx := xCoords[x] * scale
					h, s, v := r.samplePixel(vx, vy, p, frameCtx, feat, activation)
					rr, gg, bb := hsvToRGB(h, s, v)
					o := x * 4
					row[o+0] = byte(clampFloat(rr*255, 0, 255))
					row[o+1] = byte(clampFloat(gg*255, 0, 255))
					row[o+2] = byte(clampFloat(bb*255, 0, 255))
					row[o+3] = 255
				}
			}
		}()
	}

	for y := 0; y < height; y++ {
		rowJobs <- y
	}
	close(rowJobs)
	wg.Wait()
	return nil
}

func (r *Renderer) samplePixel(vx, vy float64, p params.Frame, ctx frameParams, feat analyzer.Features, activation float64) (float64, float64, float64) {
	baseX := vx * ctx.zoom
	baseY := vy * ctx.zoom

	rotX := baseX*ctx.cosRot - baseY*ctx.sinRot
	rotY := baseX*ctx.sinRot + baseY*ctx.cosRot

	radius := math.Hypot(rotX, rotY)
	angle := math.Atan2(rotY, rotX)
	if ctx.swirlStrength != 0 {
		strength := ctx.swirlStrength
		switch ctx.detail {
		case detailEco:
			strength *= 0.55
		case detailBalanced:
			strength *= 0.85
		}
		atten := math.Exp(-radius * 1.6)
		angle += strength * atten * math.Sin(ctx.time*1.5+radius*2.3)
		radius += strength * 0.12 * math.Sin(ctx.time*1.15+angle*1.4)
	}

	distortedX := radius * math.Cos(angle)
	distortedY := radius * math.Sin(angle)

	if ctx.warpStrength > 0 && ctx.detail != detailEco {
		warp := fractalNoise((vx+ctx.time*0.15)/ctx.noiseScale, (vy-ctx.time*0.12)/ctx.noiseScale)
		strength := ctx.warpStrength
		if ctx.detail == detailBalanced {
			strength *= 0.7
		}
		distortedX += warp * strength
		distortedY += warp * strength
	}

	patternValue := r.pattern(distortedX, distortedY, p, ctx.time)
	combined := patternValue
	if ctx.detailWeight > 0 {
		detail := fractalNoise(distortedX*2+ctx.time*0.4, distortedY*2-ctx.time*0.3)
		combined = patternValue*(1-ctx.detailWeight) + detail*ctx.detailWeight
	}
	combined = clampFloat(combined, -1.0, 1.0)

	brightness := (combined*ctx.amplitude + 1.0) * 0.5
	brightness = clamp01(brightness)
	switch ctx.detail {
	case detailEco:
		brightness = brightness * (0.7 + brightness*0.3)
	default:
		brightness = math.Pow(brightness, ctx.invGamma)
		brightness = math.Pow(brightness, ctx.invContrast)
	}
	brightness = clamp01(brightness * ctx.brightnessScale)

	if ctx.vignette > 0 {
		dist := math.Min(1.0, math.Hypot(vx, vy)*2.0)
		vig := clamp01(1.0 - ctx.vignette*math.Pow(dist, 1.2))
		brightness *= lerp(1.0, vig, 1.0-ctx.vignetteSoft)
	}
	brightness = clamp01(brightness)

	return r.colorFromMode(combined, brightness, p, feat, activation)
}

type frameParams struct {
	time            float64
	zoom            float64
	sinRot          float64
	cosRot          float64
	noiseScale      float64
	warpStrength    float64
	detailWeight    float64
	amplitude       float64
	invGamma        float64
	invContrast     float64
	brightnessScale float64
	vignette        float64
	vignetteSoft    float64
	swirlStrength   float64
	detail          detailLevel
}

func (r *Renderer) buildFrameParams(p params.Frame) frameParams {
	time := p.Time
	zoom := 1.0 + p.BeatZoom*0.35*math.Sin(time*2.1)
	sinRot, cosRot := math.Sincos(time * 0.2)
	noiseScale := math.Max(0.001, p.NoiseScale*40.0)
	warpStrength := p.NoiseStrength * 0.35
	detailWeight := clampFloat(r.detailMix*p.NoiseStrength, 0.0, 1.0)
	swirlStrength := p.DistortAmplitude * (0.5 + p.BeatDistortion*0.5)

	switch r.detail {
	case detailEco:
		zoom = lerp(1.0, zoom, 0.6)
		detailWeight = 0
		swirlStrength *= 0.7
	case detailBalanced:
		detailWeight *= 0.75
		warpStrength *= 0.85
		swirlStrength *= 0.9
	}

	return frameParams{
		time:            time,
		zoom:            zoom,
		sinRot:          sinRot,
		cosRot:          cosRot,
		noiseScale:      noiseScale,
		warpStrength:    warpStrength,
		detailWeight:    detailWeight,
		amplitude:       clampFloat(p.Amplitude, 0.0, 3.0),
		invGamma:        1.0 / math.Max(0.1, p.Gamma),
		invContrast:     1.0 / math.Max(0.2, p.Contrast),
		brightnessScale: clampFloat(p.Brightness, 0.0, 3.0),
		vignette:        clampFloat(p.Vignette, 0.0, 1.0),
		vignetteSoft:    clamp01(p.VignetteSoftness),
		swirlStrength:   swirlStrength,
		detail:          r.detail,
	}
}

func (r *Renderer) colorFromMode(base, brightness float64, p params.Frame, feat analyzer.Features, activation float64) (float64, float64, float64) {
	baseNorm := clamp01((base + 1.0) * 0.5)
	shift := math.Mod(p.ColorShift/(2*math.Pi), 1.0)
	if shift < 0 {
		shift += 1.0
	}

	var h, s, v float64
	switch r.colorMode {
	case colorModeFire:
		h = clamp01(0.02 + baseNorm*0.08 + shift*0.1)
		s = clamp01(0.7 + brightness*0.25)
		v = clamp01(0.35 + brightness*0.8 + baseNorm*0.2)
	case colorModeAurora:
		h = clamp01(0.45 + baseNorm*0.25 + shift*0.3)
		s = clamp01(0.45 + p.Saturation*0.45)
		v = clamp01(0.28 + brightness*0.85 + baseNorm*0.12)
	case colorModeMono:
		h = shift
		s = 0.0
		v = clamp01(brightness)
	default:
		h = clamp01(shift + baseNorm*0.35)
		s = clamp01(0.35 + p.Saturation*0.5)
		v = clamp01(brightness*0.9 + baseNorm*0.2)
	}

	if feat.IsDrop {
		activation = clamp01(activation + 0.2)
	}
	v = clamp01(v * lerp(0.55, 1.0, activation))
	return h, s, v
}

func audioActivation(feat analyzer.Features) float64 {
	base := feat.Overall*1.45 + feat.BeatStrength*0.6
	if feat.IsDrop {
		base += 0.3
	}
	return clamp01(base)
}

func (r *Renderer) ensureCoordinateCache(width, height int) {
	r.xCoords = axis(r.xCoords, width)
	r.yCoords = axis(r.yCoords, height)
}

func axis(coords []float64, n int) []float64 {
	if len(coords) == n {
		return coords
	}
	coords = make([]float64, n)
	if n <= 1 {
		return coords
	}
	scale := 1.0 / float64(n)
	for i := range coords {
		coords[i] = float64(i)*scale - 0.5
	}
	return coords
}

// Status summarizes the renderer state for a status line.
func (r *Renderer) Status() string {
	builder := &r.statusBuilder
	builder.Reset()
	builder.Grow(128)
	builder.WriteString(colorModeLabel(colorMode(r.ColorModeName())))
	builder.WriteString(" | pattern=")
	builder.WriteString(r.PatternName())
	builder.WriteString(" detail=")
	builder.WriteString(r.DetailName())
	if name := r.PresetName(); name != "" {
		builder.WriteString(" preset=")
		builder.WriteString(name)
	}
	p := r.Parameters()
	builder.WriteString(" | bright ")
	appendFloat(builder, p.Brightness, 2)
	builder.WriteString(" speed ")
	appendFloat(builder, p.Speed, 2)
	builder.WriteString(" | bass ")
	appendFloat(builder, r.features.Bass, 2)
	builder.WriteString(" beat ")
	appendFloat(builder, r.features.BeatStrength, 2)
	return builder.String()
}

func colorModeLabel(mode colorMode) string {
	switch mode {
	case colorModeFire:
		return "FIRE"
	case colorModeAurora:
		return "AURORA"
	case colorModeMono:
		return "MONO"
	default:
		return "CHROMATIC"
	}
}

func appendFloat(builder *strings.Builder, value float64, precision int) {
	var buf [32]byte
	b := strconv.AppendFloat(buf[:0], value, 'f', precision, 64)
	builder.Write(b)
}
