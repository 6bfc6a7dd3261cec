package analyzer

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Analyzer performs FFT-based spectral analysis over one analysis window at a
// time and tracks the envelopes needed for beat and drop detection.
type Analyzer struct {
	sampleRate float64

	bassPeak     float64
	midPeak      float64
	treblePeak   float64
	beatPulse    float64
	lastBass     float64
	bassHistory  []float64
	energyHist   []float64
	dropCooldown float64

	historySize int

	buffer []complex128
	window []float64
}

// Config controls Analyzer behavior.
type Config struct {
	SampleRate  float64
	HistorySize int
}

// New creates an Analyzer with sensible defaults.
func New(cfg Config) *Analyzer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44_100
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 60
	}
	return &Analyzer{
		sampleRate:  cfg.SampleRate,
		bassHistory: make([]float64, 0, cfg.HistorySize/2),
		energyHist:  make([]float64, 0, cfg.HistorySize),
		historySize: cfg.HistorySize,
	}
}

// SampleRate returns the rate the band edges are computed against.
func (a *Analyzer) SampleRate() float64 {
	return a.sampleRate
}

// Analyze returns spectral features for one window of mono samples.
// deltaTime is the duration the window covers and drives drop cooldown.
func (a *Analyzer) Analyze(samples []float32, deltaTime float64) Features {
	if len(samples) == 0 {
		return Features{}
	}

	size := nextPow2(min(len(samples), 2048))
	if size < 256 {
		size = 256
	}
	a.ensureWorkspace(size)

	buffer := a.buffer[:size]
	window := a.window[:size]
	for i := 0; i < size; i++ {
		if i < len(samples) {
			buffer[i] = complex(float64(samples[i])*window[i], 0)
			continue
		}
		buffer[i] = 0
	}

	spectrum := fft.FFT(buffer)

	resolution := a.sampleRate / float64(size)
	bass := bandEnergy(spectrum, resolution, 20, 250)
	mid := bandEnergy(spectrum, resolution, 250, 2000)
	treble := bandEnergy(spectrum, resolution, 2000, 8000)

	a.bassPeak = envelope(a.bassPeak, bass, 0.94, 0.75)
	a.midPeak = envelope(a.midPeak, mid, 0.94, 0.78)
	a.treblePeak = envelope(a.treblePeak, treble, 0.94, 0.8)

	bassOut := dynamics(bass, a.bassPeak)
	midOut := dynamics(mid, a.midPeak)
	trebleOut := dynamics(treble, a.treblePeak)

	overall := (bassOut + midOut + trebleOut) / 3.0
	a.energyHist = pushBounded(a.energyHist, overall, a.historySize)
	variance := a.energyVariance()

	bassDiff := bass - a.lastBass
	beat := clamp(bassDiff*14.0, 0, 1)
	if beat > 0.12 {
		a.beatPulse = 1.0
	}
	a.beatPulse *= 0.88
	beat = math.Min(1.0, beat+a.beatPulse*0.7)

	a.bassHistory = pushBounded(a.bassHistory, bass, max(24, a.historySize/2))
	isDrop := false
	if a.dropCooldown <= 0 {
		avg := average(a.bassHistory)
		if avg > 0 && bass > avg*2.0 && bassDiff > 0.1 {
			isDrop = true
			a.dropCooldown = 1.0
		}
	} else {
		a.dropCooldown -= deltaTime
	}
	a.lastBass = bass

	boost := 1.0 + variance*0.65
	return Features{
		Bass:         math.Min(1.0, bassOut*boost),
		Mid:          math.Min(1.0, midOut*boost),
		Treble:       math.Min(1.0, trebleOut*boost),
		Overall:      math.Min(1.0, overall*boost),
		BeatStrength: beat,
		IsDrop:       isDrop,
	}
}

// ShortTimeEnergy is the mean square of the window.
func ShortTimeEnergy(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(sum / float64(len(samples)))
}

func bandEnergy(spectrum []complex128, resolution float64, minHz, maxHz float64) float64 {
	if minHz >= maxHz {
		return 0
	}
	lo := int(math.Floor(minHz / resolution))
	hi := int(math.Ceil(maxHz/resolution)) + 1
	if hi > len(spectrum)/2 {
		hi = len(spectrum) / 2
	}
	if lo >= hi {
		return 0
	}
	sum := 0.0
	for _, val := range spectrum[lo:hi] {
		sum += cmag(val)
	}
	return math.Min(1.0, sum/float64(hi-lo))
}

func pushBounded(history []float64, value float64, limit int) []float64 {
	history = append(history, value)
	if len(history) > limit {
		copy(history, history[1:])
		history = history[:len(history)-1]
	}
	return history
}

func (a *Analyzer) energyVariance() float64 {
	if len(a.energyHist) < 10 {
		return 0
	}
	mean := average(a.energyHist)
	sumSq := 0.0
	for _, v := range a.energyHist {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Min(1.0, math.Sqrt(sumSq/float64(len(a.energyHist))))
}

func (a *Analyzer) ensureWorkspace(size int) {
	if len(a.buffer) != size {
		a.buffer = make([]complex128, size)
	}
	if len(a.window) != size {
		a.window = make([]float64, size)
		sizeF := float64(size)
		for i := range a.window {
			a.window[i] = hann(float64(i), sizeF)
		}
	}
}

func hann(i, size float64) float64 {
	return 0.5 * (1.0 - math.Cos(2.0*math.Pi*i/size))
}

func cmag(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func envelope(current, input, attack, release float64) float64 {
	if input > current {
		return current*attack + input*(1-attack)
	}
	return current * release
}

func dynamics(value, peak float64) float64 {
	if peak < 0.01 {
		return value
	}
	ratio := value / peak
	if ratio < 0 {
		ratio = 0
	}
	expanded := math.Pow(ratio, 0.7) * peak
	if ratio > 0.85 {
		expanded *= 1.0 + (ratio-0.85)*2.0
	}
	return math.Min(1.0, expanded)
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func nextPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
