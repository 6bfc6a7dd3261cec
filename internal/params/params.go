// Package params holds the render parameters a host can change and the
// audio-driven motion layered on top of them each frame.
package params

import (
	"math"

	"github.com/guidoenr/vizcore/internal/analyzer"
)

// Parameters is the state parameter changes and presets write to. Audio never
// modifies it; see Motion.
type Parameters struct {
	Time             float64
	Frequency        float64
	Amplitude        float64
	Speed            float64
	Scale            float64
	Pattern          string
	ColorMode        string
	Brightness       float64
	Contrast         float64
	Saturation       float64
	Gamma            float64
	Vignette         float64
	VignetteSoftness float64
	BeatSensitivity  float64
	BassInfluence    float64
	MidInfluence     float64
	TrebleInfluence  float64
	NoiseFloor       float64

	TransitionDuration float64
	Shuffle            bool
	LockPreset         bool
	PresetIndex        int
}

// Defaults returns calm defaults.
func Defaults() Parameters {
	return Parameters{
		Frequency:        6.0,
		Amplitude:        0.4,
		Speed:            0.05,
		Scale:            1.0,
		Pattern:          "plasma",
		ColorMode:        "chromatic",
		Brightness:       0.6,
		Contrast:         0.8,
		Saturation:       0.9,
		Gamma:            1.0,
		Vignette:         0.25,
		VignetteSoftness: 0.55,
		BeatSensitivity:  1.2,
		BassInfluence:    0.9,
		MidInfluence:     0.15,
		TrebleInfluence:  0.08,
		NoiseFloor:       0.02,

		TransitionDuration: 2.0,
	}
}

// Motion is the audio-reactive state. Boosts are relative to the matching
// Parameters field and rest at zero.
type Motion struct {
	AmplitudeBoost float64
	FrequencyBoost float64
	SpeedBoost     float64
	Lift           float64
	Punch          float64
	Vivid          float64
	GammaShift     float64
	VignetteBoost  float64

	ColorShift       float64
	NoiseStrength    float64
	NoiseScale       float64
	DistortAmplitude float64
	BeatDistortion   float64
	BeatZoom         float64
}

const (
	restNoiseStrength    = 0.1
	restNoiseScale       = 0.006
	restDistortAmplitude = 0.4
)

// Resting returns the motion of a silent input.
func Resting() Motion {
	return Motion{
		NoiseStrength:    restNoiseStrength,
		NoiseScale:       restNoiseScale,
		DistortAmplitude: restDistortAmplitude,
	}
}

// Follow moves m one frame of length delta towards the response to feat.
// Influence and sensitivity settings come from p.
func (m *Motion) Follow(feat analyzer.Features, delta float64, p Parameters) {
	decay := math.Pow(0.92, delta*60)
	m.BeatDistortion *= decay
	m.BeatZoom *= decay

	if feat == (analyzer.Features{}) {
		m.settle(decay, delta)
		return
	}

	energy := math.Max(0.05, feat.Bass*0.7+feat.Mid*0.2+feat.Treble*0.1)
	bass := feat.Bass * p.BassInfluence

	m.AmplitudeBoost = lerp(m.AmplitudeBoost, 1.5+bass*3, 0.6)
	m.FrequencyBoost = lerp(m.FrequencyBoost, bass*0.5+feat.Mid*p.MidInfluence, 0.4)
	m.SpeedBoost = lerp(m.SpeedBoost, 0.6+energy*14*(1+feat.Treble*p.TrebleInfluence), 0.4)
	m.Lift = lerp(m.Lift, feat.Overall*0.7+bass*0.8+feat.BeatStrength*0.5, 0.5)
	m.Punch = lerp(m.Punch, energy*0.4+bass*0.6, 0.4)
	m.GammaShift = lerp(m.GammaShift, feat.Bass*0.3-0.1, 0.3)
	m.VignetteBoost = lerp(m.VignetteBoost, feat.BeatStrength*0.15, 0.2)

	// saturation rises fast and falls slowly
	vivid := clamp(feat.Bass*0.5+feat.BeatStrength*0.3-0.1, -0.5, 0.6)
	if vivid > m.Vivid {
		m.Vivid = lerp(m.Vivid, vivid, 0.7)
	} else {
		m.Vivid = lerp(m.Vivid, vivid, 0.3)
	}

	m.ColorShift = math.Mod(m.ColorShift+feat.Bass*0.3+feat.Treble*0.15, 2*math.Pi)
	m.NoiseStrength = feat.BeatStrength * (0.4 + feat.Bass*0.6)
	m.NoiseScale = lerp(m.NoiseScale, 0.004+feat.Bass*0.002, 0.2)
	m.DistortAmplitude = lerp(m.DistortAmplitude, 0.35+feat.Bass*0.7, 0.5)

	switch {
	case feat.IsDrop:
		m.BeatDistortion = 1.5
		m.BeatZoom = 1.2
		m.DistortAmplitude = 1.0
	case feat.BeatStrength > 0.16/math.Max(0.1, p.BeatSensitivity):
		m.BeatDistortion = math.Max(m.BeatDistortion, 1.0)
		m.BeatZoom = math.Max(m.BeatZoom, 0.8)
	}
}

func (m *Motion) settle(decay, delta float64) {
	speedDecay := math.Pow(0.88, delta*60)
	m.AmplitudeBoost *= decay
	m.FrequencyBoost *= decay
	m.SpeedBoost *= speedDecay
	m.Lift *= decay
	m.Punch *= decay
	m.Vivid = lerp(m.Vivid, 0, 0.1)
	m.GammaShift = lerp(m.GammaShift, 0, 0.1)
	m.VignetteBoost = lerp(m.VignetteBoost, 0, 0.25)
	m.NoiseStrength = lerp(m.NoiseStrength, restNoiseStrength, 1-decay)
	m.NoiseScale = lerp(m.NoiseScale, restNoiseScale, 0.3)
	m.DistortAmplitude = lerp(m.DistortAmplitude, restDistortAmplitude, 0.2)
}

// Frame is the effective state one frame is rendered with.
type Frame struct {
	Time             float64
	Speed            float64
	Frequency        float64
	Amplitude        float64
	Scale            float64
	Brightness       float64
	Contrast         float64
	Saturation       float64
	Gamma            float64
	Vignette         float64
	VignetteSoftness float64
	ColorShift       float64
	NoiseStrength    float64
	NoiseScale       float64
	DistortAmplitude float64
	BeatDistortion   float64
	BeatZoom         float64
}

// Compose layers m over p. A parameter set to zero stays zero where the
// boost is relative.
func Compose(p Parameters, m Motion) Frame {
	return Frame{
		Time:             p.Time,
		Speed:            p.Speed * (1 + m.SpeedBoost),
		Frequency:        p.Frequency * (1 + m.FrequencyBoost),
		Amplitude:        clamp(p.Amplitude*(1+m.AmplitudeBoost), 0, 3),
		Scale:            p.Scale,
		Brightness:       clamp(p.Brightness*(1+m.Lift), 0, 3),
		Contrast:         clamp(p.Contrast+m.Punch, 0.2, 3),
		Saturation:       clamp(p.Saturation+m.Vivid, 0, 1.5),
		Gamma:            math.Max(0.1, p.Gamma+m.GammaShift),
		Vignette:         clamp(p.Vignette+m.VignetteBoost, 0, 1),
		VignetteSoftness: p.VignetteSoftness,
		ColorShift:       m.ColorShift,
		NoiseStrength:    m.NoiseStrength,
		NoiseScale:       m.NoiseScale,
		DistortAmplitude: m.DistortAmplitude,
		BeatDistortion:   m.BeatDistortion,
		BeatZoom:         m.BeatZoom,
	}
}

// Advance moves the animation clock by delta at speed.
func (p *Parameters) Advance(delta, speed float64) {
	p.Time += delta * speed
}

func lerp(current, target, factor float64) float64 {
	return current*(1-factor) + target*factor
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
