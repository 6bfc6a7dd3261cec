package params

import (
	"math"
	"sort"
)

// ID names a parameter that can be changed while the loop runs.
type ID string

const (
	BeatSensitivity    ID = "beatSensitivity"
	TransitionDuration ID = "transitionDuration"
	Shuffle            ID = "shuffle"
	LockPreset         ID = "lockCurrentPreset"
	PresetIndex        ID = "presetIndex"
	Brightness         ID = "brightness"
	Contrast           ID = "contrast"
	Saturation         ID = "saturation"
	Speed              ID = "speed"
	Frequency          ID = "frequency"
	Amplitude          ID = "amplitude"
	Scale              ID = "scale"
	BassInfluence      ID = "bassInfluence"
	MidInfluence       ID = "midInfluence"
	TrebleInfluence    ID = "trebleInfluence"
	Vignette           ID = "vignette"
	NoiseFloor         ID = "noiseFloor"
)

type setter func(p *Parameters, v float64)

func floatField(field func(p *Parameters) *float64, lo, hi float64) setter {
	return func(p *Parameters, v float64) {
		*field(p) = clamp(v, lo, hi)
	}
}

var registry = map[ID]setter{
	BeatSensitivity:    floatField(func(p *Parameters) *float64 { return &p.BeatSensitivity }, 0.1, 5),
	TransitionDuration: floatField(func(p *Parameters) *float64 { return &p.TransitionDuration }, 0, 30),
	Brightness:         floatField(func(p *Parameters) *float64 { return &p.Brightness }, 0, 3),
	Contrast:           floatField(func(p *Parameters) *float64 { return &p.Contrast }, 0.2, 3),
	Saturation:         floatField(func(p *Parameters) *float64 { return &p.Saturation }, 0, 1.5),
	Speed:              floatField(func(p *Parameters) *float64 { return &p.Speed }, 0, 5),
	Frequency:          floatField(func(p *Parameters) *float64 { return &p.Frequency }, 0.1, 40),
	Amplitude:          floatField(func(p *Parameters) *float64 { return &p.Amplitude }, 0, 3),
	Scale:              floatField(func(p *Parameters) *float64 { return &p.Scale }, 0.1, 10),
	BassInfluence:      floatField(func(p *Parameters) *float64 { return &p.BassInfluence }, 0, 3),
	MidInfluence:       floatField(func(p *Parameters) *float64 { return &p.MidInfluence }, 0, 3),
	TrebleInfluence:    floatField(func(p *Parameters) *float64 { return &p.TrebleInfluence }, 0, 3),
	Vignette:           floatField(func(p *Parameters) *float64 { return &p.Vignette }, 0, 1),
	NoiseFloor:         floatField(func(p *Parameters) *float64 { return &p.NoiseFloor }, 0, 0.9),
	Shuffle:            func(p *Parameters, v float64) { p.Shuffle = v >= 0.5 },
	LockPreset:         func(p *Parameters, v float64) { p.LockPreset = v >= 0.5 },
	PresetIndex: func(p *Parameters, v float64) {
		p.PresetIndex = int(math.Round(math.Max(0, v)))
	},
}

// Known reports whether id names a parameter.
func Known(id ID) bool {
	_, ok := registry[id]
	return ok
}

// Names returns every known parameter id, sorted.
func Names() []ID {
	out := make([]ID, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Set applies value to the parameter named id, clamped to its range.
// Unknown ids and NaN values are ignored and report false.
func (p *Parameters) Set(id ID, value float64) bool {
	fn, ok := registry[id]
	if !ok || math.IsNaN(value) {
		return false
	}
	fn(p, value)
	return true
}
