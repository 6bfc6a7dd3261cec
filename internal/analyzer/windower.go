package analyzer

import "sync/atomic"

// Windower slices an incoming interleaved stream into fixed WindowSize mono
// windows and pushes one Snapshot per completed window.
//
// Write runs on the audio context: it never blocks and a full sink simply
// counts the snapshot as dropped.
type Windower struct {
	analyzer *Analyzer
	sink     Sink

	window   []float32
	filled   int
	position uint64
	delta    float64

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewWindower creates a Windower feeding sink.
func NewWindower(a *Analyzer, sink Sink) *Windower {
	if a == nil {
		a = New(Config{})
	}
	return &Windower{
		analyzer: a,
		sink:     sink,
		window:   make([]float32, WindowSize),
		delta:    float64(WindowSize) / a.SampleRate(),
	}
}

// Write consumes frames of interleaved samples with the given channel count.
func (w *Windower) Write(interleaved []float32, channels int) {
	if channels <= 0 {
		channels = 1
	}
	frames := len(interleaved) / channels
	for f := 0; f < frames; f++ {
		base := f * channels
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[base+ch]
		}
		w.window[w.filled] = sum / float32(channels)
		w.filled++
		if w.filled == len(w.window) {
			w.emit()
		}
	}
}

// Position returns the number of source samples consumed so far.
func (w *Windower) Position() uint64 {
	return w.position + uint64(w.filled)
}

// Pushed returns how many snapshots the sink accepted.
func (w *Windower) Pushed() uint64 { return w.pushed.Load() }

// Dropped returns how many snapshots were lost to a full sink.
func (w *Windower) Dropped() uint64 { return w.dropped.Load() }

func (w *Windower) emit() {
	snap := Snapshot{
		SamplePosition:  w.position,
		ShortTimeEnergy: ShortTimeEnergy(w.window),
		Features:        w.analyzer.Analyze(w.window, w.delta),
	}
	w.position += uint64(len(w.window))
	w.filled = 0
	if w.sink != nil && w.sink.Push(snap) {
		w.pushed.Add(1)
		return
	}
	w.dropped.Add(1)
}
