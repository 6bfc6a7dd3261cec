package analyzer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverage(t *testing.T) {
	vals := []float64{0.2, 0.4, 0.6, 0.8}
	assert.InDelta(t, 0.5, average(vals), 1e-6)
	assert.Zero(t, average(nil))
}

func TestNextPow2(t *testing.T) {
	cases := map[int]int{
		0:   1,
		1:   1,
		2:   2,
		3:   4,
		5:   8,
		16:  16,
		31:  32,
		257: 512,
	}
	for input, want := range cases {
		assert.Equal(t, want, nextPow2(input), "nextPow2(%d)", input)
	}
}

func TestDynamicsWithLowPeakReturnsValue(t *testing.T) {
	assert.Equal(t, 0.5, dynamics(0.5, 0.0))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, clamp(2, 0, 1))
	assert.Equal(t, 0.0, clamp(-1, 0, 1))
	assert.Equal(t, 0.5, clamp(0.5, 0, 1))
}

func TestShortTimeEnergy(t *testing.T) {
	assert.Zero(t, ShortTimeEnergy(nil))
	assert.InDelta(t, 0.25, ShortTimeEnergy([]float32{0.5, -0.5, 0.5, -0.5}), 1e-6)
}

func TestAnalyzeSilenceIsQuiet(t *testing.T) {
	a := New(Config{SampleRate: 48_000})
	feat := a.Analyze(make([]float32, WindowSize), float64(WindowSize)/48_000)
	assert.Zero(t, feat.Bass)
	assert.False(t, feat.IsDrop)
}

func TestAnalyzeLowToneLandsInBass(t *testing.T) {
	const rate = 48_000.0
	a := New(Config{SampleRate: rate})
	samples := make([]float32, WindowSize)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*100*float64(i)/rate))
	}
	feat := a.Analyze(samples, float64(WindowSize)/rate)
	assert.Greater(t, feat.Bass, feat.Treble)
}

type captureSink struct {
	got   []Snapshot
	limit int
}

func (c *captureSink) Push(s Snapshot) bool {
	if c.limit > 0 && len(c.got) >= c.limit {
		return false
	}
	c.got = append(c.got, s)
	return true
}

func TestWindowerEmitsOneSnapshotPerWindow(t *testing.T) {
	sink := &captureSink{}
	w := NewWindower(New(Config{SampleRate: 44_100}), sink)

	stereo := make([]float32, WindowSize*2*3+10)
	for i := range stereo {
		stereo[i] = 0.5
	}
	w.Write(stereo, 2)

	require.Len(t, sink.got, 3)
	for i, snap := range sink.got {
		assert.Equal(t, uint64(i*WindowSize), snap.SamplePosition)
		assert.InDelta(t, 0.25, snap.ShortTimeEnergy, 1e-6)
	}
	assert.Equal(t, uint64(3*WindowSize+5), w.Position())
	assert.Equal(t, uint64(3), w.Pushed())
	assert.Zero(t, w.Dropped())
}

func TestWindowerCountsDrops(t *testing.T) {
	sink := &captureSink{limit: 1}
	w := NewWindower(nil, sink)
	w.Write(make([]float32, WindowSize*3), 1)

	assert.Len(t, sink.got, 1)
	assert.Equal(t, uint64(1), w.Pushed())
	assert.Equal(t, uint64(2), w.Dropped())
}

func TestSnapshotChannelDefaultCapacity(t *testing.T) {
	ch := NewSnapshotChannel(0)
	assert.Equal(t, DefaultSnapshotCapacity, ch.Capacity())
}
