package app

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/guidoenr/vizcore/internal/audio"
	"github.com/guidoenr/vizcore/internal/pcm"
)

const (
	syntheticRate  = 48000.0
	syntheticBlock = 480
)

// fakeGenerator synthesizes a stereo test signal: a kick-like bass tone, a
// mid chord and a treble shimmer, each with its own slow envelope.
type fakeGenerator struct {
	rng        *rand.Rand
	sampleRate float64

	phaseBass float64
	phaseMid  float64
	phaseHigh float64
	lfo       float64
	kick      float64
}

func newFakeGenerator(seed int64, sampleRate float64) *fakeGenerator {
	return &fakeGenerator{
		rng:        rand.New(rand.NewSource(seed)),
		sampleRate: sampleRate,
	}
}

// Fill writes frames of interleaved stereo into dst.
func (f *fakeGenerator) Fill(dst []float32, frames int) {
	dt := 1 / f.sampleRate
	for i := 0; i < frames; i++ {
		f.lfo += dt
		f.phaseBass += 2 * math.Pi * 55 * dt
		f.phaseMid += 2 * math.Pi * 440 * dt
		f.phaseHigh += 2 * math.Pi * 3520 * dt

		// kick every half second
		if math.Mod(f.lfo, 0.5) < dt {
			f.kick = 1
		}
		f.kick *= 0.9995

		bassEnv := 0.5 + 0.5*math.Sin(f.lfo*0.7)
		midEnv := 0.4 + 0.4*math.Sin(f.lfo*1.2+0.5)
		highEnv := 0.3 + 0.3*math.Sin(f.lfo*2.1+1.0)

		bass := (0.25*bassEnv + 0.35*f.kick) * math.Sin(f.phaseBass)
		mid := 0.15 * midEnv * (math.Sin(f.phaseMid) + 0.5*math.Sin(f.phaseMid*1.25))
		high := 0.05 * highEnv * math.Sin(f.phaseHigh)
		noise := (f.rng.Float64()*2 - 1) * 0.01

		left := clamp1(bass + mid + high + noise)
		right := clamp1(bass + 0.8*mid + 1.2*high + noise)
		dst[i*2] = float32(left)
		dst[i*2+1] = float32(right)
	}
}

// runSynthetic feeds targets in real time until ctx is done, standing in for
// the PortAudio callback.
func runSynthetic(ctx context.Context, gen *fakeGenerator, targets []audio.Target) {
	block := make([]float32, syntheticBlock*pcm.Channels)
	interval := time.Duration(float64(syntheticBlock) / gen.sampleRate * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gen.Fill(block, syntheticBlock)
			for _, t := range targets {
				if t.PCM != nil {
					t.PCM.PushInterleaved(block, syntheticBlock)
				}
				if t.Windower != nil {
					t.Windower.Write(block, pcm.Channels)
				}
			}
		}
	}
}

func clamp1(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
