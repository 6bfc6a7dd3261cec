package audio

import (
	"time"

	"github.com/guidoenr/vizcore/internal/pcm"
	"github.com/guidoenr/vizcore/internal/ring"
)

const (
	analysisBlocks = 32
	analysisPoll   = 2 * time.Millisecond
)

type block struct {
	samples []float32
	frames  int
}

// analysisPump moves stereo blocks from the callback to a goroutine that runs
// the windowers, so the FFT and its allocations stay off the audio context.
// Blocks circulate through two SPSC rings: the callback pops free and pushes
// full, the analysis goroutine does the reverse.
type analysisPump struct {
	free    *ring.Channel[*block]
	full    *ring.Channel[*block]
	targets []Target
	dropped []uint64
}

func newAnalysisPump(targets []Target, blockFrames int) *analysisPump {
	p := &analysisPump{
		free:    ring.New[*block](analysisBlocks),
		full:    ring.New[*block](analysisBlocks),
		targets: targets,
		dropped: make([]uint64, len(targets)),
	}
	for i := 0; i < p.free.Capacity(); i++ {
		p.free.Push(&block{samples: make([]float32, blockFrames*pcm.Channels)})
	}
	return p
}

// offer copies frames of stereo into a free block. Callback side; false means
// every block is still queued and the audio is not analyzed.
func (p *analysisPump) offer(stereo []float32, frames int) bool {
	b, ok := p.free.Pop()
	if !ok {
		return false
	}
	b.frames = copy(b.samples, stereo[:frames*pcm.Channels]) / pcm.Channels
	p.full.Push(b)
	return true
}

// drain feeds every queued block to the windowers and returns how many
// blocks it consumed.
func (p *analysisPump) drain() int {
	n := 0
	for {
		b, ok := p.full.Pop()
		if !ok {
			return n
		}
		stereo := b.samples[:b.frames*pcm.Channels]
		for i, t := range p.targets {
			if t.Windower == nil {
				continue
			}
			t.Windower.Write(stereo, pcm.Channels)
			if d := t.Windower.Dropped(); d != p.dropped[i] {
				snapshotsDropped.Add(float64(d - p.dropped[i]))
				p.dropped[i] = d
			}
		}
		p.free.Push(b)
		n++
	}
}

func (p *analysisPump) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(analysisPoll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			p.drain()
			return
		case <-ticker.C:
			p.drain()
		}
	}
}
