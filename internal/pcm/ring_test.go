package pcm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frames builds count stereo frames where frame i holds (base+i, -(base+i)).
func frames(base, count int) []float32 {
	out := make([]float32, count*Channels)
	for i := 0; i < count; i++ {
		out[i*2] = float32(base + i)
		out[i*2+1] = -float32(base + i)
	}
	return out
}

func TestCopyLatestReturnsTail(t *testing.T) {
	r := NewRing(256, 48_000)
	r.PushInterleaved(frames(1, 100), 100)

	got := r.CopyLatest(50)
	require.Len(t, got, 50*Channels)
	for i := 0; i < 50; i++ {
		assert.Equal(t, float32(51+i), got[i*2])
		assert.Equal(t, -float32(51+i), got[i*2+1])
	}
}

func TestCopyLatestZeroPadsMissingHistory(t *testing.T) {
	r := NewRing(256, 48_000)
	r.PushInterleaved(frames(1, 100), 100)

	got := r.CopyLatest(200)
	require.Len(t, got, 200*Channels)
	for i := 0; i < 100; i++ {
		assert.Zero(t, got[i*2], "leading frame %d", i)
		assert.Zero(t, got[i*2+1], "leading frame %d", i)
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, float32(1+i), got[(100+i)*2])
	}
}

func TestCopyLatestClampsToCapacity(t *testing.T) {
	r := NewRing(64, 48_000)
	r.PushInterleaved(frames(1, 40), 40)

	got := r.CopyLatest(1000)
	require.Len(t, got, 64*Channels)
	for i := 0; i < 24; i++ {
		assert.Zero(t, got[i*2])
	}
	assert.Equal(t, float32(1), got[24*2])
	assert.Equal(t, float32(40), got[63*2])
}

func TestPushWrapsAroundInSmallBlocks(t *testing.T) {
	r := NewRing(16, 48_000)
	next := 1
	for block := 0; block < 7; block++ {
		r.PushInterleaved(frames(next, 5), 5)
		next += 5
	}
	assert.Equal(t, uint64(35), r.FramesWritten())

	got := r.CopyLatest(16)
	for i := 0; i < 16; i++ {
		assert.Equal(t, float32(20+i), got[i*2], "frame %d", i)
	}
}

func TestOversizedBlockKeepsNewestFrames(t *testing.T) {
	r := NewRing(8, 48_000)
	r.PushInterleaved(frames(1, 20), 20)

	got := r.CopyLatest(8)
	for i := 0; i < 8; i++ {
		assert.Equal(t, float32(13+i), got[i*2])
	}
	assert.Equal(t, uint64(20), r.FramesWritten())
}

func TestFrameCountBoundedBySlice(t *testing.T) {
	r := NewRing(8, 48_000)
	r.PushInterleaved(frames(1, 2), 10)
	assert.Equal(t, uint64(2), r.FramesWritten())

	r.PushInterleaved(nil, 4)
	assert.Equal(t, uint64(2), r.FramesWritten())
	assert.Nil(t, r.CopyLatest(0))
}

func TestHasRecentData(t *testing.T) {
	r := NewRing(8, 44_100)
	now := time.Unix(100, 0)
	r.now = func() time.Time { return now }

	assert.False(t, r.HasRecentData(time.Hour), "never written")

	r.PushInterleaved(frames(0, 4), 4)
	assert.True(t, r.HasRecentData(50*time.Millisecond))

	now = now.Add(80 * time.Millisecond)
	assert.False(t, r.HasRecentData(50*time.Millisecond))
	assert.True(t, r.HasRecentData(100*time.Millisecond))
}

func TestSampleRate(t *testing.T) {
	r := NewRing(8, 44_100)
	assert.Equal(t, 44_100.0, r.SampleRate())
	r.SetSampleRate(48_000)
	assert.Equal(t, 48_000.0, r.SampleRate())
}

func TestConcurrentWriterReader(t *testing.T) {
	r := NewRing(512, 48_000)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		block := frames(0, 64)
		for i := 0; i < 2000; i++ {
			r.PushInterleaved(block, 64)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			got := r.CopyLatest(128)
			if len(got) != 128*Channels {
				t.Errorf("window length %d", len(got))
				return
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, uint64(2000*64), r.FramesWritten())
}
