package audio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vizcore_audio_callbacks_total",
		Help: "PortAudio input callbacks handled",
	})

	snapshotsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vizcore_audio_snapshots_dropped_total",
		Help: "Analysis snapshots dropped because a loop's channel was full",
	})

	blocksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vizcore_audio_blocks_dropped_total",
		Help: "Captured blocks not analyzed because the analysis goroutine fell behind",
	})
)
