package viz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loopFPS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vizcore_loop_fps",
			Help: "Smoothed frames per second of the visualization loop",
		},
		[]string{"instance"},
	)

	loopFrameMs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vizcore_loop_frame_milliseconds",
			Help: "Smoothed time spent producing one frame",
		},
		[]string{"instance"},
	)

	loopCPUPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vizcore_loop_cpu_percent",
			Help: "CPU usage of the visualization loop thread",
		},
		[]string{"instance"},
	)

	loopResolutionScale = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vizcore_loop_resolution_scale",
			Help: "Render resolution scale currently applied",
		},
		[]string{"instance"},
	)

	loopFramesRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizcore_loop_frames_rendered_total",
			Help: "Total number of frames rendered",
		},
		[]string{"instance"},
	)

	loopSnapshotsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizcore_loop_snapshots_consumed_total",
			Help: "Total number of analysis snapshots drained",
		},
		[]string{"instance"},
	)

	loopResyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizcore_loop_deadline_resyncs_total",
			Help: "Times the frame deadline was reset after falling behind",
		},
		[]string{"instance"},
	)

	loopPresetFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizcore_loop_preset_failures_total",
			Help: "Preset load requests that failed",
		},
		[]string{"instance"},
	)

	loopEngineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vizcore_loop_engine_failures_total",
			Help: "Engine failures that switched rendering to the fallback",
		},
		[]string{"instance"},
	)
)

// instanceMetrics holds the collectors curried with one loop's instance id.
type instanceMetrics struct {
	fps            prometheus.Gauge
	frameMs        prometheus.Gauge
	cpu            prometheus.Gauge
	scale          prometheus.Gauge
	frames         prometheus.Counter
	snapshots      prometheus.Counter
	resyncs        prometheus.Counter
	presetFailures prometheus.Counter
	engineFailures prometheus.Counter
}

func newInstanceMetrics(id string) instanceMetrics {
	return instanceMetrics{
		fps:            loopFPS.WithLabelValues(id),
		frameMs:        loopFrameMs.WithLabelValues(id),
		cpu:            loopCPUPercent.WithLabelValues(id),
		scale:          loopResolutionScale.WithLabelValues(id),
		frames:         loopFramesRendered.WithLabelValues(id),
		snapshots:      loopSnapshotsConsumed.WithLabelValues(id),
		resyncs:        loopResyncs.WithLabelValues(id),
		presetFailures: loopPresetFailures.WithLabelValues(id),
		engineFailures: loopEngineFailures.WithLabelValues(id),
	}
}

func deleteInstanceMetrics(id string) {
	for _, g := range []*prometheus.GaugeVec{loopFPS, loopFrameMs, loopCPUPercent, loopResolutionScale} {
		g.DeleteLabelValues(id)
	}
	for _, c := range []*prometheus.CounterVec{loopFramesRendered, loopSnapshotsConsumed, loopResyncs, loopPresetFailures, loopEngineFailures} {
		c.DeleteLabelValues(id)
	}
}
