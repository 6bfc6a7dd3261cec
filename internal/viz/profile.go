package viz

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// profiler appends per-section timings of rendered frames as CSV rows.
// A nil *profiler is valid and records nothing.
type profiler struct {
	mu    sync.Mutex
	out   io.WriteCloser
	start time.Time
	last  time.Time
	now   func() time.Time
}

func newProfiler(path string, log zerolog.Logger) *profiler {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("profiler disabled")
		return nil
	}
	return newProfilerTo(f, time.Now)
}

func newProfilerTo(out io.WriteCloser, now func() time.Time) *profiler {
	p := &profiler{out: out, now: now}
	fmt.Fprintln(p.out, "timestamp,section,delta_ms")
	return p
}

func (p *profiler) beginFrame() {
	if p == nil {
		return
	}
	now := p.now()
	p.start = now
	p.last = now
	p.write(now, "frame_start", 0)
}

func (p *profiler) markSection(name string) {
	if p == nil {
		return
	}
	now := p.now()
	delta := now.Sub(p.last).Seconds() * 1000
	p.last = now
	p.write(now, name, delta)
}

func (p *profiler) endFrame() {
	if p == nil {
		return
	}
	now := p.now()
	p.write(now, "frame_total", now.Sub(p.start).Seconds()*1000)
}

func (p *profiler) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return nil
	}
	err := p.out.Close()
	p.out = nil
	return err
}

func (p *profiler) write(at time.Time, section string, deltaMs float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	fmt.Fprintf(p.out, "%s,%s,%.3f\n", at.Format(time.RFC3339Nano), section, deltaMs)
}
