package viz

import "time"

// cpuSampler turns cumulative thread CPU time into a utilization percentage
// between consecutive samples.
type cpuSampler struct {
	read     func() (time.Duration, bool)
	lastCPU  time.Duration
	lastWall time.Time
}

func (s *cpuSampler) sample(now time.Time) (float64, bool) {
	if s.read == nil {
		return 0, false
	}
	cpu, ok := s.read()
	if !ok {
		return 0, false
	}
	if s.lastWall.IsZero() {
		s.lastCPU, s.lastWall = cpu, now
		return 0, false
	}
	wall := now.Sub(s.lastWall)
	if wall <= 0 {
		return 0, false
	}
	pct := float64(cpu-s.lastCPU) / float64(wall) * 100
	s.lastCPU, s.lastWall = cpu, now
	return min(100, max(0, pct)), true
}
