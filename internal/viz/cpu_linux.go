//go:build linux

package viz

import (
	"time"

	"golang.org/x/sys/unix"
)

// threadCPUTime reports user+system time of the calling OS thread. The loop
// goroutine is locked to its thread, so this is the loop's own cost.
func threadCPUTime() (time.Duration, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &ru); err != nil {
		return 0, false
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), true
}
