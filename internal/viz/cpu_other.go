//go:build !linux

package viz

import "time"

// Per-thread CPU time is only queried on Linux; elsewhere the controller sees
// 0% CPU and acts on fps alone.
func threadCPUTime() (time.Duration, bool) {
	return 0, false
}
