//go:build !linux

package isio

import (
	"sync/atomic"
	"time"
)

const pollInterval = time.Millisecond

// futexWait polls *addr until it differs from val or d elapses
func futexWait(addr *uint32, val uint32, d time.Duration) {
	deadline := time.Now().Add(d)
	for atomic.LoadUint32(addr) == val && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
	}
}

func futexWake(addr *uint32) {}
