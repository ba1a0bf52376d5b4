/*Package monitor watches the frame counter of a stream and publishes the
step between successive frames to a companion stream named <name>_timers.

A step of one is a regular frame; larger steps are frames the monitor missed.
*/
package monitor

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/shm"
	"github.com/nasa-jpl/gomilk/shmdir"
)

// Suffix is appended to the source name to form the timers stream name
const Suffix = "_timers"

// DefaultLength is the number of steps published at once
const DefaultLength = 10000

// Monitor records counter steps of one stream
type Monitor struct {
	src     *shm.SHM
	out     *shm.SHM
	timeout time.Duration

	mu      sync.Mutex
	buf     []float32
	k       int
	last    uint64
	started bool
	missed  uint64
	stale   int
}

// New creates the timers stream of src, holding length float32 steps.  Each
// wait for a frame is bounded by timeout; <= 0 waits forever.
func New(dir shmdir.Dir, src *shm.SHM, length int, timeout time.Duration, opts shm.Options) (*Monitor, error) {
	if length <= 0 {
		length = DefaultLength
	}
	buf := make([]float32, length)
	zeros, err := ndarray.FromSlice(buf, length)
	if err != nil {
		return nil, err
	}
	out, err := shm.Create(dir, src.Name()+Suffix, zeros, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "creating timers of %s", src.Name())
	}
	return &Monitor{src: src, out: out, timeout: timeout, buf: buf}, nil
}

// Name is the timers stream name
func (m *Monitor) Name() string { return m.out.Name() }

// Step waits for one frame and records the counter step.  Only the first
// step flushes pending posts, so a backlog shows up as steps of zero after
// a large step.  The timers stream is written each time the buffer fills.
// A wait that times out is counted and is not an error.
func (m *Monitor) Step() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.src.GetData(shm.ReadOptions{Wait: true, Timeout: m.timeout, NoFlush: m.started})
	if errors.Is(err, shm.ErrStale) {
		m.stale++
		return nil
	}
	if err != nil {
		return err
	}
	cnt, err := m.src.Counter()
	if err != nil {
		return err
	}
	if !m.started {
		m.started = true
		m.last = cnt
		return nil
	}
	d := cnt - m.last
	m.last = cnt
	if d > 1 {
		m.missed += d - 1
	}
	m.buf[m.k] = float32(d)
	m.k++
	if m.k == len(m.buf) {
		m.k = 0
		return m.publish()
	}
	return nil
}

func (m *Monitor) publish() error {
	a, err := ndarray.FromSlice(m.buf, len(m.buf))
	if err != nil {
		return err
	}
	return m.out.SetData(a, false)
}

// Flush writes the steps recorded since the last publish, zeroing the rest
// of the buffer
func (m *Monitor) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.k == 0 {
		return nil
	}
	for i := m.k; i < len(m.buf); i++ {
		m.buf[i] = 0
	}
	return m.publish()
}

// Stats returns the number of frames missed and waits that timed out
func (m *Monitor) Stats() (missed uint64, stale int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missed, m.stale
}

// Close closes the timers stream handle, leaving the stream in place
func (m *Monitor) Close() error {
	return m.out.Close()
}
