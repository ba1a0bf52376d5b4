package monitor_test

import (
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/monitor"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/shm"
	"github.com/nasa-jpl/gomilk/shmdir"
)

func TestMain(m *testing.M) {
	shm.RecreateDelay = time.Millisecond
	os.Exit(m.Run())
}

func TestMonitorPublishesSteps(t *testing.T) {
	dir, err := shmdir.New(t.TempDir())
	require.NoError(t, err)
	opts := shm.DefaultOptions()
	opts.Logger = log.New(io.Discard, "", 0)

	frame, err := ndarray.Zeros(ndarray.Uint16, 4, 4)
	require.NoError(t, err)
	w, err := shm.Create(dir, "cam", frame, opts)
	require.NoError(t, err)
	defer w.Close()
	r, err := shm.Open(dir, "cam", opts)
	require.NoError(t, err)
	defer r.Close()

	m, err := monitor.New(dir, r, 3, 300*time.Millisecond, opts)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, "cam_timers", m.Name())

	// the first step flushes, then takes the reference counter
	go func() {
		time.Sleep(20 * time.Millisecond)
		w.SetData(frame, false)
	}()
	require.NoError(t, m.Step())

	require.NoError(t, w.SetData(frame, false))
	require.NoError(t, m.Step())
	require.NoError(t, w.SetData(frame, false))
	require.NoError(t, w.SetData(frame, false))
	require.NoError(t, m.Step())
	require.NoError(t, m.Step()) // leftover post of the double write
	require.NoError(t, m.Step()) // nothing posted
	missed, stale := m.Stats()
	assert.Equal(t, uint64(1), missed)
	assert.Equal(t, 1, stale)
	require.NoError(t, m.Flush())

	timers, err := shm.Open(dir, "cam_timers", opts)
	require.NoError(t, err)
	defer timers.Close()
	got, err := timers.GetData(shm.ReadOptions{})
	require.NoError(t, err)
	steps, err := ndarray.ToSlice[float32](got)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0}, steps)
}
