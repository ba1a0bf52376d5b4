package runner_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/gomilk/runner"
)

func ExampleLoop() {
	n := 0
	l := runner.New(func() error {
		n++
		if n == 3 {
			return errors.New("done counting")
		}
		return nil
	}, runner.Options{})
	l.Run()
	<-l.Done()
	fmt.Println(n, l.Close())
	// Output: 3 done counting
}

func TestStartsPaused(t *testing.T) {
	var calls int32
	l := runner.New(func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, runner.Options{PauseSleep: time.Millisecond})
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Paused())
	assert.Zero(t, atomic.LoadInt32(&calls))

	l.Run()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) > 0 }, time.Second, time.Millisecond)
	l.Pause()
	time.Sleep(5 * time.Millisecond)
	frozen := atomic.LoadInt32(&calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, atomic.LoadInt32(&calls))
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestRateLimit(t *testing.T) {
	var calls int32
	l := runner.New(func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, runner.Options{Rate: 50})
	l.Run()
	time.Sleep(200 * time.Millisecond)
	assert.NoError(t, l.Close())
	n := atomic.LoadInt32(&calls)
	assert.Greater(t, n, int32(2))
	assert.Less(t, n, int32(30))
}
