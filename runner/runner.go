/*Package runner provides Loop, a callback repeated on a goroutine that can be
paused, resumed and joined.
*/
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Options configure a Loop
type Options struct {
	// PauseSleep is the sleep between checks while paused, 10 ms when zero
	PauseSleep time.Duration

	// Rate caps the calls per second while running.  Zero does not limit.
	Rate rate.Limit
}

// Loop calls a function over and over while running.  It starts paused.
type Loop struct {
	call   func() error
	opts   Options
	lim    *rate.Limiter
	paused int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

// New starts the goroutine of a paused loop around call.  The loop stops and
// keeps the error of the first call that fails.
func New(call func() error, opts Options) *Loop {
	if opts.PauseSleep <= 0 {
		opts.PauseSleep = 10 * time.Millisecond
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		lim = rate.NewLimiter(opts.Rate, 1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{call: call, opts: opts, lim: lim, paused: 1, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		if l.ctx.Err() != nil {
			return
		}
		if l.Paused() {
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(l.opts.PauseSleep):
			}
			continue
		}
		if err := l.lim.Wait(l.ctx); err != nil {
			return
		}
		if l.Paused() {
			continue
		}
		if err := l.call(); err != nil {
			l.err = err
			return
		}
	}
}

// Run resumes the loop
func (l *Loop) Run() { atomic.StoreInt32(&l.paused, 0) }

// Pause suspends the loop after the call in progress, if any
func (l *Loop) Pause() { atomic.StoreInt32(&l.paused, 1) }

// Paused is true while the loop is suspended
func (l *Loop) Paused() bool { return atomic.LoadInt32(&l.paused) == 1 }

// Done is closed when the loop has stopped, by Close or by a failed call
func (l *Loop) Done() <-chan struct{} { return l.done }

// Close stops the loop, waits for the goroutine to exit and returns the
// error that stopped it, if any
func (l *Loop) Close() error {
	l.once.Do(func() {
		l.Pause()
		l.cancel()
	})
	<-l.done
	return l.err
}
