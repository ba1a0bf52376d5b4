package fps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// Op is a control operation
type Op int

const (
	// OpConfStart starts the configuration process
	OpConfStart Op = iota
	// OpConfStop stops the configuration process
	OpConfStop
	// OpRunStart starts the run process
	OpRunStart
	// OpRunStop stops the run process
	OpRunStop
)

func (o Op) String() string {
	switch o {
	case OpConfStart:
		return "conf_start"
	case OpConfStop:
		return "conf_stop"
	case OpRunStart:
		return "run_start"
	case OpRunStop:
		return "run_stop"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

func (o Op) start() bool { return o == OpConfStart || o == OpRunStart }

func (o Op) conf() bool { return o == OpConfStart || o == OpConfStop }

// status codes of control operations
const (
	StatusOK = iota
	StatusLaunchFailed
	StatusConfErrors
)

// ControlError is a control operation that returned a nonzero status
type ControlError struct {
	FPS  string
	Op   Op
	Code int
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("FPS %s: %v failed with code %d", e.FPS, e.Op, e.Code)
}

// Launcher starts or stops the process behind an FPS and returns a status code
type Launcher interface {
	Launch(name string, op Op) int
}

// FuncLauncher adapts a function to the Launcher interface
type FuncLauncher func(name string, op Op) int

// Launch calls f
func (f FuncLauncher) Launch(name string, op Op) int { return f(name, op) }

// CommandLauncher runs `<Path> <Args...> conf|run <name>` on start operations.
// Stop operations only clear the signal; the process is expected to notice.
type CommandLauncher struct {
	Path string
	Args []string
}

// Launch starts the command without waiting for it
func (c CommandLauncher) Launch(name string, op Op) int {
	if !op.start() {
		return StatusOK
	}
	mode := "run"
	if op.conf() {
		mode = "conf"
	}
	args := append(append([]string{}, c.Args...), mode, name)
	cmd := exec.Command(c.Path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return StatusLaunchFailed
	}
	go cmd.Wait()
	return StatusOK
}

func (p *FPS) state(conf bool) (bool, error) {
	r, err := p.load()
	if err != nil {
		return false, err
	}
	if conf {
		return r.Conf.Running, nil
	}
	return r.Run.Running, nil
}

// ConfRunning is true while the configuration process runs
func (p *FPS) ConfRunning() (bool, error) { return p.state(true) }

// RunRunning is true while the run process runs
func (p *FPS) RunRunning() (bool, error) { return p.state(false) }

func (p *FPS) control(op Op, timeout time.Duration) error {
	code := StatusOK
	err := p.update(func(r *record) error {
		if op == OpRunStart {
			for _, e := range r.Entries {
				if e.Flags&FlagError != 0 {
					code = StatusConfErrors
					return nil
				}
			}
		}
		st := &r.Run
		if op.conf() {
			st = &r.Conf
		}
		st.Signal = op.start()
		return nil
	})
	if err != nil {
		return err
	}
	if code == StatusOK && p.opts.Launcher != nil {
		code = p.opts.Launcher.Launch(p.name, op)
	}
	if code != StatusOK {
		return &ControlError{FPS: p.name, Op: op, Code: code}
	}
	if timeout > 0 {
		return p.waitState(op.conf(), op.start(), timeout)
	}
	return nil
}

// waitState polls until the run state equals want or timeout elapses.
// Timing out is not an error.
func (p *FPS) waitState(conf, want bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		got, err := p.state(conf)
		if err != nil {
			return err
		}
		if got == want || !time.Now().Before(deadline) {
			return nil
		}
		time.Sleep(p.opts.PollInterval)
	}
}

// ConfStart raises the configuration signal and launches the configuration
// process.  A positive timeout waits for it to report running.
func (p *FPS) ConfStart(timeout time.Duration) error { return p.control(OpConfStart, timeout) }

// ConfStop clears the configuration signal.  A positive timeout waits for
// the process to report stopped.
func (p *FPS) ConfStop(timeout time.Duration) error { return p.control(OpConfStop, timeout) }

// RunStart raises the run signal and launches the run process.  It fails with
// StatusConfErrors while any parameter carries FlagError.
func (p *FPS) RunStart(timeout time.Duration) error { return p.control(OpRunStart, timeout) }

// RunStop clears the run signal
func (p *FPS) RunStop(timeout time.Duration) error { return p.control(OpRunStop, timeout) }

// serve is the controlled process side of a run state
func (p *FPS) serve(ctx context.Context, conf bool, period time.Duration, fn func(*FPS) error) (err error) {
	pick := func(r *record) *procState {
		if conf {
			return &r.Conf
		}
		return &r.Run
	}
	err = p.update(func(r *record) error {
		st := pick(r)
		st.Running, st.PID = true, os.Getpid()
		return nil
	})
	if err != nil {
		return err
	}
	defer func() {
		e := p.update(func(r *record) error {
			st := pick(r)
			st.Running, st.PID = false, 0
			return nil
		})
		if err == nil {
			err = e
		}
	}()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		r, lerr := p.load()
		if lerr != nil {
			return lerr
		}
		if !pick(&r).Signal {
			return nil
		}
		if ferr := fn(p); ferr != nil {
			return errors.Wrapf(ferr, "%s", p.name)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ServeConf marks the configuration process running and calls fn every
// period until the signal is cleared, fn fails or ctx ends
func (p *FPS) ServeConf(ctx context.Context, period time.Duration, fn func(*FPS) error) error {
	return p.serve(ctx, true, period, fn)
}

// ServeRun is ServeConf for the run process
func (p *FPS) ServeRun(ctx context.Context, period time.Duration, fn func(*FPS) error) error {
	return p.serve(ctx, false, period, fn)
}
