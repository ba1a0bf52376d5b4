package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/imgrec"
	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/monitor"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/runner"
	"github.com/nasa-jpl/gomilk/shm"
	"github.com/nasa-jpl/gomilk/shmdir"
	"github.com/nasa-jpl/gomilk/util"
)

// StaleAfter is how long since its last write before ls shows a stream as idle
var StaleAfter = time.Second

func ls(w io.Writer, e env, glob string) error {
	names, err := e.dir.Glob(glob, shmdir.ImageSuffix)
	if err != nil {
		return err
	}
	live := color.New(color.FgGreen).SprintFunc()
	idle := color.New(color.FgYellow).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHAPE\tDTYPE\tCNT0\tLAST WRITE")
	now := time.Now()
	for _, name := range names {
		s, err := shm.Open(e.dir, name, e.opts)
		if err != nil {
			fmt.Fprintf(tw, "%s\t\t\t\t%v\n", bad(name), err)
			continue
		}
		md, err := s.Metadata()
		shape := s.Shape()
		s.Close()
		if err != nil {
			fmt.Fprintf(tw, "%s\t\t\t\t%v\n", bad(name), err)
			continue
		}
		paint, age := live, "never"
		if !md.WriteTime.IsZero() {
			d := now.Sub(md.WriteTime)
			age = d.Round(time.Millisecond).String() + " ago"
			if d > StaleAfter {
				paint = idle
			}
		} else {
			paint = idle
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%s\n", paint(name), util.IntSliceToCSV(shape), md.DType, md.Cnt0, age)
	}
	return tw.Flush()
}

func info(w io.Writer, e env, name string) error {
	s, err := shm.Open(e.dir, name, e.opts)
	if err != nil {
		return err
	}
	defer s.Close()
	if err = s.PrintMetadata(w); err != nil {
		return err
	}
	kws, err := s.KeywordList()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d keywords\n", len(kws))
	for _, k := range kws {
		fmt.Fprintln(w, "  "+k.String())
	}
	return nil
}

func create(e env, name, shapeS, dtypeS string) error {
	shape, err := util.ParseShape(shapeS)
	if err != nil {
		return err
	}
	dt, err := ndarray.ParseDType(dtypeS)
	if err != nil {
		return err
	}
	co := shm.DefaultCreaOptions()
	co.Symcode = e.opts.Symcode
	co.TriDim = e.opts.TriDim
	s, err := shm.CreaShmIm(e.dir, name, shape, dt, co)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Println(s)
	return nil
}

func rm(e env, name string) error {
	s, err := shm.Open(e.dir, name, e.opts)
	if err != nil {
		return err
	}
	return s.Destroy()
}

// keywordValue reads a command line keyword value as an integer, a float or a string
func keywordValue(s string) interface{} {
	v, err := util.ParseNumber(s)
	if err != nil {
		return s
	}
	return v
}

func setKeyword(e env, name, key, value string, comment ...string) error {
	s, err := shm.Open(e.dir, name, e.opts)
	if err != nil {
		return err
	}
	defer s.Close()
	kw := shm.Keyword{Name: key, Value: keywordValue(value)}
	if len(comment) > 0 {
		kw.Comment = comment[0]
	}
	return s.SetKeywords(kw)
}

func fromFITS(e env, path, name string) error {
	s, err := shm.ReadFITSLoadSHM(e.dir, path, name, e.opts.Symcode, e.opts.TriDim, true)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Println(s)
	return nil
}

func record(e env, args []string) error {
	n := 1
	if len(args) > 1 {
		var err error
		if n, err = strconv.Atoi(args[1]); err != nil || n < 1 {
			return errors.Errorf("bad frame count %q", args[1])
		}
	}
	s, err := shm.Open(e.dir, args[0], e.opts)
	if err != nil {
		return err
	}
	defer s.Close()

	sp := startSpinner(fmt.Sprintf("waiting for %d frames of %s", n, s.Name()))
	res, err := s.MultiRecv(n, shm.MultiRecvOptions{Aggregate: n > 1, MonitorCount: true, Timeout: 5 * time.Second})
	if err != nil {
		sp.fail(err.Error())
		return err
	}
	frame, t := res.Cube, imgshape.Front2Front
	if n == 1 {
		frame, t = res.Frames[0], s.TriDim()
	}
	rec := imgrec.New(e.cfg.Recorder.Root, e.cfg.Recorder.Prefix)
	rec.Incr()
	fn, err := rec.Record([]ndarray.Array{frame}, s.Symcode(), t)
	if err != nil {
		sp.fail(err.Error())
		return err
	}
	msg := fn
	if res.Stale > 0 {
		msg = fmt.Sprintf("%s (%d waits timed out)", fn, res.Stale)
	}
	sp.stop(msg)
	return nil
}

func monitorStream(e env, args []string) error {
	length := monitor.DefaultLength
	if len(args) > 1 {
		var err error
		if length, err = strconv.Atoi(args[1]); err != nil || length < 1 {
			return errors.Errorf("bad length %q", args[1])
		}
	}
	s, err := shm.Open(e.dir, args[0], e.opts)
	if err != nil {
		return err
	}
	defer s.Close()
	m, err := monitor.New(e.dir, s, length, time.Second, e.opts)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	loop := runner.New(m.Step, runner.Options{})
	loop.Run()
	fmt.Printf("monitoring %s into %s, interrupt to stop\n", s.Name(), m.Name())
	select {
	case <-ctx.Done():
	case <-loop.Done():
	}
	err = loop.Close()
	if ferr := m.Flush(); err == nil {
		err = ferr
	}
	missed, stale := m.Stats()
	fmt.Printf("%d frames missed, %d waits timed out\n", missed, stale)
	return err
}
