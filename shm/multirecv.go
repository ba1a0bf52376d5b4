package shm

import (
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/ndarray"
)

// MultiRecvOptions control MultiRecv
type MultiRecvOptions struct {
	// Aggregate stacks the frames into one array of shape (n, *shape)
	Aggregate bool

	// MonitorCount records the counter around every read and reports irregularities
	MonitorCount bool

	// Timeout bounds each wait; <= 0 waits forever
	Timeout time.Duration
}

// Irregularities counts capture counter steps that were not exactly one
type Irregularities struct {
	PreLow, PreHigh   int // counter deltas between consecutive reads, before the wait
	PostLow, PostHigh int // same, after the wait
	DiffLow, DiffHigh int // post minus pre of each read
}

// Regular is true when every step was exactly one
func (i Irregularities) Regular() bool {
	return i == Irregularities{}
}

// MultiRecvResult holds the frames of one MultiRecv
type MultiRecvResult struct {
	// Frames is filled unless Aggregate was set
	Frames []ndarray.Array

	// Cube is filled when Aggregate was set
	Cube ndarray.Array

	// Pre and Post are the counters before and after each wait, when monitored
	Pre, Post []uint64

	// Irregularities is filled when monitored
	Irregularities *Irregularities

	// Stale is the number of waits that timed out
	Stale int
}

// MultiRecv reads n successive frames.  The semaphore is flushed once up front
// so that no frame in the sequence is lost to a flush.
func (s *SHM) MultiRecv(n int, mo MultiRecvOptions) (MultiRecvResult, error) {
	var res MultiRecvResult
	img, err := s.image()
	if err != nil {
		return res, err
	}
	k, err := s.semIndex(img)
	if err != nil {
		return res, err
	}
	if err = img.SemFlush(k); err != nil {
		return res, err
	}
	ro := ReadOptions{
		Wait:    true,
		Timeout: mo.Timeout,
		NoFlush: true,
		NoCopy:  mo.Aggregate && img.Location() < 0,
	}
	var frames []ndarray.Array
	if mo.Aggregate {
		if res.Cube, err = ndarray.Zeros(s.dtype, append([]int{n}, s.shape...)...); err != nil {
			return res, err
		}
	} else {
		frames = make([]ndarray.Array, 0, n)
	}
	if mo.MonitorCount {
		res.Pre = make([]uint64, 0, n)
		res.Post = make([]uint64, 0, n)
	}
	for i := 0; i < n; i++ {
		if mo.MonitorCount {
			c, err := s.Counter()
			if err != nil {
				return res, err
			}
			res.Pre = append(res.Pre, c)
		}
		frame, err := s.GetData(ro)
		if errors.Is(err, ErrStale) {
			res.Stale++
		} else if err != nil {
			return res, err
		}
		if mo.Aggregate {
			dst, err := res.Cube.Index(0, i)
			if err != nil {
				return res, err
			}
			if err = ndarray.Copy(dst, frame); err != nil {
				return res, err
			}
		} else {
			frames = append(frames, frame)
		}
		if mo.MonitorCount {
			c, err := s.Counter()
			if err != nil {
				return res, err
			}
			res.Post = append(res.Post, c)
		}
	}
	if mo.MonitorCount {
		irr := countIrregularities(res.Pre, res.Post)
		res.Irregularities = &irr
		s.log.Printf("SHM %s irregularities: pre deltas %d < 1, %d > 1; post deltas %d < 1, %d > 1; pre/post diff %d < 1, %d > 1",
			s.name, irr.PreLow, irr.PreHigh, irr.PostLow, irr.PostHigh, irr.DiffLow, irr.DiffHigh)
	}
	res.Frames = frames
	return res, nil
}

func countIrregularities(pre, post []uint64) Irregularities {
	var irr Irregularities
	step := func(a, b uint64, low, high *int) {
		switch {
		case b < a+1:
			*low++
		case b > a+1:
			*high++
		}
	}
	for i := 1; i < len(pre); i++ {
		step(pre[i-1], pre[i], &irr.PreLow, &irr.PreHigh)
		step(post[i-1], post[i], &irr.PostLow, &irr.PostHigh)
	}
	for i := range pre {
		step(pre[i], post[i], &irr.DiffLow, &irr.DiffHigh)
	}
	return irr
}
