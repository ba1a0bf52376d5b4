package shm

import (
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/shmdir"
)

// CreaOptions control CreaShmIm
type CreaOptions struct {
	NbKw    int
	Symcode int
	TriDim  imgshape.Which3DState

	// DeleteExisting removes the stream file before creating a new one
	DeleteExisting bool

	// AttemptReuse keeps an existing stream if it has the right shape, dtype
	// and keyword capacity.  It is tried before DeleteExisting.
	AttemptReuse bool

	Logger *log.Logger
}

// DefaultCreaOptions returns 50 keyword slots, symcode 0 and reuse enabled
func DefaultCreaOptions() CreaOptions {
	return CreaOptions{
		NbKw:         50,
		Symcode:      0,
		TriDim:       imgshape.Last2Last,
		AttemptReuse: true,
	}
}

// CreaShmIm returns a stream with the given user shape and dtype, reusing a
// compatible existing one when allowed and creating it otherwise.  A reused
// stream is zeroed.
func CreaShmIm(dir shmdir.Dir, name string, shape []int, dt ndarray.DType, co CreaOptions) (*SHM, error) {
	opts := DefaultOptions()
	opts.Symcode = co.Symcode
	opts.TriDim = co.TriDim
	opts.NbKw = co.NbKw
	opts.Logger = co.Logger
	logger := co.Logger
	if logger == nil {
		logger = log.Default()
	}
	zeros, err := ndarray.Zeros(dt, shape...)
	if err != nil {
		return nil, err
	}

	if co.AttemptReuse {
		s, err := reuse(dir, name, zeros, co.NbKw, opts)
		if err == nil {
			return s, nil
		}
		logger.Printf("creashmim %s: attempt_reuse failed: %v", name, err)
	}

	if co.DeleteExisting {
		path, err := dir.ImagePath(name)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return Create(dir, name, zeros, opts)
}

func reuse(dir shmdir.Dir, name string, zeros ndarray.Array, nbkw int, opts Options) (*SHM, error) {
	s, err := Open(dir, name, opts)
	if err != nil {
		return nil, err
	}
	if err = s.SetData(zeros, false); err != nil {
		s.Close()
		return nil, err
	}
	md, err := s.Metadata()
	if err != nil {
		s.Close()
		return nil, err
	}
	if md.NbKw < nbkw {
		s.Close()
		return nil, errors.Errorf("existing stream has %d keyword slots, need %d", md.NbKw, nbkw)
	}
	return s, nil
}
