package shm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/isio"
	"github.com/nasa-jpl/gomilk/ndarray"
)

// ErrRelink matches every failure to reattach to a recreated stream
var ErrRelink = errors.New("auto relink failed")

// RelinkError is a relink that could not reopen the stream
type RelinkError struct {
	Name string
	Err  error
}

func (e *RelinkError) Error() string {
	return fmt.Sprintf("auto relink of %s failed: %v", e.Name, e.Err)
}

// Unwrap returns the reason the stream could not be reopened
func (e *RelinkError) Unwrap() error { return e.Err }

// Is makes the error match ErrRelink
func (e *RelinkError) Is(target error) bool { return target == ErrRelink }

// RelinkSizeError is a relink onto a stream with a different wire shape
type RelinkSizeError struct {
	Name      string
	Want, Got []int
}

func (e *RelinkSizeError) Error() string {
	return fmt.Sprintf("auto relink of %s: shape changed from %v to %v", e.Name, e.Want, e.Got)
}

// Is makes the error match ErrRelink
func (e *RelinkSizeError) Is(target error) bool { return target == ErrRelink }

// RelinkTypeError is a relink onto a stream with a different dtype
type RelinkTypeError struct {
	Name      string
	Want, Got ndarray.DType
}

func (e *RelinkTypeError) Error() string {
	return fmt.Sprintf("auto relink of %s: dtype changed from %v to %v", e.Name, e.Want, e.Got)
}

// Is makes the error match ErrRelink
func (e *RelinkTypeError) Is(target error) bool { return target == ErrRelink }

// relink swaps s.img for a fresh attachment when the file at s.path is no
// longer the stream s.img was opened on.  The old image stays mapped until
// Close or Destroy.  The caller holds s.mu.
func (s *SHM) relink() error {
	ino, err := isio.PathInode(s.path)
	if err == nil && ino == s.img.Inode() && !s.img.Destroyed() {
		return nil
	}
	if err != nil {
		return &RelinkError{Name: s.name, Err: err}
	}
	img, err := isio.Open(s.path)
	if err != nil {
		return &RelinkError{Name: s.name, Err: err}
	}
	if !ndarray.SameShape(img.Shape(), s.wire) {
		img.Close()
		return &RelinkSizeError{Name: s.name, Want: s.ShapeC(), Got: img.Shape()}
	}
	if img.DType() != s.dtype {
		img.Close()
		return &RelinkTypeError{Name: s.name, Want: s.dtype, Got: img.DType()}
	}
	if s.claimed {
		if _, err := img.SemWaitIndex(0); err != nil {
			img.Close()
			return &RelinkError{Name: s.name, Err: err}
		}
	}
	// views handed out by GetData still point into the old mapping
	s.img.SemRelease()
	s.retired = append(s.retired, s.img)
	s.img = img
	s.log.Printf("SHM %s: relinked to recreated stream (inode %d)", s.name, img.Inode())
	return nil
}
