package imgshape

import (
	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/ndarray"
)

// Squeezer drops the singleton axes of a wire shape on read and puts them
// back on write.  With Auto false both directions are the identity.
type Squeezer struct {
	Wire []int
	Auto bool
}

// NewSqueezer returns a Squeezer for the given wire shape
func NewSqueezer(wire []int, auto bool) Squeezer {
	return Squeezer{Wire: append([]int{}, wire...), Auto: auto}
}

// Shape is the shape Read produces
func (q Squeezer) Shape() []int {
	if !q.Auto {
		return append([]int{}, q.Wire...)
	}
	out := []int{}
	for _, n := range q.Wire {
		if n != 1 {
			out = append(out, n)
		}
	}
	return out
}

// Read takes index 0 of every singleton wire axis
func (q Squeezer) Read(a ndarray.Array) (ndarray.Array, error) {
	if !ndarray.SameShape(a.Shape(), q.Wire) {
		return ndarray.Array{}, errors.Wrapf(ndarray.ErrShape, "squeeze %v with wire shape %v", a.Shape(), q.Wire)
	}
	if !q.Auto {
		return a, nil
	}
	var err error
	for ax := len(q.Wire) - 1; ax >= 0; ax-- {
		if q.Wire[ax] == 1 {
			if a, err = a.Index(ax, 0); err != nil {
				return ndarray.Array{}, err
			}
		}
	}
	return a, nil
}

// Write reinserts the singleton wire axes into a squeezed array
func (q Squeezer) Write(a ndarray.Array) (ndarray.Array, error) {
	if !ndarray.SameShape(a.Shape(), q.Shape()) {
		return ndarray.Array{}, errors.Wrapf(ndarray.ErrShape, "unsqueeze %v into wire shape %v", a.Shape(), q.Wire)
	}
	if !q.Auto {
		return a, nil
	}
	var err error
	for ax, n := range q.Wire {
		if n == 1 {
			if a, err = a.NewAxis(ax); err != nil {
				return ndarray.Array{}, err
			}
		}
	}
	return a, nil
}
