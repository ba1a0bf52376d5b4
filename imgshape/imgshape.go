/*Package imgshape maps arrays between their stored ("wire") layout and the
layout a user sees.

Eight symmetry codes cover the isometries of the square.  Codes 0-3 are
identity, flip of axis 0, flip of axis 1 and a flip of both; codes 4-7 are the
same four after a transpose.  Every code is its own inverse except 5 and 6,
which invert each other.

Cubes carry one extra "stack" axis that is left alone by the symmetry.  The
stack axis may be first or last, and a Which3DState says where it sits on the
wire and where the user wants it.

All transforms return views; no element is ever read or rewritten, so they
are exact for every dtype.
*/
package imgshape

import (
	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/ndarray"
)

var (
	// ErrSymcode is generated when a symmetry code is outside [0,7]
	ErrSymcode = errors.New("symcode must be 0-7")

	// ErrTriDim is generated when a Which3DState is not one of the four known states
	ErrTriDim = errors.New("unknown 3D state")

	// ErrNDim is generated when an array has the wrong number of axes for a transform
	ErrNDim = errors.New("wrong number of dimensions")
)

// inverse maps a symcode to the code that undoes it
var inverse = [8]int{0, 1, 2, 3, 4, 6, 5, 7}

// Inverse returns the symcode that undoes s
func Inverse(s int) (int, error) {
	if s < 0 || s > 7 {
		return 0, errors.Wrapf(ErrSymcode, "got %d", s)
	}
	return inverse[s], nil
}

// symmetry applies code s to the pair of axes (ax0, ax1) of a
func symmetry(a ndarray.Array, s, ax0, ax1 int) (ndarray.Array, error) {
	if s < 0 || s > 7 {
		return ndarray.Array{}, errors.Wrapf(ErrSymcode, "got %d", s)
	}
	var err error
	if s > 3 {
		a, err = a.SwapAxes(ax0, ax1)
		if err != nil {
			return ndarray.Array{}, err
		}
		s -= 4
	}
	if s&1 != 0 {
		a, err = a.Flip(ax0)
		if err != nil {
			return ndarray.Array{}, err
		}
	}
	if s&2 != 0 {
		a, err = a.Flip(ax1)
		if err != nil {
			return ndarray.Array{}, err
		}
	}
	return a, nil
}

func needDim(a ndarray.Array, n int) error {
	if a.NDim() != n {
		return errors.Wrapf(ErrNDim, "need %d-d array, got %v", n, a.Shape())
	}
	return nil
}

// ImageEncode applies symcode s to a 2D image
func ImageEncode(im ndarray.Array, s int) (ndarray.Array, error) {
	if err := needDim(im, 2); err != nil {
		return ndarray.Array{}, err
	}
	return symmetry(im, s, 0, 1)
}

// ImageDecode undoes ImageEncode
func ImageDecode(im ndarray.Array, s int) (ndarray.Array, error) {
	inv, err := Inverse(s)
	if err != nil {
		return ndarray.Array{}, err
	}
	return ImageEncode(im, inv)
}

// CubeFrontEncode applies symcode s to a cube whose stack axis is axis 0
func CubeFrontEncode(cube ndarray.Array, s int) (ndarray.Array, error) {
	if err := needDim(cube, 3); err != nil {
		return ndarray.Array{}, err
	}
	return symmetry(cube, s, 1, 2)
}

// CubeFrontDecode undoes CubeFrontEncode
func CubeFrontDecode(cube ndarray.Array, s int) (ndarray.Array, error) {
	inv, err := Inverse(s)
	if err != nil {
		return ndarray.Array{}, err
	}
	return CubeFrontEncode(cube, inv)
}

// CubeBackEncode applies symcode s to a cube whose stack axis is axis 2
func CubeBackEncode(cube ndarray.Array, s int) (ndarray.Array, error) {
	if err := needDim(cube, 3); err != nil {
		return ndarray.Array{}, err
	}
	return symmetry(cube, s, 0, 1)
}

// CubeBackDecode undoes CubeBackEncode
func CubeBackDecode(cube ndarray.Array, s int) (ndarray.Array, error) {
	inv, err := Inverse(s)
	if err != nil {
		return ndarray.Array{}, err
	}
	return CubeBackEncode(cube, inv)
}
