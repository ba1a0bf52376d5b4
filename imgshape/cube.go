package imgshape

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/ndarray"
)

// Which3DState says where the stack axis of a cube is on the wire and where
// the user expects it
type Which3DState int

const (
	// Last2Last keeps the stack axis last on both sides
	Last2Last Which3DState = iota

	// Last2Front stores the stack axis first and presents it last
	Last2Front

	// Front2Front keeps the stack axis first on both sides
	Front2Front

	// Front2Last stores the stack axis last and presents it first
	Front2Last
)

// Valid is true for the four known states
func (w Which3DState) Valid() bool {
	return w >= Last2Last && w <= Front2Last
}

func (w Which3DState) String() string {
	switch w {
	case Last2Last:
		return "LAST2LAST"
	case Last2Front:
		return "LAST2FRONT"
	case Front2Front:
		return "FRONT2FRONT"
	case Front2Last:
		return "FRONT2LAST"
	}
	return fmt.Sprintf("Which3DState(%d)", int(w))
}

// userFront is true when the stack axis is first in the user layout
func (w Which3DState) userFront() bool {
	return w == Front2Front || w == Front2Last
}

// RollForward moves axis 2 of a cube to the front, (a,b,c) -> (c,a,b)
func RollForward(cube ndarray.Array) (ndarray.Array, error) {
	if err := needDim(cube, 3); err != nil {
		return ndarray.Array{}, err
	}
	return cube.MoveAxis(2, 0)
}

// RollBack moves axis 0 of a cube to the back, (a,b,c) -> (b,c,a)
func RollBack(cube ndarray.Array) (ndarray.Array, error) {
	if err := needDim(cube, 3); err != nil {
		return ndarray.Array{}, err
	}
	return cube.MoveAxis(0, 2)
}

func checkTriDim(t Which3DState) error {
	if !t.Valid() {
		return errors.Wrapf(ErrTriDim, "got %d", int(t))
	}
	return nil
}

// FullCubeEncode maps a user cube to its wire layout: symmetry on the image
// axes, then a roll of the stack axis if t moves it
func FullCubeEncode(cube ndarray.Array, s int, t Which3DState) (ndarray.Array, error) {
	if err := checkTriDim(t); err != nil {
		return ndarray.Array{}, err
	}
	var (
		out ndarray.Array
		err error
	)
	if t.userFront() {
		out, err = CubeFrontEncode(cube, s)
	} else {
		out, err = CubeBackEncode(cube, s)
	}
	if err != nil {
		return ndarray.Array{}, err
	}
	switch t {
	case Last2Front:
		return RollForward(out)
	case Front2Last:
		return RollBack(out)
	}
	return out, nil
}

// FullCubeDecode undoes FullCubeEncode
func FullCubeDecode(cube ndarray.Array, s int, t Which3DState) (ndarray.Array, error) {
	if err := checkTriDim(t); err != nil {
		return ndarray.Array{}, err
	}
	var err error
	switch t {
	case Last2Front:
		cube, err = RollBack(cube)
	case Front2Last:
		cube, err = RollForward(cube)
	}
	if err != nil {
		return ndarray.Array{}, err
	}
	if t.userFront() {
		return CubeFrontDecode(cube, s)
	}
	return CubeBackDecode(cube, s)
}

// Encode maps user data to wire data.  2D arrays get the image symmetry, 3D
// arrays the full cube transform, anything else passes through.
func Encode(a ndarray.Array, s int, t Which3DState) (ndarray.Array, error) {
	switch a.NDim() {
	case 2:
		return ImageEncode(a, s)
	case 3:
		return FullCubeEncode(a, s, t)
	}
	return a, nil
}

// Decode maps wire data to user data, the inverse of Encode
func Decode(a ndarray.Array, s int, t Which3DState) (ndarray.Array, error) {
	switch a.NDim() {
	case 2:
		return ImageDecode(a, s)
	case 3:
		return FullCubeDecode(a, s, t)
	}
	return a, nil
}

// EncodeShape returns the wire shape Encode would produce for a user shape
func EncodeShape(shape []int, s int, t Which3DState) ([]int, error) {
	if _, err := Inverse(s); err != nil {
		return nil, err
	}
	out := append([]int{}, shape...)
	switch len(out) {
	case 2:
		if s > 3 {
			out[0], out[1] = out[1], out[0]
		}
	case 3:
		if err := checkTriDim(t); err != nil {
			return nil, err
		}
		if s > 3 {
			if t.userFront() {
				out[1], out[2] = out[2], out[1]
			} else {
				out[0], out[1] = out[1], out[0]
			}
		}
		switch t {
		case Last2Front:
			out = []int{out[2], out[0], out[1]}
		case Front2Last:
			out = []int{out[1], out[2], out[0]}
		}
	}
	return out, nil
}

// DecodeShape returns the user shape Decode would produce for a wire shape
func DecodeShape(shape []int, s int, t Which3DState) ([]int, error) {
	if _, err := Inverse(s); err != nil {
		return nil, err
	}
	out := append([]int{}, shape...)
	switch len(out) {
	case 2:
		if s > 3 {
			out[0], out[1] = out[1], out[0]
		}
	case 3:
		if err := checkTriDim(t); err != nil {
			return nil, err
		}
		switch t {
		case Last2Front:
			out = []int{out[1], out[2], out[0]}
		case Front2Last:
			out = []int{out[2], out[0], out[1]}
		}
		if s > 3 {
			if t.userFront() {
				out[1], out[2] = out[2], out[1]
			} else {
				out[0], out[1] = out[1], out[0]
			}
		}
	}
	return out, nil
}
