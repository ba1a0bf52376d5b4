/*Package ndarray provides a minimal strided n-dimensional array over raw element bytes.

An Array is a view: a dtype, a shape, per-axis strides (in elements) and an
offset into a backing byte slice.  Flips, transposes and axis moves only
rewrite the strides, so they are exact for every element type and never touch
the data.  Contiguous produces a fresh column-major (axis 0 fastest) copy,
which is the storage order of image streams and of FITS files.

The backing slice may be a shared memory mapping.  Views onto such a mapping
see concurrent writes from other processes.
*/
package ndarray

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrShape is generated when shapes are incompatible or malformed
	ErrShape = errors.New("shape mismatch")

	// ErrDType is generated when element types are incompatible or unknown
	ErrDType = errors.New("dtype mismatch")

	// ErrAxis is generated when an axis or index is out of range
	ErrAxis = errors.New("axis out of range")
)

// Array is a strided view of typed elements held in a byte slice
type Array struct {
	dtype   DType
	shape   []int
	strides []int
	offset  int
	buf     []byte
}

// colMajorStrides returns the element strides of a contiguous column-major array
func colMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i, n := range shape {
		strides[i] = acc
		acc *= n
	}
	return strides
}

// Prod is the product of the shape, i.e. the number of elements
func Prod(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func checkShape(shape []int) error {
	for _, n := range shape {
		if n < 0 {
			return errors.Wrapf(ErrShape, "negative dimension in %v", shape)
		}
	}
	return nil
}

// Zeros allocates a zero-filled contiguous array
func Zeros(dt DType, shape ...int) (Array, error) {
	if !dt.Valid() {
		return Array{}, errors.Wrapf(ErrDType, "unknown dtype %v", dt)
	}
	if err := checkShape(shape); err != nil {
		return Array{}, err
	}
	sh := append([]int{}, shape...)
	return Array{
		dtype:   dt,
		shape:   sh,
		strides: colMajorStrides(sh),
		buf:     make([]byte, Prod(sh)*dt.Size()),
	}, nil
}

// View wraps buf, which holds contiguous column-major elements, without copying it
func View(dt DType, shape []int, buf []byte) (Array, error) {
	if !dt.Valid() {
		return Array{}, errors.Wrapf(ErrDType, "unknown dtype %v", dt)
	}
	if err := checkShape(shape); err != nil {
		return Array{}, err
	}
	need := Prod(shape) * dt.Size()
	if len(buf) < need {
		return Array{}, errors.Wrapf(ErrShape, "buffer of %d bytes too small for %v %v", len(buf), shape, dt)
	}
	sh := append([]int{}, shape...)
	return Array{dtype: dt, shape: sh, strides: colMajorStrides(sh), buf: buf[:need]}, nil
}

// DType returns the element type
func (a Array) DType() DType {
	return a.dtype
}

// Shape returns a copy of the shape
func (a Array) Shape() []int {
	return append([]int{}, a.shape...)
}

// Strides returns a copy of the element strides
func (a Array) Strides() []int {
	return append([]int{}, a.strides...)
}

// NDim is the number of axes
func (a Array) NDim() int {
	return len(a.shape)
}

// Size is the number of elements
func (a Array) Size() int {
	return Prod(a.shape)
}

// IsNil is true for the zero Array, which has no dtype
func (a Array) IsNil() bool {
	return a.dtype == Invalid
}

func (a Array) String() string {
	return fmt.Sprintf("Array(%v, %v)", a.dtype, a.shape)
}

func (a Array) byteOffset(idx []int) int {
	off := a.offset
	for i, v := range idx {
		off += v * a.strides[i]
	}
	return off * a.dtype.Size()
}

func (a Array) checkIndex(idx []int) error {
	if len(idx) != len(a.shape) {
		return errors.Wrapf(ErrAxis, "%d indices for %d axes", len(idx), len(a.shape))
	}
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			return errors.Wrapf(ErrAxis, "index %d out of range for axis %d of size %d", v, i, a.shape[i])
		}
	}
	return nil
}

func (a Array) elem(idx []int) []byte {
	off := a.byteOffset(idx)
	return a.buf[off : off+a.dtype.Size()]
}

// At returns the element at idx as its native Go type (float32, int16, ...)
func (a Array) At(idx ...int) (interface{}, error) {
	if err := a.checkIndex(idx); err != nil {
		return nil, err
	}
	return load(a.elem(idx), a.dtype), nil
}

// Float64At returns the element at idx converted to float64.
// Complex elements yield their real part.
func (a Array) Float64At(idx ...int) (float64, error) {
	v, err := a.At(idx...)
	if err != nil {
		return 0, err
	}
	f, err := convert(v, Float64)
	if err != nil {
		return 0, err
	}
	return f.(float64), nil
}

// Set stores v at idx, converting it to the array dtype
func (a Array) Set(v interface{}, idx ...int) error {
	if err := a.checkIndex(idx); err != nil {
		return err
	}
	cv, err := convert(v, a.dtype)
	if err != nil {
		return err
	}
	store(a.elem(idx), a.dtype, cv)
	return nil
}

func (a Array) derive(shape, strides []int, offset int) Array {
	return Array{dtype: a.dtype, shape: shape, strides: strides, offset: offset, buf: a.buf}
}

func (a Array) checkAxis(axis int) error {
	if axis < 0 || axis >= len(a.shape) {
		return errors.Wrapf(ErrAxis, "axis %d for %d-d array", axis, len(a.shape))
	}
	return nil
}

// Flip reverses the order of elements along axis
func (a Array) Flip(axis int) (Array, error) {
	if err := a.checkAxis(axis); err != nil {
		return Array{}, err
	}
	strides := a.Strides()
	offset := a.offset
	if n := a.shape[axis]; n > 0 {
		offset += (n - 1) * strides[axis]
	}
	strides[axis] = -strides[axis]
	return a.derive(a.Shape(), strides, offset), nil
}

// SwapAxes interchanges two axes
func (a Array) SwapAxes(i, j int) (Array, error) {
	if err := a.checkAxis(i); err != nil {
		return Array{}, err
	}
	if err := a.checkAxis(j); err != nil {
		return Array{}, err
	}
	shape, strides := a.Shape(), a.Strides()
	shape[i], shape[j] = shape[j], shape[i]
	strides[i], strides[j] = strides[j], strides[i]
	return a.derive(shape, strides, a.offset), nil
}

// Transpose reverses the axis order
func (a Array) Transpose() Array {
	n := len(a.shape)
	shape, strides := make([]int, n), make([]int, n)
	for i := 0; i < n; i++ {
		shape[i] = a.shape[n-1-i]
		strides[i] = a.strides[n-1-i]
	}
	return a.derive(shape, strides, a.offset)
}

// MoveAxis moves axis src to position dst, keeping the order of the others
func (a Array) MoveAxis(src, dst int) (Array, error) {
	if err := a.checkAxis(src); err != nil {
		return Array{}, err
	}
	if err := a.checkAxis(dst); err != nil {
		return Array{}, err
	}
	shape := make([]int, 0, len(a.shape))
	strides := make([]int, 0, len(a.shape))
	for i := range a.shape {
		if i == src {
			continue
		}
		shape = append(shape, a.shape[i])
		strides = append(strides, a.strides[i])
	}
	shape = append(shape[:dst], append([]int{a.shape[src]}, shape[dst:]...)...)
	strides = append(strides[:dst], append([]int{a.strides[src]}, strides[dst:]...)...)
	return a.derive(shape, strides, a.offset), nil
}

// Index fixes axis at position i, dropping the axis from the result
func (a Array) Index(axis, i int) (Array, error) {
	if err := a.checkAxis(axis); err != nil {
		return Array{}, err
	}
	if i < 0 || i >= a.shape[axis] {
		return Array{}, errors.Wrapf(ErrAxis, "index %d out of range for axis %d of size %d", i, axis, a.shape[axis])
	}
	shape := append(a.Shape()[:axis], a.shape[axis+1:]...)
	strides := append(a.Strides()[:axis], a.strides[axis+1:]...)
	return a.derive(shape, strides, a.offset+i*a.strides[axis]), nil
}

// NewAxis inserts a singleton axis before position pos (pos == NDim appends)
func (a Array) NewAxis(pos int) (Array, error) {
	if pos < 0 || pos > len(a.shape) {
		return Array{}, errors.Wrapf(ErrAxis, "new axis position %d for %d-d array", pos, len(a.shape))
	}
	shape := append(a.Shape()[:pos], append([]int{1}, a.shape[pos:]...)...)
	strides := append(a.Strides()[:pos], append([]int{0}, a.strides[pos:]...)...)
	return a.derive(shape, strides, a.offset), nil
}

// IsContiguous is true when the elements are laid out column-major without gaps.
// Strides of singleton axes are not significant.
func (a Array) IsContiguous() bool {
	acc := 1
	for i, n := range a.shape {
		if n == 0 {
			return true
		}
		if n != 1 && a.strides[i] != acc {
			return false
		}
		acc *= n
	}
	return true
}

// forEach visits every index of shape in column-major order
func forEach(shape []int, fn func(idx []int)) {
	n := Prod(shape)
	if n == 0 {
		return
	}
	idx := make([]int, len(shape))
	for k := 0; k < n; k++ {
		fn(idx)
		for ax := 0; ax < len(idx); ax++ {
			idx[ax]++
			if idx[ax] < shape[ax] {
				break
			}
			idx[ax] = 0
		}
	}
}

// Copy copies the elements of src into dst, which must share its shape and dtype
func Copy(dst, src Array) error {
	if dst.dtype != src.dtype {
		return errors.Wrapf(ErrDType, "copy %v into %v", src.dtype, dst.dtype)
	}
	if !sameShape(dst.shape, src.shape) {
		return errors.Wrapf(ErrShape, "copy %v into %v", src.shape, dst.shape)
	}
	forEach(src.shape, func(idx []int) {
		copy(dst.elem(idx), src.elem(idx))
	})
	return nil
}

// Clone returns a contiguous copy that shares nothing with a
func (a Array) Clone() Array {
	out, _ := Zeros(a.dtype, a.shape...)
	if len(out.buf) == 0 {
		return out
	}
	if a.IsContiguous() {
		sz := a.dtype.Size()
		start := a.offset * sz
		copy(out.buf, a.buf[start:start+len(out.buf)])
		return out
	}
	Copy(out, a)
	return out
}

// Contiguous returns a itself if it is already contiguous, otherwise a contiguous copy
func (a Array) Contiguous() Array {
	if a.IsContiguous() && a.offset == 0 {
		return a
	}
	return a.Clone()
}

// Bytes returns the column-major element bytes.  It aliases the backing
// storage when the array is contiguous.
func (a Array) Bytes() []byte {
	if a.IsNil() {
		return nil
	}
	if a.Size() == 0 {
		return []byte{}
	}
	if a.IsContiguous() {
		sz := a.dtype.Size()
		start := a.offset * sz
		return a.buf[start : start+a.Size()*sz]
	}
	return a.Clone().buf
}

// Astype converts every element to dt, returning a new contiguous array
func (a Array) Astype(dt DType) (Array, error) {
	if dt == a.dtype {
		return a.Clone(), nil
	}
	out, err := Zeros(dt, a.shape...)
	if err != nil {
		return Array{}, err
	}
	var cerr error
	forEach(a.shape, func(idx []int) {
		if cerr != nil {
			return
		}
		v, err := convert(load(a.elem(idx), a.dtype), dt)
		if err != nil {
			cerr = err
			return
		}
		store(out.elem(idx), dt, v)
	})
	return out, cerr
}

// Equal is true if a and b have the same dtype and shape and bitwise identical elements
func Equal(a, b Array) bool {
	if a.dtype != b.dtype || !sameShape(a.shape, b.shape) {
		return false
	}
	eq := true
	forEach(a.shape, func(idx []int) {
		if eq && !bytes.Equal(a.elem(idx), b.elem(idx)) {
			eq = false
		}
	})
	return eq
}

// Stack stacks same-shaped frames along a new leading axis
func Stack(frames []Array) (Array, error) {
	if len(frames) == 0 {
		return Array{}, errors.Wrap(ErrShape, "no frames to stack")
	}
	first := frames[0]
	out, err := Zeros(first.dtype, append([]int{len(frames)}, first.shape...)...)
	if err != nil {
		return Array{}, err
	}
	for k, f := range frames {
		dst, err := out.Index(0, k)
		if err != nil {
			return Array{}, err
		}
		if err := Copy(dst, f); err != nil {
			return Array{}, errors.Wrapf(err, "frame %d", k)
		}
	}
	return out, nil
}

// SameShape is true if the two shapes are identical
func SameShape(a, b []int) bool {
	return sameShape(a, b)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
