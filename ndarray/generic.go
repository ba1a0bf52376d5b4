package ndarray

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Element is the set of Go types an Array can hold
type Element interface {
	uint8 | int8 | uint16 | int16 | uint32 | int32 | uint64 | int64 |
		float32 | float64 | complex64 | complex128
}

// DTypeOf returns the DType holding elements of type T
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case int8:
		return Int8
	case uint16:
		return Uint16
	case int16:
		return Int16
	case uint32:
		return Uint32
	case int32:
		return Int32
	case uint64:
		return Uint64
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	}
	return Invalid
}

func asBytes[T Element](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	sz := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*sz)
}

// FromSlice copies data, given in column-major order, into a new array of shape.
// An empty shape makes a 0-d array holding one element.
func FromSlice[T Element](data []T, shape ...int) (Array, error) {
	dt := DTypeOf[T]()
	out, err := Zeros(dt, shape...)
	if err != nil {
		return Array{}, err
	}
	if len(data) != out.Size() {
		return Array{}, errors.Wrapf(ErrShape, "%d elements for shape %v", len(data), shape)
	}
	copy(out.buf, asBytes(data))
	return out, nil
}

// ToSlice returns the elements of a in column-major order.  T must match the dtype of a.
func ToSlice[T Element](a Array) ([]T, error) {
	dt := DTypeOf[T]()
	if dt != a.dtype {
		return nil, errors.Wrapf(ErrDType, "cannot read %v array as %v", a.dtype, dt)
	}
	out := make([]T, a.Size())
	copy(asBytes(out), a.Bytes())
	return out, nil
}
