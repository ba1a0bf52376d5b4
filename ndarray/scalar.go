package ndarray

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
)

// elements are held in native byte order, exactly as they sit in a stream segment

func load(b []byte, dt DType) interface{} {
	p := unsafe.Pointer(&b[0])
	switch dt {
	case Uint8:
		return b[0]
	case Int8:
		return int8(b[0])
	case Uint16:
		return *(*uint16)(p)
	case Int16:
		return *(*int16)(p)
	case Uint32:
		return *(*uint32)(p)
	case Int32:
		return *(*int32)(p)
	case Uint64:
		return *(*uint64)(p)
	case Int64:
		return *(*int64)(p)
	case Float32:
		return *(*float32)(p)
	case Float64:
		return *(*float64)(p)
	case Complex64:
		return *(*complex64)(p)
	case Complex128:
		return *(*complex128)(p)
	}
	return nil
}

// store writes v, which must already have the Go type matching dt
func store(b []byte, dt DType, v interface{}) {
	p := unsafe.Pointer(&b[0])
	switch dt {
	case Uint8:
		b[0] = v.(uint8)
	case Int8:
		b[0] = byte(v.(int8))
	case Uint16:
		*(*uint16)(p) = v.(uint16)
	case Int16:
		*(*int16)(p) = v.(int16)
	case Uint32:
		*(*uint32)(p) = v.(uint32)
	case Int32:
		*(*int32)(p) = v.(int32)
	case Uint64:
		*(*uint64)(p) = v.(uint64)
	case Int64:
		*(*int64)(p) = v.(int64)
	case Float32:
		*(*float32)(p) = v.(float32)
	case Float64:
		*(*float64)(p) = v.(float64)
	case Complex64:
		*(*complex64)(p) = v.(complex64)
	case Complex128:
		*(*complex128)(p) = v.(complex128)
	}
}

// number is the widest representation of a scalar.  Integers keep their
// full 64-bit precision instead of passing through float64.
type number struct {
	isInt, isUint, isCplx bool
	i                     int64
	u                     uint64
	c                     complex128
}

func toNumber(v interface{}) (number, error) {
	switch x := v.(type) {
	case uint8:
		return number{isUint: true, u: uint64(x)}, nil
	case int8:
		return number{isInt: true, i: int64(x)}, nil
	case uint16:
		return number{isUint: true, u: uint64(x)}, nil
	case int16:
		return number{isInt: true, i: int64(x)}, nil
	case uint32:
		return number{isUint: true, u: uint64(x)}, nil
	case int32:
		return number{isInt: true, i: int64(x)}, nil
	case uint64:
		return number{isUint: true, u: x}, nil
	case int64:
		return number{isInt: true, i: x}, nil
	case uint:
		return number{isUint: true, u: uint64(x)}, nil
	case int:
		return number{isInt: true, i: int64(x)}, nil
	case float32:
		return number{c: complex(float64(x), 0)}, nil
	case float64:
		return number{c: complex(x, 0)}, nil
	case complex64:
		return number{isCplx: true, c: complex128(x)}, nil
	case complex128:
		return number{isCplx: true, c: x}, nil
	case bool:
		if x {
			return number{isInt: true, i: 1}, nil
		}
		return number{isInt: true}, nil
	}
	return number{}, errors.Wrapf(ErrDType, "unsupported scalar %T", v)
}

func (n number) int64() int64 {
	switch {
	case n.isInt:
		return n.i
	case n.isUint:
		return int64(n.u)
	}
	return int64(real(n.c))
}

func (n number) uint64() uint64 {
	switch {
	case n.isInt:
		return uint64(n.i)
	case n.isUint:
		return n.u
	}
	r := real(n.c)
	if r < 0 {
		return uint64(int64(r))
	}
	if r >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(r)
}

func (n number) float64() float64 {
	switch {
	case n.isInt:
		return float64(n.i)
	case n.isUint:
		return float64(n.u)
	}
	return real(n.c)
}

func (n number) complex128() complex128 {
	if n.isInt || n.isUint {
		return complex(n.float64(), 0)
	}
	return n.c
}

// convert casts v to the Go type of dt with C-like semantics
func convert(v interface{}, dt DType) (interface{}, error) {
	n, err := toNumber(v)
	if err != nil {
		return nil, err
	}
	switch dt {
	case Uint8:
		return uint8(n.uint64()), nil
	case Int8:
		return int8(n.int64()), nil
	case Uint16:
		return uint16(n.uint64()), nil
	case Int16:
		return int16(n.int64()), nil
	case Uint32:
		return uint32(n.uint64()), nil
	case Int32:
		return int32(n.int64()), nil
	case Uint64:
		return n.uint64(), nil
	case Int64:
		return n.int64(), nil
	case Float32:
		return float32(n.float64()), nil
	case Float64:
		return n.float64(), nil
	case Complex64:
		return complex64(n.complex128()), nil
	case Complex128:
		return n.complex128(), nil
	}
	return nil, errors.Wrapf(ErrDType, "unknown dtype %v", dt)
}
