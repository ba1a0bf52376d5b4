package ndarray

import (
	"fmt"
	"strings"
)

// DType is an element datatype.  The numeric values match the ImageStreamIO
// datatype codes so they can be stored verbatim in a stream header.
type DType uint8

const (
	// Invalid is the zero value and is never a legal element type
	Invalid DType = 0
	// Uint8 is an unsigned 8-bit integer
	Uint8 DType = 1
	// Int8 is a signed 8-bit integer
	Int8 DType = 2
	// Uint16 is an unsigned 16-bit integer
	Uint16 DType = 3
	// Int16 is a signed 16-bit integer
	Int16 DType = 4
	// Uint32 is an unsigned 32-bit integer
	Uint32 DType = 5
	// Int32 is a signed 32-bit integer
	Int32 DType = 6
	// Uint64 is an unsigned 64-bit integer
	Uint64 DType = 7
	// Int64 is a signed 64-bit integer
	Int64 DType = 8
	// Float32 is an IEEE754 single
	Float32 DType = 9
	// Float64 is an IEEE754 double
	Float64 DType = 10
	// Complex64 is a pair of singles
	Complex64 DType = 11
	// Complex128 is a pair of doubles
	Complex128 DType = 12
)

var dtypeNames = map[DType]string{
	Uint8:      "uint8",
	Int8:       "int8",
	Uint16:     "uint16",
	Int16:      "int16",
	Uint32:     "uint32",
	Int32:      "int32",
	Uint64:     "uint64",
	Int64:      "int64",
	Float32:    "float32",
	Float64:    "float64",
	Complex64:  "complex64",
	Complex128: "complex128",
}

// Size returns the size of one element in bytes, or zero for an invalid type
func (d DType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	}
	return 0
}

// Valid is true if d is one of the known element types
func (d DType) Valid() bool {
	return d.Size() != 0
}

// IsComplex is true for the complex element types
func (d DType) IsComplex() bool {
	return d == Complex64 || d == Complex128
}

// IsFloat is true for the real floating point element types
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsSigned is true for the signed integer element types
func (d DType) IsSigned() bool {
	return d == Int8 || d == Int16 || d == Int32 || d == Int64
}

// IsUnsigned is true for the unsigned integer element types
func (d DType) IsUnsigned() bool {
	return d == Uint8 || d == Uint16 || d == Uint32 || d == Uint64
}

func (d DType) String() string {
	if s, ok := dtypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// ParseDType converts a name such as "float32" or "f4" into a DType
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "u1", "b":
		return Uint8, nil
	case "i1":
		return Int8, nil
	case "u2":
		return Uint16, nil
	case "i2":
		return Int16, nil
	case "u4":
		return Uint32, nil
	case "i4", "int":
		return Int32, nil
	case "u8":
		return Uint64, nil
	case "i8":
		return Int64, nil
	case "f4", "float", "single":
		return Float32, nil
	case "f8", "double":
		return Float64, nil
	case "c8":
		return Complex64, nil
	case "c16":
		return Complex128, nil
	}
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return Invalid, fmt.Errorf("unknown dtype %q", s)
}
