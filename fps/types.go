package fps

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Type is the declared type of a parameter.  The zero value is invalid.
type Type uint8

const (
	// TypeString holds a UTF-8 string
	TypeString Type = iota + 1
	// TypeBool holds a boolean
	TypeBool
	// TypeInt32 holds a signed 32-bit integer
	TypeInt32
	// TypeInt64 holds a signed 64-bit integer
	TypeInt64
	// TypeUint32 holds an unsigned 32-bit integer
	TypeUint32
	// TypeUint64 holds an unsigned 64-bit integer
	TypeUint64
	// TypeFloat32 holds a single precision float
	TypeFloat32
	// TypeFloat64 holds a double precision float
	TypeFloat64
)

var typeNames = map[Type]string{
	TypeString:  "string",
	TypeBool:    "bool",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeUint32:  "uint32",
	TypeUint64:  "uint64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
}

// Valid is true for the eight declared types
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType converts a name such as "float32" into a Type
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidType, "%q", s)
}

type kind int

const (
	kindNone kind = iota
	kindString
	kindBool
	kindInt
	kindFloat
)

func (t Type) kind() kind {
	switch t {
	case TypeString:
		return kindString
	case TypeBool:
		return kindBool
	case TypeInt32, TypeInt64, TypeUint32, TypeUint64:
		return kindInt
	case TypeFloat32, TypeFloat64:
		return kindFloat
	}
	return kindNone
}

// Flag is a bit set controlling visibility, editability and status of a
// parameter.  Flags are recorded but not enforced by Set.
type Flag uint64

const (
	FlagActive Flag = 1 << iota
	FlagUsed
	FlagVisible
	FlagWrite
	FlagWriteConf
	FlagWriteRun
	FlagWriteStatus
	FlagLog
	FlagSaveOnChange
	FlagSaveOnClose
	FlagFeedback
	FlagOnOff
	FlagError

	flagMask = FlagError<<1 - 1
)

const (
	// DefaultInput is for parameters set by the operator
	DefaultInput = FlagActive | FlagUsed | FlagVisible | FlagWrite | FlagWriteConf | FlagSaveOnChange | FlagFeedback

	// DefaultOutput is for parameters computed by the process
	DefaultOutput = FlagActive | FlagUsed | FlagVisible

	// DefaultStatus is for parameters reporting process status
	DefaultStatus = FlagActive | FlagUsed | FlagVisible | FlagWriteStatus
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagActive, "ACTIVE"},
	{FlagUsed, "USED"},
	{FlagVisible, "VISIBLE"},
	{FlagWrite, "WRITE"},
	{FlagWriteConf, "WRITECONF"},
	{FlagWriteRun, "WRITERUN"},
	{FlagWriteStatus, "WRITESTATUS"},
	{FlagLog, "LOG"},
	{FlagSaveOnChange, "SAVEONCHANGE"},
	{FlagSaveOnClose, "SAVEONCLOSE"},
	{FlagFeedback, "FEEDBACK"},
	{FlagOnOff, "ONOFF"},
	{FlagError, "ERROR"},
}

// Valid is true if only known bits are set
func (f Flag) Valid() bool {
	return f&^flagMask == 0
}

func (f Flag) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ flagMask; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(rest)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// coerce converts v to the Go type of t: string, bool, int32, int64,
// uint32, uint64, float32 or float64.  Integers are range checked; floats are
// never silently truncated into integer parameters.
func coerce(t Type, v interface{}) (interface{}, error) {
	switch t.kind() {
	case kindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case kindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case kindInt:
		i, u, neg, ok := integer(v)
		if !ok {
			break
		}
		switch t {
		case TypeInt32:
			if neg && i >= math.MinInt32 || !neg && u <= math.MaxInt32 {
				return int32(i), nil
			}
		case TypeInt64:
			if neg || u <= math.MaxInt64 {
				return i, nil
			}
		case TypeUint32:
			if !neg && u <= math.MaxUint32 {
				return uint32(u), nil
			}
		case TypeUint64:
			if !neg {
				return u, nil
			}
		}
		return nil, errors.Wrapf(ErrOutOfRange, "%v does not fit %v", v, t)
	case kindFloat:
		f, ok := float(v)
		if !ok {
			break
		}
		if t == TypeFloat32 {
			return float32(f), nil
		}
		return f, nil
	default:
		return nil, errors.Wrapf(ErrInvalidType, "%v", t)
	}
	return nil, errors.Wrapf(ErrTypeMismatch, "%T for a %v parameter", v, t)
}

// integer splits v into its signed and unsigned readings.  neg is true when
// the value is below zero, in which case only i is meaningful.
func integer(v interface{}) (i int64, u uint64, neg, ok bool) {
	switch x := v.(type) {
	case int:
		i = int64(x)
	case int8:
		i = int64(x)
	case int16:
		i = int64(x)
	case int32:
		i = int64(x)
	case int64:
		i = x
	case uint:
		return int64(x), uint64(x), false, true
	case uint8:
		return int64(x), uint64(x), false, true
	case uint16:
		return int64(x), uint64(x), false, true
	case uint32:
		return int64(x), uint64(x), false, true
	case uint64:
		return int64(x), x, false, true
	default:
		return 0, 0, false, false
	}
	return i, uint64(i), i < 0, true
}

func float(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if i, u, neg, ok := integer(v); ok {
		if neg {
			return float64(i), true
		}
		return float64(u), true
	}
	return 0, false
}
