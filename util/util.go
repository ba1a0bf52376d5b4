// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// IntSliceToCSV convets a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}

	return strings.Join(s, ",")
}

// ParseShape is the inverse of IntSliceToCSV, also accepting x as a separator.
// e.g., "64x64x10" => []int{64,64,10}
func ParseShape(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == 'x' || r == ' ' })
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, errors.Errorf("bad axis length %q in shape %q", f, s)
		}
		out[i] = n
	}
	return out, nil
}

// UniqueString returns the distinct strings of in, in order of first appearance
func UniqueString(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SecsToDuration converts a floating point number of seconds to a duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs * 1e9)
}

// ParseTimeout reads a Go duration such as "250ms", or a bare number of seconds
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("timeout %q is neither a duration nor a number of seconds", s)
	}
	if secs < 0 {
		return 0, errors.Errorf("timeout %q is negative", s)
	}
	return SecsToDuration(secs), nil
}

// ParseNumber reads s as an int64, a uint64 if it overflows int64, or a
// float64 when it carries a fraction or exponent
func ParseNumber(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, ".eEnN") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Errorf("%q is not a number", s)
	}
	return f, nil
}
