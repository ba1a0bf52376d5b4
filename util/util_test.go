package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/gomilk/util"
)

func ExampleIntSliceToCSV() {
	fmt.Println(util.IntSliceToCSV([]int{64, 64, 10}))
	// Output: 64,64,10
}

func ExampleParseShape() {
	shape, _ := util.ParseShape("128x256")
	fmt.Println(shape)
	// Output: [128 256]
}

func TestParseShapeRoundTrip(t *testing.T) {
	inp := []int{1, 2, 3}
	out, err := util.ParseShape(util.IntSliceToCSV(inp))
	if err != nil {
		t.Fatal(err)
	}
	for i := range inp {
		if out[i] != inp[i] {
			t.Errorf("expected %d at position %d, got %d", inp[i], i, out[i])
		}
	}
}

func TestParseShapeErrors(t *testing.T) {
	for _, s := range []string{"4,a", "-1,3", "2.5"} {
		if _, err := util.ParseShape(s); err == nil {
			t.Errorf("expected an error parsing %q", s)
		}
	}
	out, err := util.ParseShape("")
	if err != nil || len(out) != 0 {
		t.Errorf("expected an empty shape, got %v %v", out, err)
	}
}

func TestUniqueString(t *testing.T) {
	inp := []string{"a", "b", "c", "a"}
	expected := []string{"a", "b", "c"}
	output := util.UniqueString(inp)
	if len(output) != len(expected) {
		t.Fatalf("expected %v got %v", expected, output)
	}
	for i := 0; i < len(output); i++ {
		if output[i] != expected[i] {
			t.Errorf("expected %s got %s", expected[i], output[i])
		}
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestParseTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"250ms": 250 * time.Millisecond,
		"2s":    2 * time.Second,
		"1.5":   1500 * time.Millisecond,
		" 3 ":   3 * time.Second,
		"0":     0,
	}
	for in, want := range cases {
		got, err := util.ParseTimeout(in)
		if err != nil {
			t.Errorf("ParseTimeout(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimeout(%q) = %v, expected %v", in, got, want)
		}
	}
	for _, in := range []string{"soon", "-1", ""} {
		if _, err := util.ParseTimeout(in); err == nil {
			t.Errorf("expected ParseTimeout(%q) to fail", in)
		}
	}
}

func TestParseNumber(t *testing.T) {
	cases := map[string]interface{}{
		"17":                   int64(17),
		"-3":                   int64(-3),
		"18446744073709551615": uint64(18446744073709551615),
		"2.5":                  2.5,
		"1e3":                  1000.0,
	}
	for in, want := range cases {
		got, err := util.ParseNumber(in)
		if err != nil {
			t.Fatalf("parsing %q: %v", in, err)
		}
		if got != want {
			t.Errorf("parsing %q: expected %v (%T), got %v (%T)", in, want, want, got, got)
		}
	}
	if _, err := util.ParseNumber("cam"); err == nil {
		t.Error("expected an error parsing a word")
	}
}
