package main

import (
	"fmt"
	"time"

	"github.com/theckman/yacspin"
)

// spinner wraps a yacspin spinner, falling back to plain prints when the
// spinner cannot start (no terminal)
type spinner struct {
	s *yacspin.Spinner
}

func startSpinner(msg string) spinner {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil || s.Start() != nil {
		fmt.Println(msg)
		return spinner{}
	}
	return spinner{s}
}

func (sp spinner) stop(msg string) {
	if sp.s == nil {
		fmt.Println(msg)
		return
	}
	sp.s.StopMessage(msg)
	sp.s.Stop()
}

func (sp spinner) fail(msg string) {
	if sp.s == nil {
		fmt.Println(msg)
		return
	}
	sp.s.StopFailMessage(msg)
	sp.s.StopFail()
}
