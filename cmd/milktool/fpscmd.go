package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/fps"
	"github.com/nasa-jpl/gomilk/util"
)

const fpsUsage = `Usage:
	milktool fps <subcommand> [arguments]

Subcommands:
	ls [glob] [tag-glob]             list parameter trees and their run state
	show <name>                      every entry of one tree
	get <name> <key>                 one value
	set <name> <key> <value>         assign a value, converted to the entry type
	conf_start <name> [timeout]      raise the conf signal, wait for it to run
	conf_stop <name> [timeout]
	run_start <name> [timeout]
	run_stop <name> [timeout]
	rm <name>                        remove the tree`

// parseValue converts a command line argument to the Go type of a parameter of type t
func parseValue(t fps.Type, s string) (interface{}, error) {
	switch t {
	case fps.TypeString:
		return s, nil
	case fps.TypeBool:
		return strconv.ParseBool(s)
	case fps.TypeFloat32, fps.TypeFloat64:
		return strconv.ParseFloat(s, 64)
	}
	return util.ParseNumber(s)
}

func fpsMain(w io.Writer, e env, args []string) error {
	if len(args) == 0 || args[0] == "help" {
		fmt.Fprintln(w, fpsUsage)
		return nil
	}
	opts := fps.Options{PollInterval: e.cfg.PollInterval}
	sub, rest := strings.ToLower(args[0]), args[1:]
	if sub == "ls" {
		nameGlob, kwGlob := "*", ""
		if len(rest) > 0 {
			nameGlob = rest[0]
		}
		if len(rest) > 1 {
			kwGlob = rest[1]
		}
		mgr, err := fps.NewManager(e.dir, nameGlob, kwGlob, opts)
		if err != nil {
			return err
		}
		defer mgr.PurgeCache()
		for _, name := range mgr.Names() {
			p, err := mgr.Find(name)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, p)
		}
		return nil
	}
	if len(rest) == 0 {
		return errors.Errorf("fps %s needs an FPS name\n%s", sub, fpsUsage)
	}
	p, err := fps.Open(e.dir, rest[0], opts)
	if err != nil {
		return err
	}
	defer p.Disconnect()
	rest = rest[1:]

	switch sub {
	case "show":
		entries, err := p.Entries()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, p)
		for _, en := range entries {
			fmt.Fprintln(w, "  "+en.String())
		}
		return nil
	case "get":
		if len(rest) < 1 {
			return errors.New("usage: milktool fps get <name> <key>")
		}
		v, err := p.Get(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, v)
		return nil
	case "set":
		if len(rest) < 2 {
			return errors.New("usage: milktool fps set <name> <key> <value>")
		}
		en, err := p.Entry(rest[0])
		if err != nil {
			return err
		}
		v, err := parseValue(en.Type, rest[1])
		if err != nil {
			return errors.Wrapf(err, "%s is %v", rest[0], en.Type)
		}
		return p.Set(rest[0], v)
	case "rm":
		return p.Destroy()
	case "conf_start", "conf_stop", "run_start", "run_stop":
		var timeout time.Duration
		if len(rest) > 0 {
			if timeout, err = util.ParseTimeout(rest[0]); err != nil {
				return err
			}
		}
		return control(p, sub, timeout)
	}
	return errors.Errorf("unknown fps subcommand %q\n%s", sub, fpsUsage)
}

func control(p *fps.FPS, op string, timeout time.Duration) error {
	calls := map[string]func(time.Duration) error{
		fps.OpConfStart.String(): p.ConfStart,
		fps.OpConfStop.String():  p.ConfStop,
		fps.OpRunStart.String():  p.RunStart,
		fps.OpRunStop.String():   p.RunStop,
	}
	if timeout <= 0 {
		return calls[op](0)
	}
	sp := startSpinner(fmt.Sprintf("%s %s", op, p.Name()))
	if err := calls[op](timeout); err != nil {
		sp.fail(err.Error())
		return err
	}
	sp.stop(p.String())
	return nil
}
