package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nasa-jpl/gomilk/conf"
	"github.com/nasa-jpl/gomilk/shm"
	"github.com/nasa-jpl/gomilk/shmdir"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "milktool.yml"
)

func root() {
	str := `milktool inspects and manipulates the image streams and parameter trees of a
shared memory directory.

Usage:
	milktool <command> [arguments]

Commands:
	ls [glob]                          list streams
	info <name>                        metadata and keywords of a stream
	create <name> <shape> <dtype>      create a zeroed stream, e.g. create cam 64x64 u2
	rm <name>                          destroy a stream
	kw <name> <key> <value> [comment]  set a keyword
	tofits <name> <file>               save the current frame
	fromfits <file> <name>             load a FITS file into a new stream
	record <name> [n]                  record n frames as one FITS cube
	monitor <name> [length]            publish counter steps to <name>_timers
	fps <subcommand>                   see milktool fps help
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `milktool is amenable to configuration via its .yaml file, ` + ConfigFileName + `.
The stream directory is ShmDir, overridden by the MILK_SHM_DIR environment
variable.  Symcode and TriDim configure how streams are opened; recordings go
under Recorder.Root.

Shapes are given as 64x64 or 64,64.  Data types accept numpy style short names
(u1, i2, f4, c8, ...) or long names (uint8, float32, ...).`
	fmt.Println(str)
}

func loadconf() conf.Config {
	c, err := conf.Load(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

// env is what every command needs from the configuration
type env struct {
	cfg  conf.Config
	dir  shmdir.Dir
	opts shm.Options
}

func setup() env {
	c := loadconf()
	dir, err := c.Dir()
	if err != nil {
		log.Fatal(err)
	}
	t, err := c.Which3D()
	if err != nil {
		log.Fatal(err)
	}
	opts := shm.DefaultOptions()
	opts.Symcode = c.Symcode
	opts.TriDim = t
	return env{cfg: c, dir: dir, opts: opts}
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = conf.Write(f, c); err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	if err := conf.Write(os.Stdout, loadconf()); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("milktool version %v\n", Version)
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		log.Fatalf("usage: milktool %s", usage)
	}
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	rest := args[2:]
	var err error
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "version":
		pversion()
		return
	case "ls":
		glob := ""
		if len(rest) > 0 {
			glob = rest[0]
		}
		err = ls(os.Stdout, setup(), glob)
	case "info":
		need(rest, 1, "info <name>")
		err = info(os.Stdout, setup(), rest[0])
	case "create":
		need(rest, 3, "create <name> <shape> <dtype>")
		err = create(setup(), rest[0], rest[1], rest[2])
	case "rm":
		need(rest, 1, "rm <name>")
		err = rm(setup(), rest[0])
	case "kw":
		need(rest, 3, "kw <name> <key> <value> [comment]")
		err = setKeyword(setup(), rest[0], rest[1], rest[2], rest[3:]...)
	case "tofits":
		need(rest, 2, "tofits <name> <file>")
		err = shm.ToFITS(setup().dir, rest[0], rest[1])
	case "fromfits":
		need(rest, 2, "fromfits <file> <name>")
		err = fromFITS(setup(), rest[0], rest[1])
	case "record":
		need(rest, 1, "record <name> [n]")
		err = record(setup(), rest)
	case "monitor":
		need(rest, 1, "monitor <name> [length]")
		err = monitorStream(setup(), rest)
	case "fps":
		err = fpsMain(os.Stdout, setup(), rest)
	default:
		log.Fatal("unknown command")
	}
	if err != nil {
		log.Fatal(err)
	}
}
