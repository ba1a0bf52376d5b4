package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/nasa-jpl/gomilk/conf"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "milksrv.yml"
)

func root() {
	str := `milksrv exposes the image streams and parameter trees of one shared memory
directory over HTTP, so that clients in any language can read frames, edit
keywords and drive FPS processes without linking the stream library.

Usage:
	milksrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `milksrv is amenable to configuration via its .yaml file, ` + ConfigFileName + `.
For a primer on YAML, see https://yaml.org/start.html

The stream directory may also be set with the MILK_SHM_DIR environment
variable, which takes precedence over the file.

Routes:
	GET    /streams                      list of stream names
	GET    /streams/{name}               metadata
	DELETE /streams/{name}               destroy the stream
	GET    /streams/{name}/counter       {"uint": cnt0}
	GET    /streams/{name}/keywords      keywords with comments
	POST   /streams/{name}/keywords      merge [{"name","value","comment"}]
	GET    /streams/{name}/fits          current frame as FITS, ?wait=true&timeout=1s
	POST   /streams/{name}/record        save the current frame under the recorder root
	GET    /fps                          list of FPS names
	GET    /fps/{name}                   entries and run state
	GET    /fps/{name}/param/{key}       {"value": v}
	POST   /fps/{name}/param/{key}       {"value": v}
	POST   /fps/{name}/control/{op}      conf_start, conf_stop, run_start, run_stop, ?timeout=1s
	GET    /autowrite/...                recorder root, prefix, enabled and counter
	GET    /lock, POST /lock             refuse writes while locked
	GET    /metrics                      prometheus`
	fmt.Println(str)
}

func loadconf() conf.Config {
	c, err := conf.Load(ConfigFileName)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return c
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = conf.Write(f, c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := conf.Write(os.Stdout, c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("milksrv version %v\n", Version)
}

func run() {
	c := loadconf()
	a, err := NewApp(c, log.Default())
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		err := a.mgr.Watch(ctx, func(err error) {
			if err != nil {
				log.Println("FPS rescan failed:", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Println("FPS watch stopped:", err)
		}
	}()
	if err = a.Register(nil); err != nil {
		log.Fatal(err)
	}
	mux := BuildMux(a)
	log.Printf("serving %s, now listening for requests at %s", a.dir.Root, c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
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
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
