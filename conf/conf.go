/*Package conf loads process configuration: defaults, then an optional YAML
file, then the environment.  The stream root directory is read here once and
passed down as a shmdir.Dir; nothing else reads the environment.
*/
package conf

import (
	"io"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/shmdir"
)

// EnvShmDir overrides ShmDir
const EnvShmDir = "MILK_SHM_DIR"

// Recorder configures where recordings go
type Recorder struct {
	// Root is the folder under which dated folders are made
	Root string `yaml:"Root"`

	// Prefix starts every file name
	Prefix string `yaml:"Prefix"`
}

// Config is the configuration shared by the programs of this module
type Config struct {
	// ShmDir is the directory streams and FPSs live in
	ShmDir string `yaml:"ShmDir"`

	// Addr is the listen address of milksrv
	Addr string `yaml:"Addr"`

	// Symcode and TriDim are used when opening streams
	Symcode int `yaml:"Symcode"`
	TriDim  int `yaml:"TriDim"`

	// PollInterval paces monitors and FPS state polling
	PollInterval time.Duration `yaml:"PollInterval"`

	Recorder Recorder `yaml:"Recorder"`
}

// Default is the configuration used when nothing overrides it
func Default() Config {
	return Config{
		ShmDir:       shmdir.DefaultRoot,
		Addr:         ":8000",
		Symcode:      4,
		TriDim:       int(imgshape.Last2Last),
		PollInterval: 10 * time.Millisecond,
		Recorder:     Recorder{Root: ".", Prefix: "frame"},
	}
}

func envKey(s string) string {
	if s == EnvShmDir {
		return "ShmDir"
	}
	return ""
}

// Load layers the defaults, the YAML file at path and the environment.  A
// missing file is not an error.
func Load(path string) (Config, error) {
	var c Config
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return c, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") { // file missing, who cares
				return c, errors.Wrapf(err, "loading %s", path)
			}
		}
	}
	if err := k.Load(env.Provider("MILK_", ".", envKey), nil); err != nil {
		return c, err
	}
	err := k.Unmarshal("", &c)
	return c, err
}

// Dir returns the stream root directory
func (c Config) Dir() (shmdir.Dir, error) {
	return shmdir.New(c.ShmDir)
}

// Which3D returns TriDim as a 3D state
func (c Config) Which3D() (imgshape.Which3DState, error) {
	t := imgshape.Which3DState(c.TriDim)
	if !t.Valid() {
		return t, errors.Wrapf(imgshape.ErrTriDim, "TriDim %d", c.TriDim)
	}
	return t, nil
}

// Write encodes c as YAML
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
