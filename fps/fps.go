/*Package fps provides FPS, a named, persistent, typed parameter store with two
run states used to control a long running process.

Each FPS lives in <root>/<name>.fps.shm as a msgpack record.  Reads take a
shared flock on the file and read-modify-write operations an exclusive one, so
any number of processes may hold handles on the same FPS.
*/
package fps

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/shmdir"
	"github.com/nasa-jpl/gomilk/util"
)

var (
	// ErrDoesNotExist is generated when opening an FPS that was never created
	ErrDoesNotExist = errors.New("FPS does not exist")

	// ErrAlreadyExists is generated when creating an FPS that exists, without force
	ErrAlreadyExists = errors.New("FPS already exists")

	// ErrInvalidKey is generated by access to a parameter that was never added
	ErrInvalidKey = errors.New("key not in FPS")

	// ErrDuplicateKey is generated when adding a parameter twice
	ErrDuplicateKey = errors.New("key already in FPS")

	// ErrInvalidType is generated for a type outside the eight parameter types
	ErrInvalidType = errors.New("invalid parameter type")

	// ErrTypeMismatch is generated when setting a value of the wrong kind
	ErrTypeMismatch = errors.New("value does not match the parameter type")

	// ErrOutOfRange is generated when an integer does not fit the parameter type
	ErrOutOfRange = errors.New("value out of range")

	// ErrDisconnected is generated when a disconnected handle is used
	ErrDisconnected = errors.New("FPS handle is disconnected")
)

// NameKey is the parameter every FPS is created with
const NameKey = "Name"

// PollInterval is the default sleep between run state checks
const PollInterval = 10 * time.Millisecond

// Options configure an FPS handle
type Options struct {
	// Launcher starts and stops the controlled process.  With none the
	// control calls only raise and clear the signals.
	Launcher Launcher

	// PollInterval is the sleep between run state checks, PollInterval when zero
	PollInterval time.Duration

	// PostCreate is called by Create once the FPS exists and Name is set
	PostCreate func(*FPS) error

	// Logger receives warnings.  log.Default() is used when nil.
	Logger *log.Logger
}

// FPS is a handle on a parameter store.  Its methods may be used from
// multiple goroutines.
type FPS struct {
	name string
	path string
	gen  string
	opts Options
	log  *log.Logger

	mu           sync.Mutex
	disconnected bool
}

func newHandle(dir shmdir.Dir, name string, opts Options) (*FPS, error) {
	bare, err := dir.CheckName(name, shmdir.FPSSuffix)
	if err != nil {
		return nil, err
	}
	path, err := dir.FPSPath(bare)
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = PollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &FPS{name: bare, path: path, opts: opts, log: logger}, nil
}

// Open attaches to an existing FPS
func Open(dir shmdir.Dir, name string, opts Options) (*FPS, error) {
	p, err := newHandle(dir, name, opts)
	if err != nil {
		return nil, err
	}
	r, err := load(p.path)
	if err != nil {
		return nil, err
	}
	p.gen = r.Generation
	return p, nil
}

// Create makes a new FPS holding only the Name parameter, then runs the
// PostCreate hook.  With force an existing FPS is removed first.
func Create(dir shmdir.Dir, name string, force bool, opts Options) (*FPS, error) {
	p, err := newHandle(dir, name, opts)
	if err != nil {
		return nil, err
	}
	if force {
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	r := record{Name: p.name}
	if err = publish(p.path, &r); err != nil {
		return nil, err
	}
	p.gen = r.Generation
	if err = p.AddParam(NameKey, "FPS name", TypeString, FlagActive|FlagUsed|FlagVisible); err != nil {
		return nil, err
	}
	if err = p.Set(NameKey, p.name); err != nil {
		return nil, err
	}
	if opts.PostCreate != nil {
		if err = opts.PostCreate(p); err != nil {
			return nil, errors.Wrapf(err, "post create of %s", p.name)
		}
	}
	return p, nil
}

// Name is the bare FPS name
func (p *FPS) Name() string { return p.name }

// Path is the file backing the FPS
func (p *FPS) Path() string { return p.path }

// Generation identifies the FPS instance this handle was opened on.  It
// changes when the FPS is destroyed and created again.
func (p *FPS) Generation() string { return p.gen }

func (p *FPS) check() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return errors.Wrapf(ErrDisconnected, "%s", p.name)
	}
	return nil
}

func (p *FPS) load() (record, error) {
	if err := p.check(); err != nil {
		return record{}, err
	}
	return load(p.path)
}

func (p *FPS) update(fn func(*record) error) error {
	if err := p.check(); err != nil {
		return err
	}
	return update(p.path, fn)
}

// Stale is true when the file at Path is no longer the FPS this handle was
// opened on
func (p *FPS) Stale() bool {
	r, err := load(p.path)
	return err != nil || r.Generation != p.gen
}

// AddParam registers a new parameter holding the zero value of typ
func (p *FPS) AddParam(key, comment string, typ Type, flags Flag) error {
	if !typ.Valid() {
		return errors.Wrapf(ErrInvalidType, "%s: %v", key, typ)
	}
	if key == "" {
		return errors.Wrap(ErrInvalidKey, "empty key")
	}
	return p.update(func(r *record) error {
		if _, ok := r.find(key); ok {
			return errors.Wrapf(ErrDuplicateKey, "%s in %s", key, p.name)
		}
		r.Entries = append(r.Entries, entry{Key: key, Comment: comment, Type: typ, Flags: flags})
		return nil
	})
}

// Get returns the value of key with the Go type of its declared type
func (p *FPS) Get(key string) (interface{}, error) {
	e, err := p.Entry(key)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Set changes the value of key.  Integers are accepted for float parameters;
// other kinds must match the declared type.
func (p *FPS) Set(key string, v interface{}) error {
	return p.update(func(r *record) error {
		i, ok := r.find(key)
		if !ok {
			return errors.Wrapf(ErrInvalidKey, "set %s in %s", key, p.name)
		}
		e := &r.Entries[i]
		x, err := coerce(e.Type, v)
		if err != nil {
			return errors.Wrapf(err, "set %s in %s", key, p.name)
		}
		e.Value.set(e.Type, x)
		return nil
	})
}

// Entry describes one parameter
type Entry struct {
	Key     string
	Comment string
	Type    Type
	Flags   Flag
	Value   interface{}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s (%v) = %v  [%v] %s", e.Key, e.Type, e.Value, e.Flags, e.Comment)
}

func (e entry) export() Entry {
	return Entry{Key: e.Key, Comment: e.Comment, Type: e.Type, Flags: e.Flags, Value: e.Value.get(e.Type)}
}

// Entry returns the parameter registered as key
func (p *FPS) Entry(key string) (Entry, error) {
	r, err := p.load()
	if err != nil {
		return Entry{}, err
	}
	i, ok := r.find(key)
	if !ok {
		return Entry{}, errors.Wrapf(ErrInvalidKey, "get %s in %s", key, p.name)
	}
	return r.Entries[i].export(), nil
}

// Entries returns every parameter in registration order
func (p *FPS) Entries() ([]Entry, error) {
	r, err := p.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.export()
	}
	return out, nil
}

// Keys returns the parameter names in registration order
func (p *FPS) Keys() ([]string, error) {
	r, err := p.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Key
	}
	return out, nil
}

// Types maps each parameter name to its declared type
func (p *FPS) Types() (map[string]Type, error) {
	r, err := p.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Type, len(r.Entries))
	for _, e := range r.Entries {
		out[e.Key] = e.Type
	}
	return out, nil
}

// SetError raises or clears the error flag of key.  RunStart refuses to
// start while any parameter is flagged.
func (p *FPS) SetError(key string, on bool) error {
	return p.update(func(r *record) error {
		i, ok := r.find(key)
		if !ok {
			return errors.Wrapf(ErrInvalidKey, "flag %s in %s", key, p.name)
		}
		if on {
			r.Entries[i].Flags |= FlagError
		} else {
			r.Entries[i].Flags &^= FlagError
		}
		return nil
	})
}

// Tags are the keywords the discovery manager filters on
func (p *FPS) Tags() ([]string, error) {
	r, err := p.load()
	if err != nil {
		return nil, err
	}
	return r.Tags, nil
}

// SetTags replaces the tags.  Repeated tags are kept once.
func (p *FPS) SetTags(tags ...string) error {
	return p.update(func(r *record) error {
		r.Tags = util.UniqueString(tags)
		return nil
	})
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

func (p *FPS) String() string {
	conf, _ := p.ConfRunning()
	run, _ := p.RunRunning()
	return fmt.Sprintf("%s | CONF: %s | RUN: %s", p.name, yn(conf), yn(run))
}

// Disconnect releases the handle.  Later calls fail with ErrDisconnected.
func (p *FPS) Disconnect() {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
}

// Destroy removes the backing file and disconnects.  Other handles on the
// FPS are not told.
func (p *FPS) Destroy() error {
	if err := p.check(); err != nil {
		return err
	}
	err := os.Remove(p.path)
	p.Disconnect()
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrDoesNotExist, "%s", p.name)
	}
	return err
}
