package fps

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/shmdir"
)

// Manager discovers FPSs by name glob and caches handles on them
type Manager struct {
	dir  shmdir.Dir
	opts Options
	log  *log.Logger

	mu       sync.Mutex
	nameGlob string
	kwGlob   string
	cache    map[string]*FPS
}

// NewManager returns a manager over the FPSs of dir matching nameGlob whose
// tags match kwGlob.  An empty or "*" kwGlob does not filter.
func NewManager(dir shmdir.Dir, nameGlob, kwGlob string, opts Options) (*Manager, error) {
	if nameGlob == "" {
		nameGlob = "*"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{dir: dir, opts: opts, log: logger, nameGlob: nameGlob, kwGlob: kwGlob, cache: map[string]*FPS{}}
	return m, m.RescanAll()
}

// RescanAll rebuilds the cache with the current globs
func (m *Manager) RescanAll() error {
	m.mu.Lock()
	ng, kg := m.nameGlob, m.kwGlob
	m.mu.Unlock()
	return m.Rescan(ng, kg)
}

// Rescan disconnects every cached handle and rebuilds the cache, keeping
// nameGlob and kwGlob for later rescans.  FPSs that cannot be read are logged
// and left out.
func (m *Manager) Rescan(nameGlob, kwGlob string) error {
	names, err := m.dir.Glob(nameGlob, shmdir.FPSSuffix)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nameGlob, m.kwGlob = nameGlob, kwGlob
	m.purge()
	for _, name := range names {
		p, err := Open(m.dir, name, m.opts)
		if err != nil {
			// ErrDoesNotExist means it was removed since the glob
			if !errors.Is(err, ErrDoesNotExist) {
				m.log.Printf("FPS manager: skipping %s: %v", name, err)
			}
			continue
		}
		ok, err := matchTags(p, kwGlob)
		if err != nil {
			m.log.Printf("FPS manager: skipping %s: %v", name, err)
			p.Disconnect()
			continue
		}
		if !ok {
			p.Disconnect()
			continue
		}
		m.cache[name] = p
	}
	return nil
}

func matchTags(p *FPS, kwGlob string) (bool, error) {
	if kwGlob == "" || kwGlob == "*" {
		return true, nil
	}
	tags, err := p.Tags()
	if err != nil {
		return false, err
	}
	for _, t := range tags {
		if ok, _ := filepath.Match(kwGlob, t); ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) purge() {
	for _, p := range m.cache {
		p.Disconnect()
	}
	m.cache = map[string]*FPS{}
}

// PurgeCache disconnects and forgets every cached handle
func (m *Manager) PurgeCache() {
	m.mu.Lock()
	m.purge()
	m.mu.Unlock()
}

// Names returns the cached FPS names, sorted
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.cache))
	for k := range m.cache {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Find returns the handle on name, opening it if it is not cached or points
// at an FPS that has since been recreated
func (m *Manager) Find(name string) (*FPS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.cache[name]; ok {
		if !p.Stale() {
			return p, nil
		}
		p.Disconnect()
		delete(m.cache, name)
	}
	p, err := Open(m.dir, name, m.opts)
	if err != nil {
		return nil, err
	}
	m.cache[p.Name()] = p
	return p, nil
}

// Get reads key of FPS name
func (m *Manager) Get(name, key string) (interface{}, error) {
	p, err := m.Find(name)
	if err != nil {
		return nil, err
	}
	return p.Get(key)
}

// Set writes key of FPS name
func (m *Manager) Set(name, key string, v interface{}) error {
	p, err := m.Find(name)
	if err != nil {
		return err
	}
	return p.Set(key, v)
}

func (m *Manager) control(name string, op Op, timeout time.Duration) error {
	p, err := m.Find(name)
	if err != nil {
		return err
	}
	return p.control(op, timeout)
}

// ConfStart starts the configuration process of FPS name
func (m *Manager) ConfStart(name string, timeout time.Duration) error {
	return m.control(name, OpConfStart, timeout)
}

// ConfStop stops the configuration process of FPS name
func (m *Manager) ConfStop(name string, timeout time.Duration) error {
	return m.control(name, OpConfStop, timeout)
}

// RunStart starts the run process of FPS name
func (m *Manager) RunStart(name string, timeout time.Duration) error {
	return m.control(name, OpRunStart, timeout)
}

// RunStop stops the run process of FPS name
func (m *Manager) RunStop(name string, timeout time.Duration) error {
	return m.control(name, OpRunStop, timeout)
}

// Watch rescans whenever an FPS file appears in or leaves the root directory,
// until ctx ends.  onRescan, if not nil, is called after every rescan.
func (m *Manager) Watch(ctx context.Context, onRescan func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err = w.Add(m.dir.Root); err != nil {
		return errors.Wrapf(err, "watching %s", m.dir.Root)
	}
	const mask = fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&mask == 0 || !strings.HasSuffix(ev.Name, shmdir.FPSSuffix) {
				continue
			}
			err := m.RescanAll()
			if err != nil {
				m.log.Printf("FPS manager rescan after %v: %v", ev, err)
			}
			if onRescan != nil {
				onRescan(err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
