// Package imgrec contains an image recorder used to automatically save stream frames to disk.
package imgrec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/server"
	"github.com/nasa-jpl/gomilk/shm"
)

// Recorder records frame sequences as FITS files with incrementing filenames
// in yyyy-mm-dd subfolders.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled is a flag unused by this struct that allows consumers to disable its use in their code
	Enabled bool

	// now is replaced in tests
	now func() time.Time
}

// New returns a recorder writing under root with the given filename prefix
func New(root, prefix string) *Recorder {
	return &Recorder{Root: root, Prefix: prefix, now: time.Now}
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	t := now()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0o777)
	return fldr, err
}

// scan returns one past the highest counter already on disk
func (r *Recorder) scan(dn string) int {
	files, err := os.ReadDir(dn)
	if err != nil {
		return 0
	}
	count := -1
	for _, file := range files {
		fn := file.Name()
		if file.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count + 1
}

// Incr rescans the folder and moves the counter past the highest file on disk
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	dn, err := r.mkDir()
	if err != nil {
		return
	}
	if n := r.scan(dn); n > r.counter {
		r.counter = n
	}
}

// Counter returns the number the next file will carry
func (r *Recorder) Counter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// Record writes frames as one FITS file and returns its path.  A single frame
// is encoded with symmetry s and 3D layout t before writing.
func (r *Recorder) Record(frames []ndarray.Array, s int, t imgshape.Which3DState) (string, error) {
	var buf bytes.Buffer
	if err := shm.MultiWrite(&buf, frames, s, t); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if r.counter == 0 {
		r.counter = r.scan(fldr)
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	if err = os.WriteFile(fn, buf.Bytes(), 0o666); err != nil {
		return "", err
	}
	r.counter++
	return fn, nil
}

// RecordStream reads the current frame of a stream and records it
func (r *Recorder) RecordStream(st *shm.SHM) (string, error) {
	data, err := st.GetData(shm.ReadOptions{})
	if err != nil {
		return "", err
	}
	return r.Record([]ndarray.Array{data}, st.Symcode(), st.TriDim())
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it offers an Inject method allowing it to be mounted on a router
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func (h HTTPWrapper) setRoot(s string) error {
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = s
	rec.counter = 0
	rec.updateFolder()
	_, err := rec.mkDir()
	return err
}

func (h HTTPWrapper) setPrefix(s string) error {
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Prefix = s
	rec.counter = 0
	return nil
}

func (h HTTPWrapper) setEnabled(b bool) error {
	h.Recorder.mu.Lock()
	defer h.Recorder.mu.Unlock()
	h.Recorder.Enabled = b
	return nil
}

func (h HTTPWrapper) read(fcn func() string) func() (string, error) {
	return func() (string, error) {
		h.Recorder.mu.Lock()
		defer h.Recorder.mu.Unlock()
		return fcn(), nil
	}
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix
// and /autowrite/enabled to the router which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(r chi.Router) {
	rec := h.Recorder
	r.Post("/autowrite/root", server.SetString(h.setRoot))
	r.Get("/autowrite/root", server.GetString(h.read(func() string { return rec.Root })))
	r.Post("/autowrite/prefix", server.SetString(h.setPrefix))
	r.Get("/autowrite/prefix", server.GetString(h.read(func() string { return rec.Prefix })))
	r.Post("/autowrite/enabled", server.SetBool(h.setEnabled))
	r.Get("/autowrite/enabled", server.GetBool(func() (bool, error) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.Enabled, nil
	}))
	r.Get("/autowrite/counter", server.GetInt(func() (int, error) { return rec.Counter(), nil }))
}
