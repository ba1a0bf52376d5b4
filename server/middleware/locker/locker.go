// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/gomilk/server"
)

// Inject adds GET and POST /lock routes to a router which manipulate the locker
func Inject(r chi.Router, l *Locker) {
	r.Get("/lock", l.HTTPGet)
	r.Post("/lock", l.HTTPSet)
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of path fragments to not protect.  Only requests that can
// mutate state (anything other than GET and HEAD) are refused while locked.
type Locker struct {
	isLocked int32

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	atomic.StoreInt32(&l.isLocked, 1)
}

// Unlock the locker
func (l *Locker) Unlock() {
	atomic.StoreInt32(&l.isLocked, 0)
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return atomic.LoadInt32(&l.isLocked) == 1
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && r.Method != http.MethodGet && r.Method != http.MethodHead {
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	server.SetBool(func(b bool) error {
		if b {
			l.Lock()
		} else {
			l.Unlock()
		}
		return nil
	})(w, r)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
