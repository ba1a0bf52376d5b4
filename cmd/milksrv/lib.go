package main

import (
	"bytes"
	"encoding/json"
	"go/types"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/gomilk/conf"
	"github.com/nasa-jpl/gomilk/fps"
	"github.com/nasa-jpl/gomilk/imgrec"
	"github.com/nasa-jpl/gomilk/isio"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/server"
	"github.com/nasa-jpl/gomilk/server/middleware/locker"
	"github.com/nasa-jpl/gomilk/shm"
	"github.com/nasa-jpl/gomilk/shmdir"
	"github.com/nasa-jpl/gomilk/util"
)

// App holds the state shared by the handlers: the stream directory, cached
// stream handles, the FPS manager and the frame recorder
type App struct {
	dir  shmdir.Dir
	opts shm.Options
	mgr  *fps.Manager
	rec  *imgrec.Recorder
	lock *locker.Locker
	log  *log.Logger

	requests *requestCounter

	mu      sync.Mutex
	streams map[string]*shm.SHM
}

// NewApp builds an App from a configuration
func NewApp(c conf.Config, logger *log.Logger) (*App, error) {
	dir, err := c.Dir()
	if err != nil {
		return nil, err
	}
	if err = dir.Ensure(); err != nil {
		return nil, err
	}
	t, err := c.Which3D()
	if err != nil {
		return nil, err
	}
	opts := shm.DefaultOptions()
	opts.Symcode = c.Symcode
	opts.TriDim = t
	opts.Logger = logger
	mgr, err := fps.NewManager(dir, "*", "", fps.Options{PollInterval: c.PollInterval, Logger: logger})
	if err != nil {
		return nil, err
	}
	rec := imgrec.New(c.Recorder.Root, c.Recorder.Prefix)
	rec.Incr()
	return &App{
		dir:      dir,
		opts:     opts,
		mgr:      mgr,
		rec:      rec,
		lock:     locker.New(),
		log:      logger,
		requests: newRequestCounter(),
		streams:  map[string]*shm.SHM{},
	}, nil
}

// Close detaches every cached stream and FPS
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, s := range a.streams {
		s.Close()
		delete(a.streams, k)
	}
	a.mgr.PurgeCache()
}

// stream returns the cached handle on name, opening it on first use
func (a *App) stream(name string) (*shm.SHM, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.streams[name]; ok {
		return s, nil
	}
	s, err := shm.Open(a.dir, name, a.opts)
	if err != nil {
		return nil, err
	}
	a.streams[name] = s
	return s, nil
}

// forget drops and closes the cached handle on name
func (a *App) forget(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.streams[name]; ok {
		s.Close()
		delete(a.streams, name)
	}
}

// status maps library errors to HTTP status codes
func status(err error) int {
	switch {
	case errors.Is(err, shm.ErrNotFound), errors.Is(err, fps.ErrDoesNotExist),
		errors.Is(err, fps.ErrInvalidKey), errors.Is(err, shm.ErrRelink):
		return http.StatusNotFound
	case errors.Is(err, fps.ErrTypeMismatch), errors.Is(err, fps.ErrOutOfRange),
		errors.Is(err, shmdir.ErrOutsideRoot), errors.Is(err, shmdir.ErrNested),
		errors.Is(err, shmdir.ErrEmptyName), errors.Is(err, isio.ErrKeywordCapacity),
		errors.Is(err, isio.ErrKeywordName), errors.Is(err, isio.ErrKeywordValue):
		return http.StatusBadRequest
	}
	var ce *fps.ControlError
	if errors.As(err, &ce) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, shm.ErrRelink) {
		a.forget(chi.URLParam(r, "name"))
	}
	code := status(err)
	if code == http.StatusInternalServerError {
		a.log.Println(err)
	}
	http.Error(w, err.Error(), code)
}

// decodeScalar converts a JSON number to int64, uint64 or float64 and
// passes strings and bools through
func decodeScalar(raw json.RawMessage) (interface{}, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if n, ok := v.(json.Number); ok {
		return util.ParseNumber(n.String())
	}
	return v, nil
}

// streamMeta is the JSON form of a stream's metadata
type streamMeta struct {
	Name         string    `json:"name"`
	Shape        []int     `json:"shape"`
	WireShape    []int     `json:"wireShape"`
	DType        string    `json:"dtype"`
	NbKw         int       `json:"nbkw"`
	Location     int       `json:"location"`
	Shared       bool      `json:"shared"`
	Inode        uint64    `json:"inode"`
	Cnt0         uint64    `json:"cnt0"`
	Cnt1         uint64    `json:"cnt1"`
	CreationTime time.Time `json:"creationTime"`
	WriteTime    time.Time `json:"writeTime"`
	NbSem        int       `json:"nbsem"`
}

func (a *App) listStreams(w http.ResponseWriter, r *http.Request) {
	names, err := a.dir.Glob(r.URL.Query().Get("glob"), shmdir.ImageSuffix)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.EncodeAndRespond(w, names)
}

func (a *App) getMeta(w http.ResponseWriter, r *http.Request) {
	s, err := a.stream(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	md, err := s.Metadata()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.EncodeAndRespond(w, streamMeta{
		Name:         md.Name,
		Shape:        s.Shape(),
		WireShape:    md.Shape,
		DType:        md.DType.String(),
		NbKw:         md.NbKw,
		Location:     md.Location,
		Shared:       md.Shared,
		Inode:        md.Inode,
		Cnt0:         md.Cnt0,
		Cnt1:         md.Cnt1,
		CreationTime: md.CreationTime,
		WriteTime:    md.WriteTime,
		NbSem:        md.NbSem,
	})
}

func (a *App) getCounter(w http.ResponseWriter, r *http.Request) {
	s, err := a.stream(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cnt, err := s.Counter()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.HumanPayload{T: types.Uint64, Uint: cnt}.EncodeAndRespond(w, r)
}

// getFloat serves a float property of the named stream as {"f64": value}
func (a *App) getFloat(prop func(*shm.SHM) (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := a.stream(chi.URLParam(r, "name"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		server.GetFloat(func() (float64, error) { return prop(s) })(w, r)
	}
}

// writeAge is the number of seconds since the last write to s
func writeAge(s *shm.SHM) (float64, error) {
	md, err := s.Metadata()
	if err != nil {
		return 0, err
	}
	return time.Since(md.WriteTime).Seconds(), nil
}

func (a *App) destroy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s, err := a.stream(name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.mu.Lock()
	delete(a.streams, name)
	a.mu.Unlock()
	if err = s.Destroy(); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type keywordT struct {
	Name    string          `json:"name"`
	Value   json.RawMessage `json:"value"`
	Comment string          `json:"comment"`
}

func (a *App) getKeywords(w http.ResponseWriter, r *http.Request) {
	s, err := a.stream(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	type kv struct {
		Value   interface{} `json:"value"`
		Comment string      `json:"comment"`
	}
	kws, err := s.GetKeywordsWithComments()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make(map[string]kv, len(kws))
	for k, e := range kws {
		out[k] = kv{e.Value, e.Comment}
	}
	server.EncodeAndRespond(w, out)
}

func (a *App) setKeywords(w http.ResponseWriter, r *http.Request) {
	s, err := a.stream(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var in []keywordT
	err = json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kws := make([]shm.Keyword, len(in))
	for i, k := range in {
		v, err := decodeScalar(k.Value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		kws[i] = shm.Keyword{Name: k.Name, Value: v, Comment: k.Comment}
	}
	if err = s.SetKeywords(kws...); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func readOptions(r *http.Request) (shm.ReadOptions, error) {
	var ro shm.ReadOptions
	q := r.URL.Query()
	if s := q.Get("wait"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return ro, err
		}
		ro.Wait = b
	}
	if s := q.Get("timeout"); s != "" {
		d, err := util.ParseTimeout(s)
		if err != nil {
			return ro, err
		}
		ro.Timeout = d
	}
	return ro, nil
}

// getFITS serves the current frame.  A waiting request gets a handle of its
// own so that concurrent waiters each hold a semaphore.
func (a *App) getFITS(w http.ResponseWriter, r *http.Request) {
	ro, err := readOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var s *shm.SHM
	if ro.Wait {
		s, err = shm.Open(a.dir, chi.URLParam(r, "name"), a.opts)
		if err == nil {
			defer s.Close()
		}
	} else {
		s, err = a.stream(chi.URLParam(r, "name"))
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	data, err := s.GetData(ro)
	if err != nil && !errors.Is(err, shm.ErrStale) {
		a.fail(w, r, err)
		return
	}
	if err != nil {
		w.Header().Set("X-Stale", "true")
	}
	w.Header().Set("Content-Type", "application/fits")
	err = shm.MultiWrite(w, []ndarray.Array{data}, s.Symcode(), s.TriDim())
	if err != nil {
		a.fail(w, r, err)
	}
}

func (a *App) record(w http.ResponseWriter, r *http.Request) {
	s, err := a.stream(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	fn, err := a.rec.RecordStream(s)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.HumanPayload{T: types.String, String: fn}.EncodeAndRespond(w, r)
}

func (a *App) listFPS(w http.ResponseWriter, r *http.Request) {
	server.EncodeAndRespond(w, a.mgr.Names())
}

type entryT struct {
	Key     string      `json:"key"`
	Comment string      `json:"comment"`
	Type    string      `json:"type"`
	Flags   string      `json:"flags"`
	Value   interface{} `json:"value"`
}

func (a *App) getFPS(w http.ResponseWriter, r *http.Request) {
	p, err := a.mgr.Find(chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := p.Entries()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	confRun, err := p.ConfRunning()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	runRun, err := p.RunRunning()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	tags, err := p.Tags()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := struct {
		Name        string   `json:"name"`
		Tags        []string `json:"tags"`
		ConfRunning bool     `json:"confRunning"`
		RunRunning  bool     `json:"runRunning"`
		Entries     []entryT `json:"entries"`
	}{Name: p.Name(), Tags: tags, ConfRunning: confRun, RunRunning: runRun}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryT{e.Key, e.Comment, e.Type.String(), e.Flags.String(), e.Value})
	}
	server.EncodeAndRespond(w, out)
}

type valueT struct {
	Value json.RawMessage `json:"value"`
}

func (a *App) getParam(w http.ResponseWriter, r *http.Request) {
	v, err := a.mgr.Get(chi.URLParam(r, "name"), chi.URLParam(r, "key"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	server.EncodeAndRespond(w, struct {
		Value interface{} `json:"value"`
	}{v})
}

func (a *App) setParam(w http.ResponseWriter, r *http.Request) {
	var in valueT
	err := json.NewDecoder(r.Body).Decode(&in)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := decodeScalar(in.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = a.mgr.Set(chi.URLParam(r, "name"), chi.URLParam(r, "key"), v); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *App) control(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var timeout time.Duration
	if s := r.URL.Query().Get("timeout"); s != "" {
		d, err := util.ParseTimeout(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		timeout = d
	}
	var err error
	switch op := chi.URLParam(r, "op"); op {
	case fps.OpConfStart.String():
		err = a.mgr.ConfStart(name, timeout)
	case fps.OpConfStop.String():
		err = a.mgr.ConfStop(name, timeout)
	case fps.OpRunStart.String():
		err = a.mgr.RunStart(name, timeout)
	case fps.OpRunStop.String():
		err = a.mgr.RunStop(name, timeout)
	default:
		http.Error(w, "unknown control operation "+op, http.StatusNotFound)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// BuildMux builds the router serving a
func BuildMux(a *App) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(a.requests.Middleware)
	root.Use(a.lock.Check)
	locker.Inject(root, a.lock)
	imgrec.NewHTTPWrapper(a.rec).Inject(root)
	root.Handle("/metrics", promhttp.Handler())

	root.Route("/streams", func(r chi.Router) {
		r.Get("/", a.listStreams)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", a.getMeta)
			r.Delete("/", a.destroy)
			r.Get("/counter", a.getCounter)
			r.Get("/age", a.getFloat(writeAge))
			r.Get("/exposure", a.getFloat((*shm.SHM).ExposureTime))
			r.Get("/framerate", a.getFloat((*shm.SHM).FrameRate))
			r.Get("/keywords", a.getKeywords)
			r.Post("/keywords", a.setKeywords)
			r.Get("/fits", a.getFITS)
			r.Post("/record", a.record)
		})
	})
	root.Route("/fps", func(r chi.Router) {
		r.Get("/", a.listFPS)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", a.getFPS)
			r.Get("/param/{key}", a.getParam)
			r.Post("/param/{key}", a.setParam)
			r.Post("/control/{op}", a.control)
		})
	})
	return root
}
