package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nasa-jpl/gomilk/fps"
	"github.com/nasa-jpl/gomilk/isio"
	"github.com/nasa-jpl/gomilk/shmdir"
)

// requestCounter counts served requests by method and status
type requestCounter struct {
	vec *prometheus.CounterVec
}

func newRequestCounter() *requestCounter {
	return &requestCounter{vec: prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "milk",
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method and status code.",
	}, []string{"method", "code"})}
}

// Middleware counts every request passing through it
func (c *requestCounter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		c.vec.WithLabelValues(r.Method, strconv.Itoa(code)).Inc()
	})
}

// dirCollector reports the streams and FPSs of a directory at scrape time
type dirCollector struct {
	dir shmdir.Dir
	mgr *fps.Manager

	frames    *prometheus.Desc
	lastWrite *prometheus.Desc
	running   *prometheus.Desc
}

func newDirCollector(dir shmdir.Dir, mgr *fps.Manager) *dirCollector {
	return &dirCollector{
		dir: dir,
		mgr: mgr,
		frames: prometheus.NewDesc("milk_stream_frames_total",
			"Frames written to the stream since creation (cnt0).", []string{"stream"}, nil),
		lastWrite: prometheus.NewDesc("milk_stream_last_write_age_seconds",
			"Seconds since the stream was last written.", []string{"stream"}, nil),
		running: prometheus.NewDesc("milk_fps_running",
			"1 if the conf or run process of the FPS is running.", []string{"fps", "process"}, nil),
	}
}

func (c *dirCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.lastWrite
	ch <- c.running
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *dirCollector) Collect(ch chan<- prometheus.Metric) {
	names, _ := c.dir.Glob("*", shmdir.ImageSuffix)
	now := time.Now()
	for _, name := range names {
		path, err := c.dir.ImagePath(name)
		if err != nil {
			continue
		}
		img, err := isio.Open(path)
		if err != nil {
			continue // destroyed since the glob
		}
		md, err := img.Metadata()
		img.Close()
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(md.Cnt0), name)
		if !md.WriteTime.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastWrite, prometheus.GaugeValue, now.Sub(md.WriteTime).Seconds(), name)
		}
	}
	for _, name := range c.mgr.Names() {
		p, err := c.mgr.Find(name)
		if err != nil {
			continue
		}
		if conf, err := p.ConfRunning(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, b2f(conf), name, "conf")
		}
		if run, err := p.RunRunning(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, b2f(run), name, "run")
		}
	}
}

// Register adds the metrics of a to reg, or to the default registry when reg is nil
func (a *App) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(a.requests.vec); err != nil {
		return err
	}
	if err := reg.Register(newDirCollector(a.dir, a.mgr)); err != nil {
		return err
	}
	return reg.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Subsystem: "milk",
			Name:      "fps_count",
			Help:      "Number of FPSs known to the server.",
		},
		func() float64 { return float64(len(a.mgr.Names())) },
	))
}
