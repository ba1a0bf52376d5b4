package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/conf"
	"github.com/nasa-jpl/gomilk/fps"
	"github.com/nasa-jpl/gomilk/isio"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/server"
	"github.com/nasa-jpl/gomilk/shm"
)

func TestMain(m *testing.M) {
	shm.RecreateDelay = time.Millisecond
	os.Exit(m.Run())
}

type fixture struct {
	app  *App
	mux  http.Handler
	data ndarray.Array
}

func setup(t *testing.T) fixture {
	t.Helper()
	c := conf.Default()
	c.ShmDir = t.TempDir()
	c.Recorder.Root = t.TempDir()
	c.Recorder.Prefix = "cam"
	a, err := NewApp(c, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	data, err := ndarray.FromSlice([]float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, 3, 4)
	require.NoError(t, err)
	o := a.opts
	o.NbKw = 4
	s, err := shm.Create(a.dir, "cam", data, o)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return fixture{app: a, mux: BuildMux(a), data: data}
}

func (f fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestStreamRoutes(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodGet, "/streams", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["cam"]`, w.Body.String())

	w = f.do(http.MethodGet, "/streams/cam", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"shape":[3,4]`)
	assert.Contains(t, w.Body.String(), `"dtype":"float32"`)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/streams/nope", "").Code)
}

func TestKeywordRoutes(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodPost, "/streams/cam/keywords",
		`[{"name":"tint","value":0.001,"comment":"exposure"},{"name":"NDR","value":4},{"name":"MODE","value":"fast"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/streams/cam/keywords", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"tint": {"value": 0.001, "comment": "exposure"},
		"NDR":  {"value": 4, "comment": ""},
		"MODE": {"value": "fast", "comment": ""}
	}`, w.Body.String())

	w = f.do(http.MethodGet, "/streams/cam/exposure", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"f64":0.001}`, w.Body.String())
	w = f.do(http.MethodGet, "/streams/cam/framerate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"f64":0}`, w.Body.String())

	s, err := f.app.stream("cam")
	require.NoError(t, err)
	kws, err := s.GetKeywords()
	require.NoError(t, err)
	assert.Equal(t, int64(4), kws["NDR"])

	w = f.do(http.MethodPost, "/streams/cam/keywords", `[{"name":"A","value":1},{"name":"B","value":2}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = f.do(http.MethodPost, "/streams/cam/keywords", `[{"name":"tint","value":[1,2]}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	w = f.do(http.MethodPost, "/streams/cam/keywords", `[{"name":"`+strings.Repeat("n", 17)+`","value":1}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestCounterAndFITS(t *testing.T) {
	f := setup(t)
	s, err := f.app.stream("cam")
	require.NoError(t, err)
	before, err := s.Counter()
	require.NoError(t, err)
	require.NoError(t, s.SetData(f.data, false))

	w := f.do(http.MethodGet, "/streams/cam/counter", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"uint":`+strconv.FormatUint(before+1, 10)+`}`, w.Body.String())

	w = f.do(http.MethodGet, "/streams/cam/age", "")
	require.Equal(t, http.StatusOK, w.Code)
	var age server.FloatT
	require.NoError(t, json.NewDecoder(w.Body).Decode(&age))
	assert.GreaterOrEqual(t, age.F64, 0.)
	assert.Less(t, age.F64, 60.)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/streams/nope/age", "").Code)

	w = f.do(http.MethodGet, "/streams/cam/fits", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/fits", w.Header().Get("Content-Type"))
	got, err := shm.MultiRead(w.Body, s.Symcode(), s.TriDim())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, ndarray.Equal(f.data, got[0]))

	w = f.do(http.MethodGet, "/streams/cam/fits?wait=true&timeout=10ms", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Stale"))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/streams/cam/fits?wait=maybe", "").Code)
}

func TestConcurrentWaitsEachGetTheFrame(t *testing.T) {
	f := setup(t)
	type result struct {
		code  int
		stale string
	}
	done := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			w := f.do(http.MethodGet, "/streams/cam/fits?wait=true&timeout=5", "")
			done <- result{w.Code, w.Header().Get("X-Stale")}
		}()
	}

	path, err := f.app.dir.ImagePath("cam")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		img, err := isio.Open(path)
		if err != nil {
			return false
		}
		defer img.Close()
		k, err := img.SemWaitIndex(0)
		return err == nil && k == 2
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	s, err := f.app.stream("cam")
	require.NoError(t, err)
	require.NoError(t, s.SetData(f.data, false))
	for i := 0; i < 2; i++ {
		res := <-done
		assert.Equal(t, http.StatusOK, res.code)
		assert.Empty(t, res.stale)
	}
	assert.Equal(t, -1, s.SemIndex())
}

func TestRecordRoute(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodPost, "/streams/cam/record", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "cam000000.fits")
	matches, err := filepath.Glob(filepath.Join(f.app.rec.Root, "*", "cam*.fits"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestDestroyRoute(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/streams/cam", "").Code)
	assert.JSONEq(t, `[]`, f.do(http.MethodGet, "/streams", "").Body.String())
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/streams/cam", "").Code)
}

func TestFPSRoutes(t *testing.T) {
	f := setup(t)
	p, err := fps.Create(f.app.dir, "loop", false, fps.Options{})
	require.NoError(t, err)
	require.NoError(t, p.AddParam("gain", "loop gain", fps.TypeFloat64, fps.DefaultInput))
	require.NoError(t, p.AddParam("iters", "iterations", fps.TypeInt32, fps.DefaultInput))
	require.NoError(t, f.app.mgr.RescanAll())

	assert.JSONEq(t, `["loop"]`, f.do(http.MethodGet, "/fps", "").Body.String())

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/fps/loop/param/gain", `{"value":0.5}`).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/fps/loop/param/iters", `{"value":12}`).Code)
	assert.JSONEq(t, `{"value":0.5}`, f.do(http.MethodGet, "/fps/loop/param/gain", "").Body.String())
	v, err := p.Get("iters")
	require.NoError(t, err)
	assert.Equal(t, int32(12), v)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/fps/loop/param/iters", `{"value":"many"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/fps/loop/param/iters", `{"value":1.5}`).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/fps/loop/param/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/fps/nope", "").Code)

	w := f.do(http.MethodGet, "/fps/loop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"gain"`)
	assert.Contains(t, w.Body.String(), `"runRunning":false`)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/fps/loop/control/conf_start", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/fps/loop/control/conf_stop", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/fps/loop/control/reboot", "").Code)

	require.NoError(t, p.SetError("gain", true))
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/fps/loop/control/run_start", "").Code)
}

func TestLockRefusesWrites(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/lock", `{"bool":true}`).Code)
	assert.Equal(t, http.StatusLocked, f.do(http.MethodPost, "/streams/cam/keywords", `[]`).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/streams/cam/keywords", "").Code)
}

func TestMetrics(t *testing.T) {
	f := setup(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, f.app.Register(reg))
	f.do(http.MethodGet, "/streams", "")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["milk_stream_frames_total"])
	assert.True(t, names["milk_http_requests_total"])
	assert.True(t, names["milk_fps_count"])
}
