package imgrec_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gomilk/imgrec"
	"github.com/nasa-jpl/gomilk/imgshape"
	"github.com/nasa-jpl/gomilk/ndarray"
	"github.com/nasa-jpl/gomilk/shm"
)

func frame(t *testing.T) ndarray.Array {
	t.Helper()
	a, err := ndarray.FromSlice([]int16{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	return a
}

func TestRecordIncrementsFilenames(t *testing.T) {
	root := t.TempDir()
	rec := imgrec.New(root, "cam")
	p0, err := rec.Record([]ndarray.Array{frame(t)}, 0, imgshape.Last2Last)
	require.NoError(t, err)
	p1, err := rec.Record([]ndarray.Array{frame(t)}, 0, imgshape.Last2Last)
	require.NoError(t, err)
	assert.Equal(t, "cam000000.fits", filepath.Base(p0))
	assert.Equal(t, "cam000001.fits", filepath.Base(p1))
	assert.Equal(t, root, filepath.Dir(filepath.Dir(p0)))

	got, err := shm.ReadFITSFile(p1, 0, imgshape.Last2Last)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, ndarray.Equal(frame(t), got[0]))
}

func TestIncrResumesAfterExisting(t *testing.T) {
	root := t.TempDir()
	first := imgrec.New(root, "cam")
	for i := 0; i < 3; i++ {
		_, err := first.Record([]ndarray.Array{frame(t)}, 0, imgshape.Last2Last)
		require.NoError(t, err)
	}
	second := imgrec.New(root, "cam")
	second.Incr()
	assert.Equal(t, 3, second.Counter())
}

func TestHTTPWrapper(t *testing.T) {
	rec := imgrec.New(t.TempDir(), "cam")
	r := chi.NewRouter()
	imgrec.NewHTTPWrapper(rec).Inject(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w
	}
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/autowrite/prefix", `{"str":"wfs"}`).Code)
	assert.JSONEq(t, `{"str":"wfs"}`, do(http.MethodGet, "/autowrite/prefix", "").Body.String())
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/autowrite/enabled", `{"bool":true}`).Code)
	assert.True(t, rec.Enabled)
	assert.JSONEq(t, `{"int":0}`, do(http.MethodGet, "/autowrite/counter", "").Body.String())
}
