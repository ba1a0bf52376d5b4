package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/gomilk/server/middleware/locker"
)

func TestLockerRefusesWrites(t *testing.T) {
	l := locker.New()
	r := chi.NewRouter()
	r.Use(l.Check)
	locker.Inject(r, l)
	r.Get("/streams", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/streams", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	do := func(method, path, body string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/streams", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lock", `{"bool":true}`))
	assert.True(t, l.Locked())
	assert.Equal(t, http.StatusLocked, do(http.MethodPost, "/streams", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/streams", ""))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/lock", `{"bool":false}`))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/streams", ""))
}
