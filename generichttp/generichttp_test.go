package generichttp

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
)

func TestSubMuxSanitize(t *testing.T) {
	assert.Equal(t, "/omc/stage", SubMuxSanitize("omc/stage/"))
	assert.Equal(t, "/omc/stage", SubMuxSanitize("/omc/stage/*"))
}

func TestRouteTableBindAndList(t *testing.T) {
	var got float64
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/pos"}:  GetFloat(func() (float64, error) { return 1.5, nil }),
		{Method: http.MethodPost, Path: "/pos"}: SetFloat(func(f float64) error { got = f; return nil }),
		{Method: http.MethodPost, Path: "/bad"}: Trigger(func() error { return errors.New("nope") }),
	}
	assert.Equal(t, []string{"GET /pos", "POST /bad", "POST /pos"}, rt.Endpoints())

	r := chi.NewRouter()
	rt.Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pos", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"f64":1.5}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pos", strings.NewReader(`{"f64":2.25}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.25, got)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pos", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bad", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestReplyJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	ReplyJSON(w, FloatT{F64: 2})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"f64": 2}`, w.Body.String())

	w = httptest.NewRecorder()
	ReplyJSON(w, FloatT{F64: math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), `"f64"`)
}
