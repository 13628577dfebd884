package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/tascan/generichttp"
)

// HTTPWrapper exposes the catalogue read-only
type HTTPWrapper struct {
	Catalog *Catalog

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper with routes GET / and GET /{id}
func NewHTTPWrapper(c *Catalog) HTTPWrapper {
	w := HTTPWrapper{Catalog: c}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/"}:     w.List,
		{Method: http.MethodGet, Path: "/{id}"}: w.Get,
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// List returns recent runs, ?limit=n
func (h HTTPWrapper) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		var err error
		limit, err = strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	runs, err := h.Catalog.Runs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, runs)
}

// Get returns one run with its files
func (h HTTPWrapper) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.Catalog.Get(chi.URLParam(r, "id"))
	if err == ErrNotFound {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, run)
}
