package spectra

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/tascan/generichttp"
)

// HTTPWrapper exposes the outlier policies of a Settings over HTTP
type HTTPWrapper struct {
	Settings *Settings

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper with routes
// GET/POST /{path} where path is "probe" or "dA", and GET /config
func NewHTTPWrapper(s *Settings) HTTPWrapper {
	w := HTTPWrapper{Settings: s}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/{path}"}:  w.GetPolicy,
		{Method: http.MethodPost, Path: "/{path}"}: w.SetPolicy,
		{Method: http.MethodGet, Path: "/config"}:  w.GetConfig,
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetPolicy returns the probe or ΔA outlier policy
func (h HTTPWrapper) GetPolicy(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "path") {
	case "probe":
		generichttp.ReplyJSON(w, h.Settings.ProbePolicy())
	case "dA":
		generichttp.ReplyJSON(w, h.Settings.DeltaAPolicy())
	default:
		http.Error(w, "path must be probe or dA", http.StatusNotFound)
	}
}

// SetPolicy replaces the probe or ΔA outlier policy with the JSON body
func (h HTTPWrapper) SetPolicy(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")
	if path != "probe" && path != "dA" {
		http.Error(w, "path must be probe or dA", http.StatusNotFound)
		return
	}
	p := OutlierPolicy{}
	err := json.NewDecoder(r.Body).Decode(&p)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.Threshold < 0 {
		http.Error(w, "threshold must be non-negative", http.StatusBadRequest)
		return
	}
	if path == "probe" {
		h.Settings.SetProbePolicy(p)
	} else {
		h.Settings.SetDeltaAPolicy(p)
	}
	w.WriteHeader(http.StatusOK)
}

// GetConfig returns the full reducer configuration, without the dark vector
func (h HTTPWrapper) GetConfig(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, h.Settings.Snapshot())
}
