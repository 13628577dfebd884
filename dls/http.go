package dls

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nasa-jpl/tascan/generichttp"
)

// HTTPWrapper provides manual control of the stage over HTTP
type HTTPWrapper struct {
	Channel *Channel

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(c *Channel) HTTPWrapper {
	w := HTTPWrapper{Channel: c}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/pos"}:           w.GetPos,
		{Method: http.MethodPost, Path: "/pos"}:          w.SetPos,
		{Method: http.MethodGet, Path: "/reference"}:     w.GetReference,
		{Method: http.MethodPost, Path: "/reference"}:    w.SetReference,
		{Method: http.MethodPost, Path: "/reference/go"}: w.GoToReference,
		{Method: http.MethodGet, Path: "/frame"}:         w.GetFrame,
		{Method: http.MethodPost, Path: "/jog"}:          w.Jog,
		{Method: http.MethodPost, Path: "/initialize"}:   w.Initialize,
		{Method: http.MethodPost, Path: "/disable"}:      w.Disable,
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetPos returns the current position as {"f64": ps}
func (h HTTPWrapper) GetPos(w http.ResponseWriter, r *http.Request) {
	pos, err := h.Channel.GetPosition(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, generichttp.FloatT{F64: pos})
}

// SetPos moves to {"f64": ps}, relative if the query has relative=true
func (h HTTPWrapper) SetPos(w http.ResponseWriter, r *http.Request) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	relative := false
	if q := r.URL.Query().Get("relative"); q != "" {
		relative, err = strconv.ParseBool(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var pos float64
	if relative {
		pos, err = h.Channel.MoveRelative(r.Context(), f.F64)
	} else {
		pos, err = h.Channel.MoveAbsolute(r.Context(), f.F64)
	}
	if err != nil {
		code := http.StatusInternalServerError
		if _, ok := err.(*HardwareStateError); ok {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	generichttp.ReplyJSON(w, generichttp.FloatT{F64: pos})
}

// GetReference returns the reference position as {"f64": ps}
func (h HTTPWrapper) GetReference(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(func() (float64, error) {
		return h.Channel.GetReference(r.Context())
	})(w, r)
}

// SetReference makes the current position the reference
func (h HTTPWrapper) SetReference(w http.ResponseWriter, r *http.Request) {
	generichttp.Trigger(func() error {
		return h.Channel.SetReference(r.Context())
	})(w, r)
}

// GoToReference homes the stage and blocks until it arrives
func (h HTTPWrapper) GoToReference(w http.ResponseWriter, r *http.Request) {
	f, err := h.Channel.MoveToReference(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, f)
}

// GetFrame returns the reference and position
func (h HTTPWrapper) GetFrame(w http.ResponseWriter, r *http.Request) {
	f, err := h.Channel.GetFrame(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.ReplyJSON(w, f)
}

// Jog moves by JogStep in the direction of {"int": ±1}
func (h HTTPWrapper) Jog(w http.ResponseWriter, r *http.Request) {
	generichttp.SetInt(func(dir int) error {
		return h.Channel.Jog(r.Context(), dir)
	})(w, r)
}

// Initialize initializes and homes the controller
func (h HTTPWrapper) Initialize(w http.ResponseWriter, r *http.Request) {
	generichttp.Trigger(func() error {
		return h.Channel.Initialize(r.Context())
	})(w, r)
}

// Disable toggles between disabled and ready
func (h HTTPWrapper) Disable(w http.ResponseWriter, r *http.Request) {
	generichttp.Trigger(func() error {
		return h.Channel.Disable(r.Context())
	})(w, r)
}
