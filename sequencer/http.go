package sequencer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/generichttp"
	"github.com/nasa-jpl/tascan/persist"
)

// RunRequest is the body of POST /run.  Delays are read from File when
// Delays is empty
type RunRequest struct {
	Delays      []float64        `json:"delays"`
	File        string           `json:"file"`
	Orientation string           `json:"orientation"`
	Shots       int              `json:"shots"`
	Scans       int              `json:"scans"`
	Metadata    persist.Metadata `json:"metadata"`
}

// Request converts the body to a sequencer request
func (rr RunRequest) Request() (Request, error) {
	o, err := delay.ParseOrientation(rr.Orientation)
	if err != nil {
		return Request{}, err
	}
	delays := rr.Delays
	if len(delays) == 0 && rr.File != "" {
		delays, err = delay.LoadFile(rr.File)
		if err != nil {
			return Request{}, err
		}
	}
	return Request{Delays: delays, Orientation: o, Shots: rr.Shots, Scans: rr.Scans, Metadata: rr.Metadata}, nil
}

// HTTPWrapper starts, stops and reports measurements over HTTP
type HTTPWrapper struct {
	Sequencer *Sequencer

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper with POST /run, POST /run/stop and
// GET /run/status
func NewHTTPWrapper(s *Sequencer) HTTPWrapper {
	w := HTTPWrapper{Sequencer: s}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/run"}:       w.Start,
		{Method: http.MethodPost, Path: "/run/stop"}:  w.Stop,
		{Method: http.MethodGet, Path: "/run/status"}: w.Status,
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start starts a run and replies {"str": id}.  An invalid program is 400,
// a run already in progress is 409
func (h HTTPWrapper) Start(w http.ResponseWriter, r *http.Request) {
	rr := RunRequest{}
	err := json.NewDecoder(r.Body).Decode(&rr)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := rr.Request()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.Sequencer.Start(req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ErrBusy) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	generichttp.ReplyJSON(w, generichttp.StrT{Str: id})
}

// Stop stops the active run and blocks until it has ended
func (h HTTPWrapper) Stop(w http.ResponseWriter, r *http.Request) {
	err := h.Sequencer.Stop()
	if errors.Is(err, ErrNotRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Status replies with the sequencer Status
func (h HTTPWrapper) Status(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, h.Sequencer.Status())
}
