package monitor

import (
	"net/http"

	"github.com/nasa-jpl/tascan/generichttp"
	"github.com/nasa-jpl/tascan/spectra"
)

// HTTPWrapper exposes a Monitor over HTTP.  The outlier policy routes of
// spectra.HTTPWrapper are merged in for the monitor's Settings
type HTTPWrapper struct {
	Monitor *Monitor

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(m *Monitor) HTTPWrapper {
	w := HTTPWrapper{Monitor: m}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/shots"}:          generichttp.GetInt(func() (int, error) { return m.Shots(), nil }),
		{Method: http.MethodPost, Path: "/shots"}:         generichttp.SetInt(m.SetShots),
		{Method: http.MethodGet, Path: "/rate"}:           generichttp.GetFloat(func() (float64, error) { return m.Rate(), nil }),
		{Method: http.MethodPost, Path: "/rate"}:          generichttp.SetFloat(m.SetRate),
		{Method: http.MethodPost, Path: "/dark"}:          w.CaptureDark,
		{Method: http.MethodDelete, Path: "/dark"}:        generichttp.Trigger(func() error { m.ClearDark(); return nil }),
		{Method: http.MethodGet, Path: "/running"}:        generichttp.GetBool(func() (bool, error) { return m.Running(), nil }),
		{Method: http.MethodPost, Path: "/running"}:       generichttp.SetBool(w.setRunning),
		{Method: http.MethodGet, Path: "/latest"}:         w.GetLatest,
		{Method: http.MethodPost, Path: "/average/reset"}: generichttp.Trigger(func() error { m.ResetAverage(); return nil }),
	}
	for k, v := range spectra.NewHTTPWrapper(m.Settings).RT() {
		rt[k] = v
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) setRunning(b bool) error {
	if !b {
		h.Monitor.Stop()
		return nil
	}
	err := h.Monitor.Start()
	if err == ErrRunning {
		return nil
	}
	return err
}

// CaptureDark stores the latest probe as the dark vector and returns it
func (h HTTPWrapper) CaptureDark(w http.ResponseWriter, r *http.Request) {
	d, err := h.Monitor.CaptureDark()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	generichttp.ReplyJSON(w, d)
}

// GetLatest returns the most recent reduced block
func (h HTTPWrapper) GetLatest(w http.ResponseWriter, r *http.Request) {
	s := h.Monitor.Latest()
	if s == nil {
		http.Error(w, ErrNoSpectrum.Error(), http.StatusNotFound)
		return
	}
	generichttp.ReplyJSON(w, s)
}
