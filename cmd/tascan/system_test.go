package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tascan/camera"
	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/sequencer"
	"github.com/nasa-jpl/tascan/spectra"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	c := DefaultConfig()
	c.LogLevel = "warn"
	c.Service.StreamAddr = "127.0.0.1:0"
	c.Service.AcceptTimeout = 5 * time.Second
	c.Camera.Pixels = 64
	c.Reducer.WindowStart, c.Reducer.WindowEnd = 4, 60
	c.Reducer.Probe = spectra.OutlierPolicy{Threshold: 100, End: 56}
	c.Reducer.DeltaA = c.Reducer.Probe
	c.Monitor.Shots = 10
	c.Run.StopTimeout = 2 * time.Second
	c.Output.Directory = dir
	c.Catalog.Path = filepath.Join(dir, "runs.db")
	return c
}

func newTestServer(t *testing.T) (*System, *httptest.Server) {
	t.Helper()
	sys, err := NewSystem(testConfig(t))
	require.NoError(t, err)
	srv := httptest.NewServer(BuildMux(sys))
	t.Cleanup(sys.Close)
	t.Cleanup(srv.Close)
	return sys, srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.String()
}

func TestEndpoints(t *testing.T) {
	_, srv := newTestServer(t)
	code, body := do(t, srv, http.MethodGet, "/endpoints", "")
	assert.Equal(t, http.StatusOK, code)
	for _, s := range []string{`"/stage"`, `"/reducer"`, `"/monitor"`, `"/runs"`, "POST /run", "GET /live", "POST /lock", "POST /gui"} {
		assert.Contains(t, body, s)
	}
}

func TestRunOverHTTP(t *testing.T) {
	sys, srv := newTestServer(t)
	code, body := do(t, srv, http.MethodPost, "/run",
		`{"delays": [-5, -1, 0, 0.5, 2], "shots": 10, "scans": 2, "metadata": {"name": "dye"}}`)
	require.Equal(t, http.StatusOK, code, body)
	st := sys.Sequencer.Wait()
	require.Equal(t, sequencer.Completed, st.State, st.Error)
	assert.Len(t, st.Files, 3)

	code, body = do(t, srv, http.MethodGet, "/runs/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"state":"Completed"`)

	code, body = do(t, srv, http.MethodGet, "/files/dye_Scan_2.csv", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "Sample,Solvent,Pump (nm)"))
}

func TestStageLockedDuringRun(t *testing.T) {
	sys, srv := newTestServer(t)
	sys.Sequencer.Camera = camera.AcquirerFunc(func(ctx context.Context, shots, index int) (camera.Block, error) {
		<-ctx.Done()
		return camera.Block{}, ctx.Err()
	})
	code, _ := do(t, srv, http.MethodGet, "/stage/pos", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := do(t, srv, http.MethodPost, "/run", `{"delays": [1, 2], "shots": 10, "scans": 1}`)
	require.Equal(t, http.StatusOK, code, body)
	require.Eventually(t, sys.Lock.Locked, 5*time.Second, 10*time.Millisecond)

	code, _ = do(t, srv, http.MethodPost, "/stage/pos", `{"f64": 5}`)
	assert.Equal(t, http.StatusLocked, code)
	code, body = do(t, srv, http.MethodGet, "/stage/lock", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"bool": true}`, body)

	code, _ = do(t, srv, http.MethodPost, "/run/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, sys.Lock.Locked())
	code, _ = do(t, srv, http.MethodGet, "/stage/pos", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestStartGUIRoute(t *testing.T) {
	sys, srv := newTestServer(t)
	code, body := do(t, srv, http.MethodPost, "/stage/gui", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.JSONEq(t, `{"reference": 1000, "position": 1000}`, body)
	assert.Equal(t, mockReference, sys.Channel.Frame().Reference)
}

func TestTimepointsReadBack(t *testing.T) {
	d, err := delay.Exponential(-10, 1000, 60)
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	require.NoError(t, writeTimepoints(buf, d))
	assert.True(t, strings.HasPrefix(buf.String(), "Delay (ps)\n"))
	back, err := delay.ReadText(buf)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestMeasureRequest(t *testing.T) {
	measureDelays, measureFile, measureOrientation = "1, 2,3", "", "backwards"
	measureShots, measureScans = 10, 2
	defer func() { measureDelays, measureOrientation = "", "regular" }()
	req, err := measureRequest()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, req.Delays)
	assert.Equal(t, delay.Backwards, req.Orientation)

	measureDelays = ""
	_, err = measureRequest()
	assert.Error(t, err)
}

func TestDefaultConfigLoads(t *testing.T) {
	ConfigFileName = filepath.Join(t.TempDir(), "missing.yml")
	setupconfig()
	c := loadConfig()
	assert.Equal(t, DefaultConfig().Addr, c.Addr)
	assert.Equal(t, DefaultConfig().Run, c.Run)
	assert.Equal(t, DefaultConfig().Reducer.Probe, c.Reducer.Probe)
}

func TestCloseDetachesHub(t *testing.T) {
	sys, err := NewSystem(testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, 1, sys.Sequencer.Subscribers())
	assert.Equal(t, 1, sys.Monitor.Subscribers())
	sys.Close()
	assert.Zero(t, sys.Sequencer.Subscribers())
	assert.Zero(t, sys.Monitor.Subscribers())
}
