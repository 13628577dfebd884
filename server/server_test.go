package server

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/tascan/monitor"
	"github.com/nasa-jpl/tascan/sequencer"
	"github.com/nasa-jpl/tascan/spectra"
)

func newServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return srv
}

func TestLiveWebsocket(t *testing.T) {
	h := NewHub()
	srv := newServer(t, h)
	updates := make(chan monitor.Update, 1)
	defer close(updates)
	h.FollowMonitor(updates)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + LivePath
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)

	updates <- monitor.Update{Block: 3, Probe: []float64{1, 2}}
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m struct {
		Source string         `json:"source"`
		Data   monitor.Update `json:"data"`
	}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, SourceMonitor, m.Source)
	assert.Equal(t, 3, m.Data.Block)
	assert.Equal(t, spectra.Vector{1, 2}, m.Data.Probe)

	ws.Close()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

// firstStateEvent publishes e until a client of StatePath hears it and
// returns the data line it heard.  The client registers asynchronously, so
// a single message could be missed
func firstStateEvent(t *testing.T, srv *httptest.Server, events chan<- sequencer.Event, e sequencer.Event) string {
	t.Helper()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case events <- e:
			case <-done:
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()
	defer wg.Wait()
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+StatePath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	got := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "data:") {
				got <- sc.Text()
				return
			}
		}
	}()
	select {
	case line := <-got:
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("no server-sent event")
	}
	return ""
}

func TestStateEvents(t *testing.T) {
	h := NewHub()
	srv := newServer(t, h)
	events := make(chan sequencer.Event)
	defer close(events)
	h.FollowSequencer(events)

	line := firstStateEvent(t, srv, events, sequencer.Event{Kind: sequencer.EventState, State: sequencer.Stepping, RunID: "r1"})
	assert.Contains(t, line, `"state":"Stepping"`)
	assert.Contains(t, line, `"runId":"r1"`)
}

func TestNaNPixelsReachLiveClients(t *testing.T) {
	h := NewHub()
	srv := newServer(t, h)
	events := make(chan sequencer.Event)
	defer close(events)
	updates := make(chan monitor.Update)
	defer close(updates)
	h.FollowSequencer(events)
	h.FollowMonitor(updates)
	withNaN := spectra.Vector{0.5, math.NaN()}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + LivePath
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m struct {
		Source string          `json:"source"`
		Data   json.RawMessage `json:"data"`
	}

	updates <- monitor.Update{Block: 1, DeltaA: withNaN, DeltaAAverage: withNaN}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, SourceMonitor, m.Source)
	var u monitor.Update
	require.NoError(t, json.Unmarshal(m.Data, &u))
	require.Len(t, u.DeltaA, 2)
	assert.Equal(t, 0.5, u.DeltaA[0])
	assert.True(t, math.IsNaN(u.DeltaA[1]))

	events <- sequencer.Event{Kind: sequencer.EventUpdate, RunID: "r2", Point: 3, DeltaA: withNaN, DeltaAAverage: withNaN}
	require.NoError(t, ws.ReadJSON(&m))
	assert.Equal(t, SourceRun, m.Source)
	var e sequencer.Event
	require.NoError(t, json.Unmarshal(m.Data, &e))
	assert.Equal(t, 3, e.Point)
	require.Len(t, e.DeltaAAverage, 2)
	assert.True(t, math.IsNaN(e.DeltaAAverage[1]))
	assert.Equal(t, 1, h.Clients())

	line := firstStateEvent(t, srv, events, sequencer.Event{Kind: sequencer.EventUpdate, RunID: "r3", DeltaA: withNaN})
	assert.Contains(t, line, `"runId":"r3"`)
	assert.Contains(t, line, `"dA":[0.5,null]`)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dye.csv"), []byte("Sample\n"), 0o644))
	r := chi.NewRouter()
	Files{Dir: dir}.RT().Bind(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/dye.csv", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sample\n", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/missing.csv", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/.hidden", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
