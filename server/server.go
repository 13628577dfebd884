// Package server pushes live measurement data to browsers and serves the
// files runs have written.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/tascan/events"
	"github.com/nasa-jpl/tascan/generichttp"
	"github.com/nasa-jpl/tascan/monitor"
	"github.com/nasa-jpl/tascan/sequencer"
)

var logger = logrus.WithField("component", "server")

const (
	// StatePath is the SSE channel of sequencer events
	StatePath = "/events/state"

	// LivePath is the websocket of live spectra
	LivePath = "/live"

	writeWait = 5 * time.Second
)

// Live sources
const (
	SourceMonitor = "monitor"
	SourceRun     = "run"
)

// LiveMessage is one websocket frame
type LiveMessage struct {
	Source string      `json:"source"`
	Data   interface{} `json:"data"`
}

// Hub fans sequencer events out over server-sent events, and monitor and
// run spectra out over websockets
type Hub struct {
	SSE *sse.Server

	upgrader websocket.Upgrader
	live     *events.Broadcaster[LiveMessage]
	clients  atomic.Int64
}

// NewHub returns a hub with no sources attached
func NewHub() *Hub {
	return &Hub{
		SSE: sse.NewServer(&sse.Options{
			Logger: log.New(logger.WriterLevel(logrus.DebugLevel), "", 0),
		}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		live: events.NewBroadcaster[LiveMessage](),
	}
}

// FollowSequencer forwards every sequencer event to StatePath and run
// updates to the websocket, until c is closed
func (h *Hub) FollowSequencer(c <-chan sequencer.Event) {
	go func() {
		for e := range c {
			data, err := json.Marshal(e)
			if err != nil {
				logger.Errorf("marshal json: %v", err)
				continue
			}
			h.SSE.SendMessage(StatePath, sse.SimpleMessage(string(data)))
			if e.Kind == sequencer.EventUpdate {
				h.live.Publish(LiveMessage{Source: SourceRun, Data: e})
			}
		}
	}()
}

// FollowMonitor forwards monitor updates to the websocket until c is closed
func (h *Hub) FollowMonitor(c <-chan monitor.Update) {
	go func() {
		for u := range c {
			h.live.Publish(LiveMessage{Source: SourceMonitor, Data: u})
		}
	}()
}

// Clients is the number of connected websocket clients
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// ServeLive upgrades the request to a websocket and writes LiveMessages
// until the client goes away
func (h *Hub) ServeLive(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}
	defer ws.Close()
	c, cancel := h.live.Subscribe()
	defer cancel()
	h.clients.Add(1)
	defer h.clients.Add(-1)
	logger.Debugf("live client %s connected", r.RemoteAddr)

	// the read loop only notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-gone:
			logger.Debugf("live client %s disconnected", r.RemoteAddr)
			return
		case m := <-c:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(m); err != nil {
				logger.Debugf("live client %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

// RT satisfies generichttp.HTTPer
func (h *Hub) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: StatePath}: h.SSE.ServeHTTP,
		{Method: http.MethodGet, Path: LivePath}:  h.ServeLive,
	}
}

// Close disconnects every SSE client
func (h *Hub) Close() {
	h.SSE.Shutdown()
}

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		logger.Error(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		logger.Warn(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		logger.Error(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, fn, stat.ModTime(), f)
}

// Files serves the files in one directory by base name
type Files struct {
	Dir string
}

// RT satisfies generichttp.HTTPer
func (f Files) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/files/{name}"}: f.Serve,
	}
}

// Serve replies with the file named in the route.  Names that would leave
// Dir are refused
func (f Files) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	ReplyWithFile(w, r, name, f.Dir)
}
