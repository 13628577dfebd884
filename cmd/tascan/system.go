package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/tascan/camera"
	"github.com/nasa-jpl/tascan/catalog"
	"github.com/nasa-jpl/tascan/dls"
	"github.com/nasa-jpl/tascan/generichttp"
	"github.com/nasa-jpl/tascan/monitor"
	"github.com/nasa-jpl/tascan/sequencer"
	"github.com/nasa-jpl/tascan/server"
	"github.com/nasa-jpl/tascan/server/middleware/locker"
	"github.com/nasa-jpl/tascan/spectra"
)

// mockReference is where the emulated stage keeps its reference, far enough
// from the end of travel for negative delays
const mockReference = 1000.

// System is every component of a running tascan, wired together
type System struct {
	Config Config

	// Mock is nil unless Config.Mock
	Mock *dls.Mock

	Channel     *dls.Channel
	Stream      *dls.StreamServer
	Camera      camera.Acquirer
	RunSettings *spectra.Settings
	Monitor     *monitor.Monitor
	Sequencer   *sequencer.Sequencer
	Hub         *server.Hub
	Lock        *locker.Locker

	// Catalog is nil when no catalogue is configured
	Catalog *catalog.Catalog

	// unfollow detaches the Hub from the sequencer and monitor
	unfollow []func()
}

func loadAxis(c Config) (spectra.Axis, error) {
	width := c.Reducer.Width()
	w := c.Wavelengths
	switch {
	case w.File != "":
		f, err := os.Open(w.File)
		if err != nil {
			return spectra.Axis{}, err
		}
		defer f.Close()
		return spectra.LoadAxis(f)
	case w.Max > w.Min:
		return spectra.LinearAxis(w.Min, w.Max, width), nil
	}
	return spectra.PixelAxis(width), nil
}

// NewSystem builds the components described by c.  Nothing is started
func NewSystem(c Config) (*System, error) {
	s := &System{Config: c}

	var launcher dls.Launcher
	if c.Mock {
		s.Mock = dls.NewMock(mockReference)
		launcher = s.Mock
	} else {
		launcher = dls.ExecLauncher{Executable: c.Service.Executable, Args: c.Service.Args, Dir: c.Service.Dir}
	}
	s.Channel = dls.NewChannel(launcher)
	s.Channel.HomeTolerance = c.Service.HomeTolerance
	s.Channel.HomeTimeout = c.Service.HomeTimeout
	s.Stream = dls.NewStreamServer(c.Service.StreamAddr, launcher)
	s.Stream.AcceptTimeout = c.Service.AcceptTimeout
	if s.Mock != nil {
		s.Mock.StreamAddr = s.Stream.ListenAddr
	}

	switch c.Camera.Driver {
	case "sim", "":
		sim := camera.NewSimulator(1)
		sim.Pixels = c.Camera.Pixels
		sim.Exposure = c.Camera.Exposure
		sim.Noise = c.Camera.Noise
		if s.Mock != nil {
			sim.Delay = s.Mock.Delay
		} else {
			sim.Delay = func() float64 {
				f := s.Channel.Frame()
				return f.Position - f.Reference
			}
		}
		s.Camera = sim
	default:
		return nil, fmt.Errorf("camera driver %q is not available", c.Camera.Driver)
	}

	axis, err := loadAxis(c)
	if err != nil {
		return nil, fmt.Errorf("loading wavelengths: %w", err)
	}
	logrus.Infof("pixel axis: %s", axis)

	s.RunSettings = spectra.NewSettings(c.Reducer)
	s.Monitor = monitor.New(s.Camera, spectra.NewSettings(c.Reducer), c.Monitor.Shots, c.Monitor.Rate)
	s.Monitor.DarkTargets = []*spectra.Settings{s.RunSettings}

	s.Lock = locker.New()
	seq := sequencer.New(s.Channel, s.Stream, s.Camera, s.RunSettings, c.Run)
	seq.Axis = axis
	seq.Directory = c.Output.Directory
	seq.Monitor = s.Monitor
	seq.Guard = s.Lock
	if c.Catalog.Path != "" {
		cat, err := catalog.Open(c.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("opening catalogue: %w", err)
		}
		s.Catalog = cat
		seq.Catalog = cat
	}
	s.Sequencer = seq

	s.Hub = server.NewHub()
	events, unsubscribe := seq.Subscribe()
	s.Hub.FollowSequencer(events)
	s.unfollow = append(s.unfollow, unsubscribe)
	updates, unsubscribe := s.Monitor.Subscribe()
	s.Hub.FollowMonitor(updates)
	s.unfollow = append(s.unfollow, unsubscribe)
	return s, nil
}

// Close stops the monitor and any run, detaches the Hub and releases the
// catalogue
func (s *System) Close() {
	if s.Sequencer.Active() {
		if err := s.Sequencer.Stop(); err != nil {
			logrus.Error(err)
		}
	}
	s.Monitor.Stop()
	for _, unsubscribe := range s.unfollow {
		unsubscribe()
	}
	s.unfollow = nil
	s.Hub.Close()
	s.Stream.Close()
	if s.Catalog != nil {
		s.Catalog.Close()
	}
}

// stageHTTP is the manual stage interface, with StartGUI added
type stageHTTP struct {
	dls.HTTPWrapper
	stream *dls.StreamServer
}

func newStageHTTP(ch *dls.Channel, stream *dls.StreamServer) stageHTTP {
	h := stageHTTP{HTTPWrapper: dls.NewHTTPWrapper(ch), stream: stream}
	h.RouteTable[generichttp.MethodPath{Method: http.MethodPost, Path: "/gui"}] = h.StartGUI
	return h
}

// StartGUI runs the service's StartGUI command and replies with the frame
// it reports
func (h stageHTTP) StartGUI(w http.ResponseWriter, r *http.Request) {
	f, err := h.stream.StartGUI(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Channel.Observe(f)
	generichttp.ReplyJSON(w, f)
}

// BuildMux mounts every component of s on a chi router.  The mux serves a
// special route, /endpoints, which returns every route as JSON
func BuildMux(s *System) chi.Router {
	root := chi.NewRouter()
	supergraph := map[string][]string{}

	// the live streams are bound outside the logger, which would hold
	// their responses open in its wrapper
	s.Hub.RT().Bind(root)
	supergraph["/"] = s.Hub.RT().Endpoints()

	root.Group(func(api chi.Router) {
		api.Use(middleware.Logger)

		mount := func(stem string, h generichttp.HTTPer, mw ...func(http.Handler) http.Handler) {
			stem = generichttp.SubMuxSanitize(stem)
			supergraph[stem] = h.RT().Endpoints()
			r := chi.NewRouter()
			r.Use(mw...)
			h.RT().Bind(r)
			api.Mount(stem, r)
		}

		stage := newStageHTTP(s.Channel, s.Stream)
		locker.Inject(stage, s.Lock)
		mount("stage", stage, s.Lock.Check)
		mount("reducer", spectra.NewHTTPWrapper(s.RunSettings))
		mount("monitor", monitor.NewHTTPWrapper(s.Monitor))
		if s.Catalog != nil {
			mount("runs", catalog.NewHTTPWrapper(s.Catalog))
		}

		seq := sequencer.NewHTTPWrapper(s.Sequencer)
		seq.RT().Bind(api)
		files := server.Files{Dir: s.Sequencer.Directory}
		files.RT().Bind(api)
		supergraph["/"] = append(supergraph["/"], append(seq.RT().Endpoints(), files.RT().Endpoints()...)...)

		api.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			err := json.NewEncoder(w).Encode(supergraph)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		})
	})
	return root
}
