package main

import (
	"time"

	"github.com/nasa-jpl/tascan/camera"
	"github.com/nasa-jpl/tascan/dls"
	"github.com/nasa-jpl/tascan/monitor"
	"github.com/nasa-jpl/tascan/sequencer"
	"github.com/nasa-jpl/tascan/spectra"
)

// ServiceConfig locates the stage command service
type ServiceConfig struct {
	// Executable is run once per command with Args and the command appended
	Executable string   `yaml:"Executable" koanf:"Executable"`
	Args       []string `yaml:"Args" koanf:"Args"`
	Dir        string   `yaml:"Dir" koanf:"Dir"`

	// StreamAddr is where the service connects back to for streaming commands
	StreamAddr    string        `yaml:"StreamAddr" koanf:"StreamAddr"`
	AcceptTimeout time.Duration `yaml:"AcceptTimeout" koanf:"AcceptTimeout"`

	HomeTolerance float64       `yaml:"HomeTolerance" koanf:"HomeTolerance"`
	HomeTimeout   time.Duration `yaml:"HomeTimeout" koanf:"HomeTimeout"`
}

// CameraConfig describes the line camera
type CameraConfig struct {
	// Driver selects the acquirer, only "sim" is built in
	Driver   string        `yaml:"Driver" koanf:"Driver"`
	Pixels   int           `yaml:"Pixels" koanf:"Pixels"`
	Exposure time.Duration `yaml:"Exposure" koanf:"Exposure"`
	Noise    float64       `yaml:"Noise" koanf:"Noise"`
}

// MonitorConfig sizes the live display loop
type MonitorConfig struct {
	Shots int     `yaml:"Shots" koanf:"Shots"`
	Rate  float64 `yaml:"Rate" koanf:"Rate"`
	Start bool    `yaml:"Start" koanf:"Start"`
}

// OutputConfig places measurement files
type OutputConfig struct {
	Directory string `yaml:"Directory" koanf:"Directory"`
}

// WavelengthConfig calibrates the pixel axis, from a file or a linear
// Min..Max.  Without either, pixels are numbered
type WavelengthConfig struct {
	File string  `yaml:"File" koanf:"File"`
	Min  float64 `yaml:"Min" koanf:"Min"`
	Max  float64 `yaml:"Max" koanf:"Max"`
}

// CatalogConfig locates the run catalogue; an empty Path disables it
type CatalogConfig struct {
	Path string `yaml:"Path" koanf:"Path"`
}

// Config is everything tascan.yml holds
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces the command service with an in-process emulation
	Mock bool `yaml:"Mock" koanf:"Mock"`

	LogLevel string `yaml:"LogLevel" koanf:"LogLevel"`

	Service     ServiceConfig    `yaml:"Service" koanf:"Service"`
	Camera      CameraConfig     `yaml:"Camera" koanf:"Camera"`
	Reducer     spectra.Config   `yaml:"Reducer" koanf:"Reducer"`
	Monitor     MonitorConfig    `yaml:"Monitor" koanf:"Monitor"`
	Run         sequencer.Config `yaml:"Run" koanf:"Run"`
	Output      OutputConfig     `yaml:"Output" koanf:"Output"`
	Wavelengths WavelengthConfig `yaml:"Wavelengths" koanf:"Wavelengths"`
	Catalog     CatalogConfig    `yaml:"Catalog" koanf:"Catalog"`
}

// DefaultConfig is the configuration used for anything tascan.yml omits
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Mock:     true,
		LogLevel: "info",
		Service: ServiceConfig{
			Executable:    "python",
			Args:          []string{"dls_service.py"},
			StreamAddr:    dls.DefaultStreamAddr,
			AcceptTimeout: dls.DefaultAcceptTimeout,
			HomeTolerance: dls.DefaultHomeTolerance,
			HomeTimeout:   dls.DefaultHomeTimeout,
		},
		Camera: CameraConfig{
			Driver: "sim",
			Pixels: camera.DefaultPixels,
			Noise:  50,
		},
		Reducer: spectra.DefaultConfig(),
		Monitor: MonitorConfig{
			Shots: monitor.DefaultShots,
			Rate:  monitor.DefaultRate,
		},
		Run:     sequencer.DefaultConfig(),
		Output:  OutputConfig{Directory: "data"},
		Catalog: CatalogConfig{Path: "tascan.db"},
	}
}
