// Command tascan runs transient absorption pump-probe measurements: it drives
// the delay stage through its command service, reduces camera blocks to
// probe and ΔA spectra, writes the results and serves all of it over HTTP.
package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "tascan.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			logrus.Fatalf("error loading config: %v", err)
		}
	}
}

func loadConfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		logrus.Fatal(err)
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Fatalf("invalid log level: %s", c.LogLevel)
	}
	logrus.SetLevel(level)
	return c
}

var rootCmd = &cobra.Command{
	Use:   "tascan",
	Short: "transient absorption pump-probe measurements",
	Long: `tascan drives a delay stage and a line camera through pump-probe
measurements and exposes them over HTTP.  This enables a server-client
architecture, and the clients can leverage the excellent HTTP libraries
for any programming language.

tascan is amenable to configuration via its .yml file, see mkconf.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupconfig()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the stage, reducer, monitor and sequencer over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		c := loadConfig()
		sys, err := NewSystem(c)
		if err != nil {
			logrus.Fatal(err)
		}
		defer sys.Close()
		if c.Mock {
			logrus.Warn("stage command service is emulated")
		}
		if c.Monitor.Start {
			if err := sys.Monitor.Start(); err != nil {
				logrus.Fatal(err)
			}
		}
		mux := BuildMux(sys)
		logrus.Infof("now listening for requests at %s", c.Addr)
		logrus.Fatal(http.ListenAndServe(c.Addr, mux))
	},
}

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "write the current configuration to " + ConfigFileName,
	Run: func(cmd *cobra.Command, args []string) {
		c := Config{}
		err := k.Unmarshal("", &c)
		if err != nil {
			logrus.Fatal(err)
		}
		f, err := os.Create(ConfigFileName)
		if err != nil {
			logrus.Fatal(err)
		}
		defer f.Close()
		err = yml.NewEncoder(f).Encode(c)
		if err != nil {
			logrus.Fatal(err)
		}
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "print the current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		c := Config{}
		k.Unmarshal("", &c)
		err := yml.NewEncoder(os.Stdout).Encode(c)
		if err != nil {
			logrus.Fatal(err)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("tascan version %v\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&ConfigFileName, "config", "c", ConfigFileName, "configuration file")
	rootCmd.AddCommand(serveCmd, measureCmd, timepointsCmd, mkconfCmd, confCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
