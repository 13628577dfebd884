package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/persist"
	"github.com/nasa-jpl/tascan/sequencer"
)

var (
	measureDelays      string
	measureFile        string
	measureOrientation string
	measureShots       int
	measureScans       int
	measureMeta        persist.Metadata
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "run one measurement from the command line",
	Long: `measure runs one measurement without the HTTP server and shows its
progress.  Delays are given with --delays as a comma separated list in ps or
read from --file.  Ctrl-C stops the run; what was acquired is still written.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := loadConfig()
		req, err := measureRequest()
		if err != nil {
			logrus.Fatal(err)
		}
		sys, err := NewSystem(c)
		if err != nil {
			logrus.Fatal(err)
		}
		defer sys.Close()
		if err := measure(sys.Sequencer, req); err != nil {
			logrus.Fatal(err)
		}
	},
}

func init() {
	f := measureCmd.Flags()
	f.StringVar(&measureDelays, "delays", "", "delays in ps, comma separated")
	f.StringVar(&measureFile, "file", "", "delay program file, .txt or .csv")
	f.StringVar(&measureOrientation, "orientation", "regular", "regular, backwards or random")
	f.IntVar(&measureShots, "shots", 1000, "shots per point")
	f.IntVar(&measureScans, "scans", 1, "number of scans")
	f.StringVar(&measureMeta.Name, "name", "measurement", "file name stem")
	f.StringVar(&measureMeta.Directory, "dir", "", "output directory, Output.Directory if empty")
	f.StringVar(&measureMeta.Sample, "sample", "", "sample name")
	f.StringVar(&measureMeta.Solvent, "solvent", "", "solvent")
	f.StringVar(&measureMeta.Pump, "pump", "", "pump wavelength")
	f.StringVar(&measureMeta.PathLength, "path-length", "", "cuvette path length")
	f.StringVar(&measureMeta.ExcitationPower, "power", "", "excitation power")
	f.StringVar(&measureMeta.Notes, "notes", "", "free text notes")
}

func measureRequest() (sequencer.Request, error) {
	o, err := delay.ParseOrientation(measureOrientation)
	if err != nil {
		return sequencer.Request{}, err
	}
	var delays []float64
	switch {
	case measureDelays != "":
		delays, err = delay.ReadText(strings.NewReader(measureDelays))
	case measureFile != "":
		delays, err = delay.LoadFile(measureFile)
	default:
		err = errors.New("one of --delays or --file is required")
	}
	if err != nil {
		return sequencer.Request{}, err
	}
	return sequencer.Request{
		Delays:      delays,
		Orientation: o,
		Shots:       measureShots,
		Scans:       measureScans,
		Metadata:    measureMeta,
	}, nil
}

// measure runs req to its end, showing progress on a spinner
func measure(seq *sequencer.Sequencer, req sequencer.Request) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           "starting",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}

	events, unsubscribe := seq.Subscribe()
	defer unsubscribe()
	id, err := seq.Start(req)
	if err != nil {
		return err
	}
	spinner.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		if err := seq.Stop(); err != nil && !errors.Is(err, sequencer.ErrNotRunning) {
			logrus.Error(err)
		}
	}()

	points := len(req.Delays)
	var runErr error
	for e := range events {
		if e.RunID != id {
			continue
		}
		switch e.Kind {
		case sequencer.EventState:
			spinner.Message(fmt.Sprintf("scan %d/%d %s", e.Scan, req.Scans, e.State))
		case sequencer.EventUpdate:
			spinner.Message(fmt.Sprintf("scan %d/%d point %d/%d at %g ps, %.1f%% probe rejected",
				e.Scan, req.Scans, e.Point+1, points, e.Delay, e.RejectedProbe))
		case sequencer.EventError:
			runErr = errors.New(e.Error)
		}
		if e.Kind == sequencer.EventState && e.State.Terminal() {
			break
		}
	}

	st := seq.Status()
	switch {
	case runErr != nil:
		spinner.StopFailMessage(runErr.Error())
		spinner.StopFail()
		return runErr
	case st.State == sequencer.Stopped:
		spinner.StopFailMessage(fmt.Sprintf("stopped, %d files written", len(st.Files)))
		spinner.StopFail()
	default:
		spinner.StopMessage(fmt.Sprintf("done, %d files written", len(st.Files)))
		spinner.Stop()
	}
	for _, f := range st.Files {
		fmt.Println(f)
	}
	return nil
}
