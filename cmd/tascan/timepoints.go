package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nasa-jpl/tascan/delay"
	"github.com/nasa-jpl/tascan/persist"
)

var (
	tpStart float64
	tpEnd   float64
	tpCount int
	tpExp   bool
	tpOut   string
)

var timepointsCmd = &cobra.Command{
	Use:   "timepoints",
	Short: "generate a delay program file",
	Long: `timepoints writes a delay program, one delay in ps per line under a
"Delay (ps)" header, which measure --file and POST /run accept.

Linear spacing puts count points from start to end inclusive.  Exponential
spacing keeps points dense around time zero and spreads them out towards
end, the usual layout for decay kinetics.`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			d   []float64
			err error
		)
		if tpExp {
			d, err = delay.Exponential(tpStart, tpEnd, tpCount)
		} else {
			d, err = delay.Linear(tpStart, tpEnd, tpCount)
		}
		if err != nil {
			logrus.Fatal(err)
		}
		var w io.Writer = os.Stdout
		if tpOut != "" {
			f, err := os.Create(tpOut)
			if err != nil {
				logrus.Fatal(err)
			}
			defer f.Close()
			w = f
		}
		if err := writeTimepoints(w, d); err != nil {
			logrus.Fatal(err)
		}
	},
}

func init() {
	f := timepointsCmd.Flags()
	f.Float64Var(&tpStart, "start", -10, "first delay in ps")
	f.Float64Var(&tpEnd, "end", 1000, "last delay in ps")
	f.IntVar(&tpCount, "count", 60, "number of delays")
	f.BoolVar(&tpExp, "exp", false, "exponential spacing")
	f.StringVarP(&tpOut, "out", "o", "", "output file, stdout if empty")
}

func writeTimepoints(w io.Writer, d []float64) error {
	if _, err := fmt.Fprintln(w, delay.DelayColumn); err != nil {
		return err
	}
	for _, v := range d {
		if _, err := fmt.Fprintln(w, persist.FormatFloat(v)); err != nil {
			return err
		}
	}
	return nil
}
