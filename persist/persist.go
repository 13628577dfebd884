/*Package persist writes measurement records to disk.

Each physical scan is written to its own CSV file as soon as it ends.  When a
measurement of more than one scan ends, the scans are averaged delay by delay
and written to one more file.  All files share one layout: a header row of
metadata column names, "Delay (ps)" and the pixel labels, then one row per
delay point.  The metadata values are only written on the first data row.

Scans may have different lengths when a measurement is stopped part way.
Shorter scans are padded with NaN before averaging and NaN is ignored by the
mean, so a point measured in only some scans is the mean of those scans.
*/
package persist

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/nasa-jpl/tascan/mathx"
)

var log = logrus.WithField("component", "persist")

// AverageUnit is the rounding unit of averaged values
const AverageUnit = 1e-4

// Metadata describes the sample and where its files go
type Metadata struct {
	Sample              string `json:"sample" yaml:"Sample"`
	Solvent             string `json:"solvent" yaml:"Solvent"`
	Pump                string `json:"pump" yaml:"Pump"`
	PumpUnit            string `json:"pumpUnit" yaml:"PumpUnit"`
	PathLength          string `json:"pathLength" yaml:"PathLength"`
	PathLengthUnit      string `json:"pathLengthUnit" yaml:"PathLengthUnit"`
	ExcitationPower     string `json:"excitationPower" yaml:"ExcitationPower"`
	ExcitationPowerUnit string `json:"excitationPowerUnit" yaml:"ExcitationPowerUnit"`
	Notes               string `json:"notes" yaml:"Notes"`

	// Directory and Name locate the output files, Name is the stem
	Directory string `json:"directory" yaml:"Directory"`
	Name      string `json:"name" yaml:"Name"`
}

// Normalized fills blank fields with their defaults
func (m Metadata) Normalized() Metadata {
	def := func(s *string, d string) {
		if strings.TrimSpace(*s) == "" {
			*s = d
		}
	}
	def(&m.Sample, "Unknown")
	def(&m.Solvent, "Unknown")
	def(&m.PumpUnit, "nm")
	def(&m.PathLengthUnit, "mm")
	def(&m.ExcitationPowerUnit, "mW")
	def(&m.Name, "measurement")
	def(&m.Directory, ".")
	return m
}

// Header returns the header row for the given pixel labels
func (m Metadata) Header(labels []string) []string {
	h := []string{
		"Sample",
		"Solvent",
		fmt.Sprintf("Pump (%s)", m.PumpUnit),
		fmt.Sprintf("Path Length (%s)", m.PathLengthUnit),
		fmt.Sprintf("Excitation Power (%s)", m.ExcitationPowerUnit),
		"Notes",
		"Delay (ps)",
	}
	return append(h, labels...)
}

func (m Metadata) values() []string {
	return []string{m.Sample, m.Solvent, m.Pump, m.PathLength, m.ExcitationPower, m.Notes}
}

// Row is one delay point of a record
type Row struct {
	Delay  float64   `json:"delay"`
	Values []float64 `json:"values"`
}

// ScanFileName is the file a scan is written to.  scan is 1-based
func ScanFileName(name string, scan, scans int) string {
	if scans <= 1 {
		return name + ".csv"
	}
	return fmt.Sprintf("%s_Scan_%d.csv", name, scan)
}

// AverageFileName is the file the cross-scan average is written to
func AverageFileName(name string) string {
	return name + "_Average_Probe_Entire_Measurement.csv"
}

// FormatFloat formats a value the way it is written to disk; NaN is "nan"
func FormatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Writer writes the records of one measurement
type Writer struct {
	Meta   Metadata
	Labels []string
}

// NewWriter returns a Writer with normalized metadata
func NewWriter(meta Metadata, labels []string) *Writer {
	return &Writer{Meta: meta.Normalized(), Labels: labels}
}

func (w *Writer) path(fn string) string {
	return filepath.Join(w.Meta.Directory, fn)
}

// write writes rows to fn.  A row with a NaN delay leaves the delay blank
func (w *Writer) write(fn string, rows []Row) (string, error) {
	if err := os.MkdirAll(w.Meta.Directory, 0o755); err != nil {
		return "", err
	}
	path := w.path(fn)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	cw := csv.NewWriter(f)
	cw.Write(w.Meta.Header(w.Labels))
	blank := make([]string, len(w.Meta.values()))
	for i, r := range rows {
		rec := make([]string, 0, len(blank)+1+len(r.Values))
		if i == 0 {
			rec = append(rec, w.Meta.values()...)
		} else {
			rec = append(rec, blank...)
		}
		if math.IsNaN(r.Delay) {
			rec = append(rec, "")
		} else {
			rec = append(rec, FormatFloat(r.Delay))
		}
		for _, v := range r.Values {
			rec = append(rec, FormatFloat(v))
		}
		cw.Write(rec)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	log.Infof("saved %d rows to %s", len(rows), path)
	return path, nil
}

// WriteScan writes scan (1-based) of scans and returns the path written
func (w *Writer) WriteScan(scan, scans int, rows []Row) (string, error) {
	return w.write(ScanFileName(w.Meta.Name, scan, scans), rows)
}

// WriteAverage averages the values of scans and writes them with the delays
// of the program order.  Rows beyond len(delays) have a blank delay
func (w *Writer) WriteAverage(delays []float64, scans [][]Row) (string, error) {
	if len(scans) == 0 {
		return "", fmt.Errorf("no scans to average")
	}
	avg := Average(values(scans))
	rows := make([]Row, len(avg))
	for i, v := range avg {
		d := math.NaN()
		if i < len(delays) {
			d = delays[i]
		}
		rows[i] = Row{Delay: d, Values: v}
	}
	return w.write(AverageFileName(w.Meta.Name), rows)
}

func values(scans [][]Row) [][][]float64 {
	out := make([][][]float64, len(scans))
	for i, s := range scans {
		out[i] = make([][]float64, len(s))
		for j, r := range s {
			out[i][j] = r.Values
		}
	}
	return out
}

// Average pads scans to the longest with NaN rows and returns the NaN-aware
// mean of each cell, rounded to AverageUnit.  A cell that is NaN in every
// scan stays NaN
func Average(scans [][][]float64) [][]float64 {
	rows, cols := 0, 0
	for _, s := range scans {
		if len(s) > rows {
			rows = len(s)
		}
		for _, r := range s {
			if len(r) > cols {
				cols = len(r)
			}
		}
	}
	out := make([][]float64, rows)
	buf := make([]float64, 0, len(scans))
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			buf = buf[:0]
			for _, s := range scans {
				if i < len(s) && j < len(s[i]) && !math.IsNaN(s[i][j]) {
					buf = append(buf, s[i][j])
				}
			}
			if len(buf) == 0 {
				out[i][j] = math.NaN()
				continue
			}
			out[i][j] = mathx.Round(stat.Mean(buf, nil), AverageUnit)
		}
	}
	return out
}
