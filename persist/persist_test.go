package persist

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "run.csv", ScanFileName("run", 1, 1))
	assert.Equal(t, "run_Scan_2.csv", ScanFileName("run", 2, 3))
	assert.Equal(t, "run_Average_Probe_Entire_Measurement.csv", AverageFileName("run"))
}

func TestMetadataDefaults(t *testing.T) {
	m := Metadata{Pump: "400", PumpUnit: "nm"}.Normalized()
	assert.Equal(t, "Unknown", m.Sample)
	assert.Equal(t, "Unknown", m.Solvent)
	assert.Equal(t, []string{"Sample", "Solvent", "Pump (nm)", "Path Length (mm)",
		"Excitation Power (mW)", "Notes", "Delay (ps)", "500", "501"}, m.Header([]string{"500", "501"}))
}

func TestWriteScan(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Metadata{Sample: "dye", Pump: "400", Notes: "first try", Directory: dir, Name: "run"}, []string{"a", "b"})
	path, err := w.WriteScan(2, 2, []Row{{-1, []float64{0.5, math.NaN()}}, {0.5, []float64{1, 2}}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_Scan_2.csv"), path)

	recs := readCSV(t, path)
	require.Len(t, recs, 3)
	assert.Equal(t, "Delay (ps)", recs[0][6])
	assert.Equal(t, []string{"dye", "Unknown", "400", "", "", "first try", "-1", "0.5", "nan"}, recs[1])
	assert.Equal(t, []string{"", "", "", "", "", "", "0.5", "1", "2"}, recs[2])
}

func TestAveragePadsWithNaN(t *testing.T) {
	scans := [][][]float64{
		{{1, 2}, {3, 4}, {5, 6}},
		{{3, 4}, {5, math.NaN()}},
	}
	avg := Average(scans)
	require.Len(t, avg, 3)
	assert.Equal(t, []float64{2, 3}, avg[0])
	assert.Equal(t, []float64{4, 4}, avg[1])
	assert.Equal(t, []float64{5, 6}, avg[2])

	avg = Average([][][]float64{{{math.NaN()}}, {{math.NaN()}}})
	assert.True(t, math.IsNaN(avg[0][0]))
}

func TestAverageRounds(t *testing.T) {
	avg := Average([][][]float64{{{0.12347}}, {{0.12349}}})
	assert.InDelta(t, 0.1235, avg[0][0], 1e-12)
}

func TestWriteAverage(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(Metadata{Directory: dir, Name: "run"}, []string{"x"})
	scans := [][]Row{
		{{0, []float64{1}}, {1, []float64{2}}, {2, []float64{3}}},
		{{0, []float64{3}}},
	}
	path, err := w.WriteAverage([]float64{0, 1}, scans)
	require.NoError(t, err)
	recs := readCSV(t, path)
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"0", "2"}, recs[1][6:])
	assert.Equal(t, []string{"1", "2"}, recs[2][6:])
	// past the end of the delay list the delay is blank
	assert.Equal(t, []string{"", "3"}, recs[3][6:])

	_, err = w.WriteAverage(nil, nil)
	assert.Error(t, err)
}

func TestWriteFITS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.fits")
	m := [][]float64{{1, 2, 3}, {4, 5, math.NaN()}}
	require.NoError(t, WriteFITS(path, Metadata{Sample: "dye"}, []float64{-1, 2}, m))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	fits, err := fitsio.Open(f)
	require.NoError(t, err)
	defer fits.Close()
	require.Len(t, fits.HDUs(), 2)
	assert.Equal(t, "dye", fits.HDU(0).Header().Get("OBJECT").Value)
	assert.Equal(t, []int{3, 2}, fits.HDU(0).Header().Axes())

	assert.Error(t, WriteFITS(path, Metadata{}, nil, nil))
	assert.Error(t, WriteFITS(path, Metadata{}, nil, [][]float64{{1}, {1, 2}}))
}
