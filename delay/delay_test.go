package delay

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOrientations(t *testing.T) {
	in := []float64{-5, -1, 0, 0.5, 2}

	p, err := Build(in, Regular, 100, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, in, p.Delays)
	assert.Equal(t, 10, p.Total())

	p, err = Build(in, Backwards, 100, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0.5, 0, -1, -5}, p.Delays)
	// the caller's slice is untouched
	assert.Equal(t, -5., in[0])

	p, err = Build(in, Random, 100, 1, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	got := append([]float64(nil), p.Delays...)
	sort.Float64s(got)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("random orientation is not a permutation (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsBadCounts(t *testing.T) {
	var ce *ConfigurationError
	_, err := Build(nil, Regular, 1, 1, nil)
	assert.True(t, errors.As(err, &ce))
	_, err = Build([]float64{1}, Regular, 0, 1, nil)
	assert.True(t, errors.As(err, &ce))
	_, err = Build([]float64{1}, Regular, 1, 0, nil)
	assert.True(t, errors.As(err, &ce))
	_, err = Build([]float64{1}, "Sideways", 1, 1, nil)
	assert.True(t, errors.As(err, &ce))
}

func TestParseOrientation(t *testing.T) {
	o, err := ParseOrientation("backwards")
	require.NoError(t, err)
	assert.Equal(t, Backwards, o)
	o, err = ParseOrientation("")
	require.NoError(t, err)
	assert.Equal(t, Regular, o)
	_, err = ParseOrientation("up")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	p, err := Build([]float64{-5, -1, 0, 0.5, 2}, Regular, 10, 1, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Validate(100))
	// reference 0 puts -5 below the start of travel
	var ce *ConfigurationError
	assert.True(t, errors.As(p.Validate(0), &ce))
	assert.NoError(t, p.Validate(5))
	assert.Error(t, p.Validate(MaxDelay-1))
	assert.NoError(t, p.Validate(MaxDelay-3))
}

func TestLinear(t *testing.T) {
	d, err := Linear(-1, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -0.5, 0, 0.5, 1}, d)
	_, err = Linear(1, 1, 5)
	assert.Error(t, err)
}

func TestExponential(t *testing.T) {
	d, err := Exponential(-10, 1000, 60)
	require.NoError(t, err)
	assert.Len(t, d, 60)
	assert.True(t, sort.Float64sAreSorted(d))
	assert.Equal(t, -10., d[0])
	assert.Contains(t, d, -5.)
	assert.Contains(t, d, -1.)
	assert.Contains(t, d, 0.)
	assert.Less(t, d[len(d)-1], 1000.)

	_, err = Exponential(-100, 10, 20)
	assert.Error(t, err)
	_, err = Exponential(5, 1, 20)
	assert.Error(t, err)
}

func TestReadText(t *testing.T) {
	d, err := ReadText(strings.NewReader("ps, -1, 0,0.5\n2"))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0, 0.5, 2}, d)
	d, err = ReadText(strings.NewReader("Delay (ps),3,4"))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, d)
	_, err = ReadText(strings.NewReader("1,two"))
	assert.Error(t, err)
}

func TestReadCSVFromScanFile(t *testing.T) {
	scan := "Sample,Solvent,Pump (nm),Path Length (mm),Excitation Power (mW),Notes,Delay (ps),1,2\n" +
		"dye,water,400,1,2,,-1,0.1,0.2\n" +
		",,,,,,0.5,0.1,0.2\n" +
		",,,,,,,\n"
	d, err := ReadCSV(strings.NewReader(scan))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 0.5}, d)

	_, err = ReadCSV(strings.NewReader("a,b\n1,2\n"))
	var ce *ConfigurationError
	assert.True(t, errors.As(err, &ce))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "steps.txt")
	require.NoError(t, os.WriteFile(txt, []byte("ps,1,2,3"), 0o644))
	d, err := LoadFile(txt)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, d)

	_, err = LoadFile(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
