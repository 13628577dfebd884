package spectra

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nasa-jpl/tascan/util"
)

// ErrEmptyAxis is generated when a wavelength file holds no values
var ErrEmptyAxis = errors.New("no wavelength values found")

// Axis labels the pixels of a spectrum, either by index or by calibrated
// wavelength
type Axis struct {
	Values []float64 `json:"values"`
	Unit   string    `json:"unit"`
}

// PixelAxis numbers n pixels from 1
func PixelAxis(n int) Axis {
	v := make([]float64, n)
	for i := range v {
		v[i] = float64(i + 1)
	}
	return Axis{Values: v, Unit: "pixel"}
}

// LinearAxis spreads n wavelengths evenly from lo to hi inclusive
func LinearAxis(lo, hi float64, n int) Axis {
	return Axis{Values: util.Linspace(lo, hi, n), Unit: "nm"}
}

// LoadAxis reads wavelengths separated by commas, whitespace or newlines.
// Tokens that do not parse as numbers, such as a header, are skipped
func LoadAxis(r io.Reader) (Axis, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	a := Axis{Unit: "nm"}
	for sc.Scan() {
		for _, tok := range strings.Split(sc.Text(), ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				continue
			}
			a.Values = append(a.Values, f)
		}
	}
	if err := sc.Err(); err != nil {
		return Axis{}, err
	}
	if len(a.Values) == 0 {
		return Axis{}, ErrEmptyAxis
	}
	return a, nil
}

// Fit returns an axis with exactly n values, truncating or numbering the
// missing tail by pixel index so a header always matches the data width
func (a Axis) Fit(n int) Axis {
	if len(a.Values) == n {
		return a
	}
	if len(a.Values) > n {
		return Axis{Values: a.Values[:n], Unit: a.Unit}
	}
	log.Warnf("axis has %d values for %d pixels, numbering the rest", len(a.Values), n)
	v := make([]float64, n)
	copy(v, a.Values)
	for i := len(a.Values); i < n; i++ {
		v[i] = float64(i + 1)
	}
	return Axis{Values: v, Unit: a.Unit}
}

// Labels formats the axis for use as CSV column headers
func (a Axis) Labels() []string {
	out := make([]string, len(a.Values))
	for i, v := range a.Values {
		if a.Unit == "pixel" {
			out[i] = strconv.Itoa(int(v))
			continue
		}
		out[i] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	return out
}

// String satisfies fmt.Stringer
func (a Axis) String() string {
	if len(a.Values) == 0 {
		return "empty axis"
	}
	return fmt.Sprintf("%d values %g..%g %s", len(a.Values), a.Values[0], a.Values[len(a.Values)-1], a.Unit)
}
