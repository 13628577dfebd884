package persist

import (
	"fmt"
	"math"
	"os"

	"github.com/astrogo/fitsio"
)

// WriteFITS writes a delays x pixels matrix as a 64-bit float image, with
// the delays in a second, one dimensional, image extension.  Every row of
// m must have the same length
func WriteFITS(path string, meta Metadata, delays []float64, m [][]float64) error {
	if len(m) == 0 || len(m[0]) == 0 {
		return fmt.Errorf("no data to write to %s", path)
	}
	width, height := len(m[0]), len(m)
	flat := make([]float64, 0, width*height)
	for i, r := range m {
		if len(r) != width {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()

	im := fitsio.NewImage(-64, []int{width, height})
	defer im.Close()
	meta = meta.Normalized()
	err = im.Header().Append(
		fitsio.Card{Name: "OBJECT", Value: meta.Sample},
		fitsio.Card{Name: "SOLVENT", Value: meta.Solvent},
		fitsio.Card{Name: "PUMP", Value: meta.Pump, Comment: meta.PumpUnit},
		fitsio.Card{Name: "PATHLEN", Value: meta.PathLength, Comment: meta.PathLengthUnit},
		fitsio.Card{Name: "EXCPOWER", Value: meta.ExcitationPower, Comment: meta.ExcitationPowerUnit},
		fitsio.Card{Name: "BUNIT", Value: "dA"},
	)
	if err != nil {
		return err
	}
	if err = im.Write(flat); err != nil {
		return err
	}
	if err = fits.Write(im); err != nil {
		return err
	}

	d := make([]float64, height)
	for i := range d {
		d[i] = math.NaN()
	}
	copy(d, delays)
	ext := fitsio.NewImage(-64, []int{height})
	defer ext.Close()
	err = ext.Header().Append(
		fitsio.Card{Name: "EXTNAME", Value: "DELAYS"},
		fitsio.Card{Name: "BUNIT", Value: "ps"},
	)
	if err != nil {
		return err
	}
	if err = ext.Write(d); err != nil {
		return err
	}
	if err = fits.Write(ext); err != nil {
		return err
	}
	log.Infof("saved %dx%d dA image to %s", height, width, path)
	return nil
}
