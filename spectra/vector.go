package spectra

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Vector is a spectrum.  It encodes to JSON as an array of numbers with null
// in place of NaN and ±Inf, which JSON cannot represent, and decodes null
// back to NaN
type Vector []float64

// MarshalJSON satisfies json.Marshaler
func (v Vector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(v)*8))
	buf.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			buf.WriteString("null")
			continue
		}
		buf.Write(strconv.AppendFloat(nil, x, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON satisfies json.Unmarshaler
func (v *Vector) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	out := make(Vector, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *p
	}
	*v = out
	return nil
}
