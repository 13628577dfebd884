package delay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DelayColumn is the CSV column holding delays, shared with the scan files
// tascan writes so a previous measurement can be replayed
const DelayColumn = "Delay (ps)"

// LoadFile reads delays from a .csv or text file
func LoadFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	return ReadText(f)
}

// ReadCSV reads the DelayColumn of a CSV file with a header row.
// Rows with an empty delay cell are skipped
func ReadCSV(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.TrimSpace(h) == DelayColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("the CSV file does not contain a %q column", DelayColumn)}
	}
	out := []float64{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if col >= len(rec) || strings.TrimSpace(rec[col]) == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("line %d: %v", line, err)}
		}
		out = append(out, f)
	}
	return out, nil
}

// ReadText reads comma or newline separated delays.  A leading "ps" or
// "Delay (ps)" token is treated as a header
func ReadText(r io.Reader) ([]float64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(string(b), func(c rune) bool {
		return c == ',' || c == '\n' || c == '\r' || c == ';'
	})
	out := []float64{}
	for i, tok := range fields {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if i == 0 && (tok == "ps" || tok == DelayColumn) {
			continue
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("value %d: %v", i+1, err)}
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, &ConfigurationError{Reason: "no delays in file"}
	}
	return out, nil
}
