// Package snapshot reads and writes snapshot matrices: one state per row,
// either as CSV text or in the gonum binary matrix format.
package snapshot

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var ErrEmpty = errors.New("snapshot file holds no values")

// LoadCSV reads a matrix with one snapshot per row.
// Rows must all have the same number of fields.
func LoadCSV(r io.Reader) (*mat.Dense, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var (
		data []float64
		rows int
		cols int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", rows+1, err)
		}
		if rows == 0 {
			cols = len(record)
		}
		for j, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %d: %w", rows+1, j+1, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if rows == 0 || cols == 0 {
		return nil, ErrEmpty
	}
	return mat.NewDense(rows, cols, data), nil
}

// SaveCSV writes m with one row per line
func SaveCSV(w io.Writer, m mat.Matrix) error {
	writer := csv.NewWriter(w)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := range rows {
		for j := range cols {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Load reads a snapshot matrix from path; files ending in .csv are parsed as
// text, anything else as a gonum binary matrix
func Load(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if isCSV(path) {
		m, err := LoadCSV(bufio.NewReader(f))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return m, nil
	}
	var m mat.Dense
	if _, err := m.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.IsEmpty() {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return &m, nil
}

// Save writes m to path in the format selected by its extension
func Save(path string, m *mat.Dense) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if isCSV(path) {
		err = SaveCSV(w, m)
	} else {
		_, err = m.MarshalBinaryTo(w)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return w.Flush()
}

func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}
