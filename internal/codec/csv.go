package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/kartoza/renewal-predictor/internal/records"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeCSV(raw []byte, delim rune) ([]records.RawColumn, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	reader.Comma = delim

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv payload: %w", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %v: %w", err, ErrMalformed)
	}

	cols := make([]records.RawColumn, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if seen[name] {
			return nil, fmt.Errorf("duplicate csv column %q: %w", name, ErrMalformed)
		}
		seen[name] = true
		cols[i] = records.RawColumn{Name: name}
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row: %v: %w", err, ErrMalformed)
		}
		for i, field := range row {
			cols[i].Values = append(cols[i].Values, field)
		}
	}

	return cols, nil
}

func encodeCSV(rs *records.RecordSet, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim

	header := make([]string, 0, len(rs.Columns)+1)
	header = append(header, rs.Index.Name)
	for _, c := range rs.Columns {
		header = append(header, c.Name)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := make([]string, len(header))
	for i := 0; i < rs.Len(); i++ {
		row[0] = records.FormatValue(rs.Index.Values[i])
		for j, c := range rs.Columns {
			row[j+1] = records.FormatValue(c.Values[i])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
