package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/kartoza/renewal-predictor/internal/records"
)

// decodeJSON accepts either the column-oriented layout
// {"col": {"row": value}} or an array of row objects [{"col": value}].
// Key order is taken from the payload, not from map iteration.
func decodeJSON(raw []byte) ([]records.RawColumn, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty json payload: %w", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("json: %v: %w", err, ErrMalformed)
	}

	var cols []records.RawColumn
	switch tok {
	case json.Delim('{'):
		cols, err = decodeColumnsLayout(dec)
	case json.Delim('['):
		cols, err = decodeRecordsLayout(dec)
	default:
		return nil, fmt.Errorf("json: expected object or array, got %v: %w", tok, ErrMalformed)
	}
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("json: trailing data after payload: %w", ErrMalformed)
	}
	return cols, nil
}

// table accumulates cells keyed by column and row while keeping the order
// in which each was first seen
type table struct {
	columns  []string
	rows     []string
	colIndex map[string]int
	rowIndex map[string]int
	cells    map[[2]int]any
}

func newTable() *table {
	return &table{
		colIndex: make(map[string]int),
		rowIndex: make(map[string]int),
		cells:    make(map[[2]int]any),
	}
}

func (t *table) set(col, row string, v any) error {
	ci, ok := t.colIndex[col]
	if !ok {
		ci = len(t.columns)
		t.colIndex[col] = ci
		t.columns = append(t.columns, col)
	}
	ri, ok := t.rowIndex[row]
	if !ok {
		ri = len(t.rows)
		t.rowIndex[row] = ri
		t.rows = append(t.rows, row)
	}
	key := [2]int{ci, ri}
	if _, dup := t.cells[key]; dup {
		return fmt.Errorf("json: duplicate cell %s[%s]: %w", col, row, ErrMalformed)
	}
	t.cells[key] = v
	return nil
}

func (t *table) rawColumns() []records.RawColumn {
	out := make([]records.RawColumn, len(t.columns))
	for ci, name := range t.columns {
		values := make([]any, len(t.rows))
		for ri := range t.rows {
			values[ri] = t.cells[[2]int{ci, ri}]
		}
		out[ci] = records.RawColumn{Name: name, Values: values}
	}
	return out
}

func decodeColumnsLayout(dec *json.Decoder) ([]records.RawColumn, error) {
	t := newTable()
	err := readObject(dec, func(col string) error {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: %v: %w", err, ErrMalformed)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: column %s is not an object: %w", col, ErrMalformed)
		}
		return readObject(dec, func(row string) error {
			v, err := readScalar(dec)
			if err != nil {
				return err
			}
			return t.set(col, row, v)
		})
	})
	if err != nil {
		return nil, err
	}
	return t.rawColumns(), nil
}

func decodeRecordsLayout(dec *json.Decoder) ([]records.RawColumn, error) {
	t := newTable()
	for i := 0; dec.More(); i++ {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: %v: %w", err, ErrMalformed)
		}
		if tok != json.Delim('{') {
			return nil, fmt.Errorf("json: record %d is not an object: %w", i, ErrMalformed)
		}
		row := strconv.Itoa(i)
		err = readObject(dec, func(col string) error {
			v, err := readScalar(dec)
			if err != nil {
				return err
			}
			return t.set(col, row, v)
		})
		if err != nil {
			return nil, err
		}
		// a record with no keys still counts as a row
		if _, ok := t.rowIndex[row]; !ok {
			t.rowIndex[row] = len(t.rows)
			t.rows = append(t.rows, row)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("json: %v: %w", err, ErrMalformed)
	}
	return t.rawColumns(), nil
}

// readObject walks the members of an object whose opening brace has
// already been consumed, and consumes the closing brace
func readObject(dec *json.Decoder, member func(key string) error) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: %v: %w", err, ErrMalformed)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("json: unexpected token %v: %w", tok, ErrMalformed)
		}
		if err := member(key); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("json: %v: %w", err, ErrMalformed)
	}
	return nil
}

func readScalar(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("json: %v: %w", err, ErrMalformed)
	}
	switch v := tok.(type) {
	case nil, string, bool:
		return v, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("json: bad number %s: %w", v, ErrMalformed)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("json: nested value %v is not a scalar: %w", tok, ErrMalformed)
	}
}

// encodeJSON writes the column-oriented layout with the identifier reset
// into an ordinary column and positional row keys
func encodeJSON(rs *records.RecordSet) ([]byte, error) {
	var buf bytes.Buffer
	cols := make([]records.Column, 0, len(rs.Columns)+1)
	cols = append(cols, rs.Index)
	cols = append(cols, rs.Columns...)

	buf.WriteByte('{')
	for ci, c := range cols {
		if ci > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(&buf, c.Name); err != nil {
			return nil, err
		}
		buf.WriteString(":{")
		for ri, v := range c.Values {
			if ri > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(strconv.Itoa(ri))
			buf.WriteString(`":`)
			if err := writeScalar(&buf, v); err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", c.Name, ri, err)
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func writeScalar(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return writeString(buf, x)
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case int:
		buf.WriteString(strconv.Itoa(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}
