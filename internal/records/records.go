package records

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ScalarType is the declared type of a record set column
type ScalarType string

const (
	TypeInt    ScalarType = "int"
	TypeFloat  ScalarType = "float"
	TypeString ScalarType = "string"
	TypeBool   ScalarType = "bool"
)

var (
	ErrMissingIdentifier   = errors.New("identifier column missing")
	ErrDuplicateIdentifier = errors.New("duplicate row identifier")
	ErrTypeCoercion        = errors.New("type coercion failed")
	ErrLengthMismatch      = errors.New("column length does not match row count")
	ErrColumnExists        = errors.New("column already exists")
	ErrUnknownColumn       = errors.New("unknown column")
)

// ParseScalarType maps a type name from a model artifact to a ScalarType.
// pandas dtype names are accepted as aliases.
func ParseScalarType(name string) (ScalarType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "int64", "int32", "integer":
		return TypeInt, nil
	case "float", "float64", "float32", "double":
		return TypeFloat, nil
	case "string", "str", "object", "category":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBool, nil
	default:
		return "", fmt.Errorf("unknown scalar type %q", name)
	}
}

// CoercionError reports the first value of a column that could not be
// converted to the declared type
type CoercionError struct {
	Column string
	Row    int
	Value  any
	Type   ScalarType
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("column %s row %d: cannot convert %v to %s", e.Column, e.Row, e.Value, e.Type)
}

func (e *CoercionError) Unwrap() error {
	return ErrTypeCoercion
}

// Column is a named, typed sequence of values. Values hold int64, float64,
// string or bool according to Type.
type Column struct {
	Name   string
	Type   ScalarType
	Values []any
}

// Len returns the number of values in the column
func (c Column) Len() int {
	return len(c.Values)
}

// Floats widens a numeric column to float64
func (c Column) Floats() ([]float64, error) {
	out := make([]float64, len(c.Values))
	for i, v := range c.Values {
		switch x := v.(type) {
		case float64:
			out[i] = x
		case int64:
			out[i] = float64(x)
		case bool:
			if x {
				out[i] = 1
			}
		default:
			return nil, fmt.Errorf("column %s row %d: %v is not numeric", c.Name, i, v)
		}
	}
	return out, nil
}

// RawColumn is an uncoerced column as produced by a wire decoder. Values
// are strings for delimited text or JSON scalars (int64, float64, string,
// bool, nil).
type RawColumn struct {
	Name   string
	Values []any
}

// RecordSet is a table keyed by a unique row identifier. The identifier
// column lives in Index and is not repeated in Columns.
type RecordSet struct {
	Index   Column
	Columns []Column
}

// Build coerces raw columns to the declared types and promotes idColumn to
// the index. Declared columns absent from the data are not an error here;
// consumers that need a column check for it themselves.
func Build(idColumn string, raw []RawColumn, types map[string]ScalarType) (*RecordSet, error) {
	rs := &RecordSet{}
	foundID := false
	rows := -1

	for _, rc := range raw {
		if rows == -1 {
			rows = len(rc.Values)
		} else if len(rc.Values) != rows {
			return nil, fmt.Errorf("column %s: %w", rc.Name, ErrLengthMismatch)
		}

		col, err := coerceColumn(rc, types)
		if err != nil {
			return nil, err
		}

		if rc.Name == idColumn {
			rs.Index = col
			foundID = true
			continue
		}
		rs.Columns = append(rs.Columns, col)
	}

	if !foundID {
		return nil, fmt.Errorf("%s: %w", idColumn, ErrMissingIdentifier)
	}

	seen := make(map[string]int, rs.Len())
	for i, v := range rs.Index.Values {
		key := FormatValue(v)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("%s %q at rows %d and %d: %w", idColumn, key, prev, i, ErrDuplicateIdentifier)
		}
		seen[key] = i
	}

	return rs, nil
}

func coerceColumn(rc RawColumn, types map[string]ScalarType) (Column, error) {
	t, declared := types[rc.Name]
	if !declared {
		t = inferType(rc.Values)
	}

	col := Column{Name: rc.Name, Type: t, Values: make([]any, len(rc.Values))}
	for i, v := range rc.Values {
		cv, err := Coerce(v, t)
		if err != nil {
			return Column{}, &CoercionError{Column: rc.Name, Row: i, Value: v, Type: t}
		}
		col.Values[i] = cv
	}
	return col, nil
}

// inferType picks a type for an undeclared column from the Go types its
// values already have
func inferType(values []any) ScalarType {
	t := ScalarType("")
	for _, v := range values {
		var vt ScalarType
		switch v.(type) {
		case nil:
			continue
		case float64:
			vt = TypeFloat
		case int64:
			vt = TypeInt
		case bool:
			vt = TypeBool
		default:
			return TypeString
		}
		switch {
		case t == "":
			t = vt
		case t == vt:
		case isNumeric(t) && isNumeric(vt):
			t = TypeFloat
		default:
			return TypeString
		}
	}
	if t == "" {
		return TypeString
	}
	return t
}

func isNumeric(t ScalarType) bool {
	return t == TypeInt || t == TypeFloat
}

// Coerce converts a single raw value to t. Empty text and nil become NaN
// for floats and "" for strings; they are invalid for int and bool.
func Coerce(v any, t ScalarType) (any, error) {
	if s, ok := v.(string); ok && t != TypeString && strings.TrimSpace(s) == "" {
		v = nil
	}

	switch t {
	case TypeString:
		if v == nil {
			return "", nil
		}
		if s, ok := v.(string); ok {
			return s, nil
		}
		return FormatValue(v), nil

	case TypeFloat:
		switch x := v.(type) {
		case nil:
			return math.NaN(), nil
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(x), 64)
		case bool:
			if x {
				return 1.0, nil
			}
			return 0.0, nil
		}

	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			n, ok := integral(x)
			if !ok {
				return nil, ErrTypeCoercion
			}
			return n, nil
		case string:
			s := strings.TrimSpace(x)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, ErrTypeCoercion
			}
			n, ok := integral(f)
			if !ok {
				return nil, ErrTypeCoercion
			}
			return n, nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}

	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case float64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case int64:
			if x == 0 || x == 1 {
				return x == 1, nil
			}
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
	}
	return nil, ErrTypeCoercion
}

// integral converts f to int64 when it is a whole number inside the int64
// range. 0x1p63 is the first float64 above math.MaxInt64.
func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || f != math.Trunc(f) || f < math.MinInt64 || f >= 0x1p63 {
		return 0, false
	}
	return int64(f), true
}

// FormatValue renders a coerced value as text. NaN renders as "".
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Len returns the number of rows
func (rs *RecordSet) Len() int {
	return rs.Index.Len()
}

// Column looks up a plain column by name
func (rs *RecordSet) Column(name string) (Column, bool) {
	for _, c := range rs.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// AddColumn appends a column aligned with the existing rows
func (rs *RecordSet) AddColumn(col Column) error {
	if col.Len() != rs.Len() {
		return fmt.Errorf("column %s has %d values for %d rows: %w", col.Name, col.Len(), rs.Len(), ErrLengthMismatch)
	}
	if col.Name == rs.Index.Name {
		return fmt.Errorf("%s: %w", col.Name, ErrColumnExists)
	}
	if _, ok := rs.Column(col.Name); ok {
		return fmt.Errorf("%s: %w", col.Name, ErrColumnExists)
	}
	rs.Columns = append(rs.Columns, col)
	return nil
}

// Select returns a record set sharing the index and holding only the named
// columns, in the order given
func (rs *RecordSet) Select(names ...string) (*RecordSet, error) {
	out := &RecordSet{Index: rs.Index, Columns: make([]Column, 0, len(names))}
	for _, name := range names {
		col, ok := rs.Column(name)
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrUnknownColumn)
		}
		out.Columns = append(out.Columns, col)
	}
	return out, nil
}
