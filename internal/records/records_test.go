package records

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScalarType(t *testing.T) {
	tests := []struct {
		name     string
		expected ScalarType
	}{
		{"int", TypeInt},
		{"int64", TypeInt},
		{"float64", TypeFloat},
		{" Float ", TypeFloat},
		{"object", TypeString},
		{"category", TypeString},
		{"bool", TypeBool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScalarType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := ParseScalarType("datetime64")
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		typ      ScalarType
		expected any
		wantErr  bool
	}{
		{"text to int", "42", TypeInt, int64(42), false},
		{"integral text float to int", "3.0", TypeInt, int64(3), false},
		{"fractional to int", "3.5", TypeInt, nil, true},
		{"json float to int", 7.0, TypeInt, int64(7), false},
		{"text to float", "1.25", TypeFloat, 1.25, false},
		{"int to float", int64(2), TypeFloat, 2.0, false},
		{"garbage to float", "abc", TypeFloat, nil, true},
		{"text to bool", "true", TypeBool, true, false},
		{"one to bool", 1.0, TypeBool, true, false},
		{"two to bool", 2.0, TypeBool, nil, true},
		{"number to string", 12.5, TypeString, "12.5", false},
		{"nil to string", nil, TypeString, "", false},
		{"empty to int", "", TypeInt, nil, true},
		{"exponent text beyond int64", "1e30", TypeInt, nil, true},
		{"text just past max int64", "9223372036854775808", TypeInt, nil, true},
		{"negative text beyond int64", "-1e19", TypeInt, nil, true},
		{"json float beyond int64", 1e30, TypeInt, nil, true},
		{"json float at 2^63", 0x1p63, TypeInt, nil, true},
		{"json float at min int64", -0x1p63, TypeInt, int64(math.MinInt64), false},
		{"infinity text to int", "Inf", TypeInt, nil, true},
		{"max int64 text", "9223372036854775807", TypeInt, int64(math.MaxInt64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCoerceEmptyFloatIsNaN(t *testing.T) {
	got, err := Coerce("", TypeFloat)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.(float64)))
	assert.Equal(t, "", FormatValue(got))
}

func TestBuild(t *testing.T) {
	raw := []RawColumn{
		{Name: "f1", Values: []any{"1.5", "2"}},
		{Name: "POLICY_ID", Values: []any{"A1", "A2"}},
		{Name: "note", Values: []any{"x", "y"}},
	}
	types := map[string]ScalarType{"f1": TypeFloat, "POLICY_ID": TypeString}

	rs, err := Build("POLICY_ID", raw, types)
	require.NoError(t, err)

	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, "POLICY_ID", rs.Index.Name)
	assert.Equal(t, []any{"A1", "A2"}, rs.Index.Values)
	require.Len(t, rs.Columns, 2)
	assert.Equal(t, "f1", rs.Columns[0].Name)
	assert.Equal(t, []any{1.5, 2.0}, rs.Columns[0].Values)
	assert.Equal(t, TypeString, rs.Columns[1].Type)
}

func TestBuildMissingIdentifier(t *testing.T) {
	raw := []RawColumn{{Name: "f1", Values: []any{"1"}}}
	_, err := Build("POLICY_ID", raw, nil)
	assert.True(t, errors.Is(err, ErrMissingIdentifier))
}

func TestBuildDuplicateIdentifier(t *testing.T) {
	raw := []RawColumn{{Name: "POLICY_ID", Values: []any{"A1", "A1"}}}
	_, err := Build("POLICY_ID", raw, nil)
	assert.True(t, errors.Is(err, ErrDuplicateIdentifier))
}

func TestBuildCoercionError(t *testing.T) {
	raw := []RawColumn{
		{Name: "POLICY_ID", Values: []any{"A1", "A2"}},
		{Name: "f1", Values: []any{"1", "oops"}},
	}
	_, err := Build("POLICY_ID", raw, map[string]ScalarType{"f1": TypeFloat})
	require.Error(t, err)

	var cerr *CoercionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "f1", cerr.Column)
	assert.Equal(t, 1, cerr.Row)
	assert.True(t, errors.Is(err, ErrTypeCoercion))
}

func TestBuildInfersUndeclaredJSONTypes(t *testing.T) {
	raw := []RawColumn{
		{Name: "POLICY_ID", Values: []any{int64(1), int64(2)}},
		{Name: "mixed", Values: []any{int64(1), 2.5}},
		{Name: "flag", Values: []any{true, nil}},
	}
	_, err := Build("POLICY_ID", raw, nil)
	require.Error(t, err, "nil is not a valid bool")

	raw[2].Values = []any{true, false}
	rs, err := Build("POLICY_ID", raw, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeInt, rs.Index.Type)

	mixed, ok := rs.Column("mixed")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, mixed.Type)
	assert.Equal(t, []any{1.0, 2.5}, mixed.Values)
}

func TestAddColumnAndSelect(t *testing.T) {
	rs := &RecordSet{
		Index:   Column{Name: "POLICY_ID", Type: TypeString, Values: []any{"A1", "A2"}},
		Columns: []Column{{Name: "f1", Type: TypeFloat, Values: []any{1.0, 2.0}}},
	}

	err := rs.AddColumn(Column{Name: "label", Type: TypeInt, Values: []any{int64(1)}})
	assert.True(t, errors.Is(err, ErrLengthMismatch))

	err = rs.AddColumn(Column{Name: "f1", Type: TypeInt, Values: []any{int64(1), int64(0)}})
	assert.True(t, errors.Is(err, ErrColumnExists))

	require.NoError(t, rs.AddColumn(Column{Name: "label", Type: TypeInt, Values: []any{int64(1), int64(0)}}))

	sel, err := rs.Select("label")
	require.NoError(t, err)
	require.Len(t, sel.Columns, 1)
	assert.Equal(t, "label", sel.Columns[0].Name)
	assert.Equal(t, rs.Index, sel.Index)

	_, err = rs.Select("missing")
	assert.True(t, errors.Is(err, ErrUnknownColumn))
}

func TestFloats(t *testing.T) {
	c := Column{Name: "x", Values: []any{int64(2), 1.5, true}}
	got, err := c.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1.5, 1}, got)

	c = Column{Name: "s", Values: []any{"a"}}
	_, err = c.Floats()
	assert.Error(t, err)
}

func TestBuildRejectsOutOfRangeInt(t *testing.T) {
	raw := []RawColumn{
		{Name: "POLICY_ID", Values: []any{"A1", "A2"}},
		{Name: "age", Values: []any{"41", "9223372036854775808"}},
	}
	_, err := Build("POLICY_ID", raw, map[string]ScalarType{"age": TypeInt})
	require.Error(t, err)

	var cerr *CoercionError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "age", cerr.Column)
	assert.Equal(t, 1, cerr.Row)
}
