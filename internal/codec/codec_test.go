package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartoza/renewal-predictor/internal/records"
)

func testSchema() Schema {
	return Schema{
		IDColumn: "POLICY_ID",
		Types: map[string]records.ScalarType{
			"POLICY_ID": records.TypeString,
			"age":       records.TypeInt,
			"premium":   records.TypeFloat,
			"region":    records.TypeString,
		},
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		contentType string
		expected    Format
		wantErr     bool
	}{
		{"text/csv", FormatCSV, false},
		{"text/csv; charset=utf-8", FormatCSV, false},
		{"TEXT/CSV", FormatCSV, false},
		{"application/json", FormatJSON, false},
		{"application/xml", 0, true},
		{"", 0, true},
		{"not a media type;;", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			got, err := FormatFor(tt.contentType)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSupportedContentTypes(t *testing.T) {
	assert.Equal(t, []string{"text/csv", "application/json"}, SupportedContentTypes())
}

func TestDecodeUnsupported(t *testing.T) {
	reg := NewRegistry(Options{})
	_, err := reg.Decode([]byte("x"), "application/xml", testSchema())
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = reg.Encode(&records.RecordSet{}, "image/png")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestCSVRoundTrip(t *testing.T) {
	reg := NewRegistry(Options{})
	input := "POLICY_ID,age,premium,region\nA1,34,120.5,north\nA2,51,99,\"south, east\"\n"

	rs, err := reg.Decode([]byte(input), "text/csv", testSchema())
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())

	age, ok := rs.Column("age")
	require.True(t, ok)
	assert.Equal(t, []any{int64(34), int64(51)}, age.Values)

	out, err := reg.Encode(rs, "text/csv")
	require.NoError(t, err)

	again, err := reg.Decode(out, "text/csv", testSchema())
	require.NoError(t, err)
	assert.Equal(t, rs, again)
}

func TestCSVSemicolonDelimiter(t *testing.T) {
	reg := NewRegistry(Options{CSVDelimiter: ';'})
	rs, err := reg.Decode([]byte("POLICY_ID;premium\nA1;1.5\n"), "text/csv", testSchema())
	require.NoError(t, err)

	out, err := reg.Encode(rs, "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "POLICY_ID;premium\nA1;1.5\n", string(out))
}

func TestCSVDecodeErrors(t *testing.T) {
	reg := NewRegistry(Options{})
	tests := []struct {
		name   string
		input  string
		target error
	}{
		{"empty", "", ErrMalformed},
		{"ragged row", "POLICY_ID,age\nA1,1,2\n", ErrMalformed},
		{"duplicate header", "POLICY_ID,age,age\nA1,1,2\n", ErrMalformed},
		{"missing identifier", "age\n1\n", records.ErrMissingIdentifier},
		{"duplicate identifier", "POLICY_ID,age\nA1,1\nA1,2\n", records.ErrDuplicateIdentifier},
		{"bad int", "POLICY_ID,age\nA1,old\n", records.ErrTypeCoercion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Decode([]byte(tt.input), "text/csv", testSchema())
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestCSVHeaderOnly(t *testing.T) {
	reg := NewRegistry(Options{})
	rs, err := reg.Decode([]byte("POLICY_ID,age\n"), "text/csv", testSchema())
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
}

func TestJSONColumnsLayout(t *testing.T) {
	reg := NewRegistry(Options{})
	input := `{"POLICY_ID":{"0":"B7","1":"A1"},"age":{"0":40,"1":22},"premium":{"0":10.5,"1":null}}`

	rs, err := reg.Decode([]byte(input), "application/json", testSchema())
	require.NoError(t, err)

	assert.Equal(t, []any{"B7", "A1"}, rs.Index.Values, "row order follows the payload")
	age, _ := rs.Column("age")
	assert.Equal(t, []any{int64(40), int64(22)}, age.Values)

	out, err := reg.Encode(rs, "application/json")
	require.NoError(t, err)
	assert.True(t, json.Valid(out))
	assert.Equal(t,
		`{"POLICY_ID":{"0":"B7","1":"A1"},"age":{"0":40,"1":22},"premium":{"0":10.5,"1":null}}`,
		string(out))

	again, err := reg.Decode(out, "application/json", testSchema())
	require.NoError(t, err)
	assert.Equal(t, rs.Index, again.Index)
	againAge, _ := again.Column("age")
	assert.Equal(t, age, againAge)
}

func TestJSONRecordsLayout(t *testing.T) {
	reg := NewRegistry(Options{})
	input := `[{"POLICY_ID":"A1","age":30},{"age":41,"POLICY_ID":"A2","region":"west"}]`

	rs, err := reg.Decode([]byte(input), "application/json", testSchema())
	require.NoError(t, err)
	assert.Equal(t, []any{"A1", "A2"}, rs.Index.Values)

	region, ok := rs.Column("region")
	require.True(t, ok)
	assert.Equal(t, []any{"", "west"}, region.Values)
}

func TestJSONDecodeErrors(t *testing.T) {
	reg := NewRegistry(Options{})
	tests := []struct {
		name   string
		input  string
		target error
	}{
		{"empty", ``, ErrMalformed},
		{"scalar", `42`, ErrMalformed},
		{"truncated", `{"POLICY_ID":{"0":"A1"`, ErrMalformed},
		{"nested", `{"POLICY_ID":{"0":{"x":1}}}`, ErrMalformed},
		{"column not object", `{"POLICY_ID":["A1"]}`, ErrMalformed},
		{"trailing", `{"POLICY_ID":{"0":"A1"}} {}`, ErrMalformed},
		{"duplicate cell", `[{"POLICY_ID":"A1","POLICY_ID":"A2"}]`, ErrMalformed},
		{"missing identifier", `{"age":{"0":1}}`, records.ErrMissingIdentifier},
		{"duplicate identifier", `[{"POLICY_ID":"A1"},{"POLICY_ID":"A1"}]`, records.ErrDuplicateIdentifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Decode([]byte(tt.input), "application/json", testSchema())
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestCSVQuotesSpecialValues(t *testing.T) {
	reg := NewRegistry(Options{})
	rs := &records.RecordSet{
		Index: records.Column{Name: "POLICY_ID", Type: records.TypeString, Values: []any{"A,1"}},
		Columns: []records.Column{
			{Name: "label", Type: records.TypeInt, Values: []any{int64(1)}},
		},
	}
	out, err := reg.Encode(rs, "text/csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "POLICY_ID,label\n\"A,1\",1"))
}
