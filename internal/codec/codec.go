// Package codec converts uploaded payloads between their wire encoding and
// record sets. The set of formats is closed: adding one means adding a
// Format constant and a case to every switch below.
package codec

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/kartoza/renewal-predictor/internal/records"
)

// Format is a supported wire encoding
type Format int

const (
	FormatCSV Format = iota
	FormatJSON
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMalformed         = errors.New("malformed payload")
)

// formats lists every Format in registry order
var formats = []Format{FormatCSV, FormatJSON}

// ContentType returns the media type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	default:
		return ""
	}
}

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFor resolves a Content-Type header value. Parameters such as
// charset are ignored.
func FormatFor(contentType string) (Format, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", contentType, ErrUnsupportedFormat)
	}
	for _, f := range formats {
		if strings.EqualFold(mediaType, f.ContentType()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", contentType, ErrUnsupportedFormat)
}

// SupportedContentTypes lists the media types the registry accepts
func SupportedContentTypes() []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = f.ContentType()
	}
	return out
}

// Schema tells the decoder which column identifies rows and what type each
// declared column has
type Schema struct {
	IDColumn string
	Types    map[string]records.ScalarType
}

// Options configures the registry
type Options struct {
	CSVDelimiter rune
}

// Registry decodes and encodes record sets. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	csvDelimiter rune
}

// NewRegistry creates a registry. A zero delimiter means ','.
func NewRegistry(opts Options) *Registry {
	delim := opts.CSVDelimiter
	if delim == 0 {
		delim = ','
	}
	return &Registry{csvDelimiter: delim}
}

// Decode parses raw in the given content type into a record set
func (r *Registry) Decode(raw []byte, contentType string, schema Schema) (*records.RecordSet, error) {
	format, err := FormatFor(contentType)
	if err != nil {
		return nil, err
	}

	var cols []records.RawColumn
	switch format {
	case FormatCSV:
		cols, err = decodeCSV(raw, r.csvDelimiter)
	case FormatJSON:
		cols, err = decodeJSON(raw)
	}
	if err != nil {
		return nil, err
	}

	return records.Build(schema.IDColumn, cols, schema.Types)
}

// Encode serialises rs in the given content type. Row order is preserved
// and the identifier is written as an explicit column.
func (r *Registry) Encode(rs *records.RecordSet, contentType string) ([]byte, error) {
	format, err := FormatFor(contentType)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return encodeCSV(rs, r.csvDelimiter)
	case FormatJSON:
		return encodeJSON(rs)
	}
	return nil, fmt.Errorf("%s: %w", format, ErrUnsupportedFormat)
}
