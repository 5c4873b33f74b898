// Package pipeline turns one uploaded part into its scored counterpart:
// decode, score, attach predictions, keep only identifier and predictions,
// encode back to the part's own content type.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/kartoza/renewal-predictor/internal/codec"
	"github.com/kartoza/renewal-predictor/internal/model"
	"github.com/kartoza/renewal-predictor/internal/records"
)

// Kind classifies why a part failed
type Kind int

const (
	KindUnsupportedFormat Kind = iota + 1
	KindDecodeFailed
	KindMissingFeature
	KindScoreFailed
	KindEncodeFailed
	KindWorkerFault
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindDecodeFailed:
		return "decode_failed"
	case KindMissingFeature:
		return "missing_feature"
	case KindScoreFailed:
		return "score_failed"
	case KindEncodeFailed:
		return "encode_failed"
	case KindWorkerFault:
		return "worker_fault"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PartError is the failure of a single part. It never affects siblings.
type PartError struct {
	Kind Kind
	Err  error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PartError) Unwrap() error {
	return e.Err
}

// Fail wraps err as a PartError of the given kind
func Fail(kind Kind, err error) *PartError {
	return &PartError{Kind: kind, Err: err}
}

// KindOf returns the kind of a PartError in err's chain, or 0
func KindOf(err error) Kind {
	var pe *PartError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// Default names of the prediction columns
const (
	DefaultLabelColumn       = "label"
	DefaultProbabilityColumn = "probability"
)

// Pipeline holds the read-only collaborators shared by every part
type Pipeline struct {
	codecs            *codec.Registry
	bundle            *model.Bundle
	labelColumn       string
	probabilityColumn string
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithPredictionColumns overrides the names of the attached columns
func WithPredictionColumns(label, probability string) Option {
	return func(p *Pipeline) {
		if label != "" {
			p.labelColumn = label
		}
		if probability != "" {
			p.probabilityColumn = probability
		}
	}
}

// New creates a pipeline
func New(codecs *codec.Registry, bundle *model.Bundle, opts ...Option) *Pipeline {
	p := &Pipeline{
		codecs:            codecs,
		bundle:            bundle,
		labelColumn:       DefaultLabelColumn,
		probabilityColumn: DefaultProbabilityColumn,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one part through the pipeline. A non-nil error is always a
// *PartError.
func (p *Pipeline) Process(raw []byte, contentType string) ([]byte, error) {
	if _, err := codec.FormatFor(contentType); err != nil {
		return nil, Fail(KindUnsupportedFormat, err)
	}

	rs, err := p.codecs.Decode(raw, contentType, p.bundle.Schema())
	if err != nil {
		return nil, Fail(KindDecodeFailed, err)
	}

	labels, err := p.bundle.PredictLabels(rs)
	if err != nil {
		return nil, scoreFailure(err)
	}
	proba, err := p.bundle.PredictProbabilities(rs)
	if err != nil {
		return nil, scoreFailure(err)
	}

	out, err := p.attach(rs, labels, proba)
	if err != nil {
		return nil, Fail(KindScoreFailed, err)
	}

	encoded, err := p.codecs.Encode(out, contentType)
	if err != nil {
		return nil, Fail(KindEncodeFailed, err)
	}
	return encoded, nil
}

// attach adds the prediction columns and keeps only identifier and
// predictions for the response
func (p *Pipeline) attach(rs *records.RecordSet, labels []int, proba []float64) (*records.RecordSet, error) {
	labelValues := make([]any, len(labels))
	for i, l := range labels {
		labelValues[i] = int64(l)
	}
	probaValues := make([]any, len(proba))
	for i, v := range proba {
		probaValues[i] = v
	}

	// the input may carry columns with the same names; predictions win
	augmented := &records.RecordSet{Index: rs.Index}
	for _, c := range rs.Columns {
		if c.Name != p.labelColumn && c.Name != p.probabilityColumn {
			augmented.Columns = append(augmented.Columns, c)
		}
	}
	if err := augmented.AddColumn(records.Column{Name: p.labelColumn, Type: records.TypeInt, Values: labelValues}); err != nil {
		return nil, err
	}
	if err := augmented.AddColumn(records.Column{Name: p.probabilityColumn, Type: records.TypeFloat, Values: probaValues}); err != nil {
		return nil, err
	}

	return augmented.Select(p.labelColumn, p.probabilityColumn)
}

func scoreFailure(err error) *PartError {
	if errors.Is(err, model.ErrMissingFeature) {
		return Fail(KindMissingFeature, err)
	}
	return Fail(KindScoreFailed, err)
}
