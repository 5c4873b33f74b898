package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/kartoza/renewal-predictor/internal/codec"
	"github.com/kartoza/renewal-predictor/internal/records"
)

// DefaultIDColumn identifies policies in uploaded files
const DefaultIDColumn = "POLICY_ID"

var (
	ErrMissingFeature    = errors.New("missing feature column")
	ErrNonNumericFeature = errors.New("feature column is not numeric")
	ErrNonFiniteFeature  = errors.New("feature value is missing or not finite")
	ErrNonFiniteScore    = errors.New("classifier produced a non-finite probability")
	ErrOutputLength      = errors.New("classifier output length does not match row count")
	ErrInvalidArtifact   = errors.New("invalid model artifact")
)

// MissingFeatureError names the feature columns a record set lacks
type MissingFeatureError struct {
	Columns []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("record set lacks feature columns %v", e.Columns)
}

func (e *MissingFeatureError) Unwrap() error {
	return ErrMissingFeature
}

// Bundle is the loaded classifier together with the schema it expects.
// It is never modified after Load and is shared by all workers.
type Bundle struct {
	classifier  Classifier
	kind        string
	idColumn    string
	columnTypes map[string]records.ScalarType
	features    []string
}

// NewBundle validates its arguments and builds a bundle. Every feature
// must be a declared column and the classifier must take exactly
// len(features) inputs.
func NewBundle(c Classifier, idColumn string, columnTypes map[string]records.ScalarType, features []string) (*Bundle, error) {
	if c == nil {
		return nil, fmt.Errorf("nil classifier: %w", ErrInvalidArtifact)
	}
	if idColumn == "" {
		idColumn = DefaultIDColumn
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no features: %w", ErrInvalidArtifact)
	}

	seen := make(map[string]bool, len(features))
	for _, f := range features {
		if seen[f] {
			return nil, fmt.Errorf("feature %s listed twice: %w", f, ErrInvalidArtifact)
		}
		seen[f] = true
		t, ok := columnTypes[f]
		if !ok {
			return nil, fmt.Errorf("feature %s has no declared type: %w", f, ErrInvalidArtifact)
		}
		if t == records.TypeString {
			return nil, fmt.Errorf("feature %s is declared as string: %w", f, ErrInvalidArtifact)
		}
		if f == idColumn {
			return nil, fmt.Errorf("identifier %s cannot be a feature: %w", f, ErrInvalidArtifact)
		}
	}
	if c.NumFeatures() != len(features) {
		return nil, fmt.Errorf("classifier takes %d features, bundle lists %d: %w", c.NumFeatures(), len(features), ErrInvalidArtifact)
	}

	types := make(map[string]records.ScalarType, len(columnTypes))
	for k, v := range columnTypes {
		types[k] = v
	}

	return &Bundle{
		classifier:  c,
		idColumn:    idColumn,
		columnTypes: types,
		features:    append([]string(nil), features...),
	}, nil
}

// IDColumn returns the row identifier column name
func (b *Bundle) IDColumn() string { return b.idColumn }

// Kind returns the classifier kind named in the artifact
func (b *Bundle) Kind() string { return b.kind }

// Features returns a copy of the ordered feature list
func (b *Bundle) Features() []string {
	return append([]string(nil), b.features...)
}

// Schema returns the decoding schema for uploaded parts
func (b *Bundle) Schema() codec.Schema {
	return codec.Schema{IDColumn: b.idColumn, Types: b.columnTypes}
}

// project builds the feature matrix in feature order
func (b *Bundle) project(rs *records.RecordSet) ([][]float64, error) {
	var missing []string
	cols := make([][]float64, len(b.features))
	for j, name := range b.features {
		col, ok := rs.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		values, err := col.Floats()
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrNonNumericFeature)
		}
		cols[j] = values
	}
	if len(missing) > 0 {
		return nil, &MissingFeatureError{Columns: missing}
	}

	x := make([][]float64, rs.Len())
	for i := range x {
		row := make([]float64, len(cols))
		for j := range cols {
			v := cols[j][i]
			// empty float cells decode as NaN
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("column %s row %d: %w", b.features[j], i, ErrNonFiniteFeature)
			}
			row[j] = v
		}
		x[i] = row
	}
	return x, nil
}

// PredictLabels returns one label per row in row order
func (b *Bundle) PredictLabels(rs *records.RecordSet) ([]int, error) {
	x, err := b.project(rs)
	if err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return []int{}, nil
	}
	labels, err := b.classifier.PredictLabels(x)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(x) {
		return nil, fmt.Errorf("got %d labels for %d rows: %w", len(labels), len(x), ErrOutputLength)
	}
	return labels, nil
}

// PredictProbabilities returns the positive class probability per row in
// row order, clamped to [0, 1]
func (b *Bundle) PredictProbabilities(rs *records.RecordSet) ([]float64, error) {
	x, err := b.project(rs)
	if err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return []float64{}, nil
	}
	proba, err := b.classifier.PredictProbabilities(x)
	if err != nil {
		return nil, err
	}
	if len(proba) != len(x) {
		return nil, fmt.Errorf("got %d probabilities for %d rows: %w", len(proba), len(x), ErrOutputLength)
	}
	out := make([]float64, len(proba))
	for i, p := range proba {
		if math.IsNaN(p) {
			return nil, fmt.Errorf("row %d: %w", i, ErrNonFiniteScore)
		}
		out[i] = math.Min(1, math.Max(0, p))
	}
	return out, nil
}

// artifact is the on-disk layout of a model bundle
type artifact struct {
	IDColumn string            `json:"id_column"`
	Types    map[string]string `json:"types"`
	Features []string          `json:"features"`
	Model    struct {
		Kind         string              `json:"kind"`
		Logistic     *LogisticRegression `json:"logistic,omitempty"`
		DecisionTree *DecisionTree       `json:"decision_tree,omitempty"`
	} `json:"model"`
}

// Load reads a bundle artifact from disk. A bundle is either fully valid or
// not returned at all.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %v: %w", err, ErrInvalidArtifact)
	}

	types := make(map[string]records.ScalarType, len(a.Types))
	for name, tn := range a.Types {
		t, err := records.ParseScalarType(tn)
		if err != nil {
			return nil, fmt.Errorf("column %s: %v: %w", name, err, ErrInvalidArtifact)
		}
		types[name] = t
	}

	var c Classifier
	switch a.Model.Kind {
	case "logistic":
		if a.Model.Logistic == nil {
			return nil, fmt.Errorf("logistic model has no parameters: %w", ErrInvalidArtifact)
		}
		if t := a.Model.Logistic.Threshold; t < 0 || t > 1 {
			return nil, fmt.Errorf("logistic threshold %v out of range: %w", t, ErrInvalidArtifact)
		}
		c = a.Model.Logistic
	case "decision_tree":
		if a.Model.DecisionTree == nil {
			return nil, fmt.Errorf("decision tree has no nodes: %w", ErrInvalidArtifact)
		}
		if err := a.Model.DecisionTree.validate(); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidArtifact)
		}
		c = a.Model.DecisionTree
	default:
		return nil, fmt.Errorf("unsupported model kind %q: %w", a.Model.Kind, ErrInvalidArtifact)
	}

	b, err := NewBundle(c, a.IDColumn, types, a.Features)
	if err != nil {
		return nil, err
	}
	b.kind = a.Model.Kind
	return b, nil
}
