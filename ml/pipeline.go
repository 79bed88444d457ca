package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

const artifactVersion = 1

var (
	ErrMissingColumns = errors.New("columns are missing")
	ErrUnknownColumns = errors.New("columns not recognized by the model")
)

// FeatureKind selects how a feature column is encoded.
type FeatureKind string

const (
	FeatureNumeric     FeatureKind = "numeric"
	FeatureCategorical FeatureKind = "categorical"
)

// Feature is one input column of the pipeline's feature transform.
type Feature struct {
	Name       string      `json:"name"`
	Kind       FeatureKind `json:"kind"`
	Categories []string    `json:"categories,omitempty"`
}

type artifact struct {
	Version  int               `json:"version"`
	Features []Feature         `json:"features"`
	Classes  []json.RawMessage `json:"classes"`
	Tree     []TreeNode        `json:"tree"`
}

// ModelPipeline is a feature transform (numeric passthrough, one-hot for
// categoricals) followed by a decision tree classifier. It is immutable
// once built, so Predict is safe for concurrent use.
type ModelPipeline struct {
	features   []Feature
	classes    []Label
	tree       *DecisionTree
	offsets    []int
	categories []map[string]int
	width      int
}

// NewModelPipeline validates the parts and builds the encoder tables.
func NewModelPipeline(features []Feature, classes []Label, nodes []TreeNode) (*ModelPipeline, error) {
	if len(features) == 0 {
		return nil, errors.New("pipeline has no features")
	}
	if len(classes) == 0 {
		return nil, errors.New("pipeline has no classes")
	}

	p := &ModelPipeline{
		features:   make([]Feature, len(features)),
		classes:    make([]Label, len(classes)),
		offsets:    make([]int, len(features)),
		categories: make([]map[string]int, len(features)),
	}
	seen := make(map[string]bool, len(features))
	for i, f := range features {
		if f.Name == "" {
			return nil, fmt.Errorf("feature %d has no name", i)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("duplicate feature %q", f.Name)
		}
		seen[f.Name] = true

		p.offsets[i] = p.width
		switch f.Kind {
		case FeatureNumeric:
			p.width++
		case FeatureCategorical:
			if len(f.Categories) == 0 {
				return nil, fmt.Errorf("categorical feature %q has no categories", f.Name)
			}
			index := make(map[string]int, len(f.Categories))
			for j, c := range f.Categories {
				if _, dup := index[c]; dup {
					return nil, fmt.Errorf("feature %q: duplicate category %q", f.Name, c)
				}
				index[c] = j
			}
			p.categories[i] = index
			p.width += len(f.Categories)
		default:
			return nil, fmt.Errorf("feature %q: unsupported kind %q", f.Name, f.Kind)
		}
		p.features[i] = Feature{Name: f.Name, Kind: f.Kind, Categories: append([]string(nil), f.Categories...)}
	}
	for i, c := range classes {
		if !json.Valid(c) {
			return nil, fmt.Errorf("class %d is not a valid JSON value", i)
		}
		p.classes[i] = append(Label(nil), bytes.TrimSpace(c)...)
	}

	p.tree = NewDecisionTree(nodes)
	if err := p.tree.Validate(p.width, len(p.classes)); err != nil {
		return nil, fmt.Errorf("invalid tree: %w", err)
	}
	return p, nil
}

// ParseModel decodes a JSON pipeline artifact.
func ParseModel(data []byte) (*ModelPipeline, error) {
	var a artifact
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	classes := make([]Label, len(a.Classes))
	for i, c := range a.Classes {
		classes[i] = Label(c)
	}
	return NewModelPipeline(a.Features, classes, a.Tree)
}

// Features returns the input columns the pipeline was trained on.
func (p *ModelPipeline) Features() []Feature {
	out := make([]Feature, len(p.features))
	copy(out, p.features)
	return out
}

// Classes returns the labels the classifier can emit.
func (p *ModelPipeline) Classes() []Label {
	out := make([]Label, len(p.classes))
	for i, c := range p.classes {
		out[i] = append(Label(nil), c...)
	}
	return out
}

// Save writes the pipeline as a JSON artifact.
func (p *ModelPipeline) Save(path string) error {
	a := artifact{
		Version:  artifactVersion,
		Features: p.Features(),
		Tree:     p.tree.Nodes(),
	}
	for _, c := range p.classes {
		a.Classes = append(a.Classes, json.RawMessage(c))
	}
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// Predict encodes every row and classifies it. A frame without rows yields
// an empty, non-nil slice.
func (p *ModelPipeline) Predict(ctx context.Context, frame Frame) ([]Label, error) {
	index, err := p.columnIndex(frame.Columns)
	if err != nil {
		return nil, err
	}

	labels := make([]Label, 0, len(frame.Rows))
	vector := make([]float64, p.width)
	for i, row := range frame.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(row) != len(frame.Columns) {
			return nil, fmt.Errorf("row %d: expected %d cells, got %d", i, len(frame.Columns), len(row))
		}
		if err := p.encode(row, index, vector); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		class, err := p.tree.Predict(vector)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		labels = append(labels, p.classes[class])
	}
	return labels, nil
}

// columnIndex maps each pipeline feature to its position in columns.
func (p *ModelPipeline) columnIndex(columns []string) ([]int, error) {
	position := make(map[string]int, len(columns))
	var unknown []string
	for i, name := range columns {
		if _, dup := position[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		position[name] = i
	}
	known := make(map[string]bool, len(p.features))
	index := make([]int, len(p.features))
	var missing []string
	for i, f := range p.features {
		known[f.Name] = true
		pos, ok := position[f.Name]
		if !ok {
			missing = append(missing, f.Name)
			continue
		}
		index[i] = pos
	}
	for _, name := range columns {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumns, strings.Join(unknown, ", "))
	}
	return index, nil
}

func (p *ModelPipeline) encode(row []any, index []int, vector []float64) error {
	for i := range vector {
		vector[i] = 0
	}
	for i, f := range p.features {
		cell := row[index[i]]
		switch f.Kind {
		case FeatureNumeric:
			value, err := numericCell(cell)
			if err != nil {
				return fmt.Errorf("column %q: %w", f.Name, err)
			}
			vector[p.offsets[i]] = value
		case FeatureCategorical:
			value, ok := cell.(string)
			if !ok {
				return fmt.Errorf("column %q: expected string, got %T", f.Name, cell)
			}
			if j, ok := p.categories[i][value]; ok {
				vector[p.offsets[i]+j] = 1
			}
		}
	}
	return nil
}

func numericCell(cell any) (float64, error) {
	switch v := cell.(type) {
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", cell)
	}
}
