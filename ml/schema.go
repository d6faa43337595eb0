package ml

import (
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// FeatureSchema is the training-time symptom order. Position i of every
// FeatureVector refers to Names()[i].
type FeatureSchema struct {
	names []string
	index map[string]int
}

func NewFeatureSchema(names []string) (*FeatureSchema, error) {
	if len(names) == 0 {
		return nil, errors.New("feature schema is empty")
	}
	schema := &FeatureSchema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("feature %d has an empty name", i)
		}
		key := normalizeSymptom(name)
		if prev, ok := schema.index[key]; ok {
			return nil, fmt.Errorf("feature %q duplicated at positions %d and %d", name, prev, i)
		}
		schema.names[i] = name
		schema.index[key] = i
	}
	return schema, nil
}

func (s *FeatureSchema) Len() int {
	return len(s.names)
}

// Names returns a copy of the schema in training order.
func (s *FeatureSchema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Index reports the vector position of a symptom.
func (s *FeatureSchema) Index(symptom string) (int, bool) {
	i, ok := s.index[normalizeSymptom(symptom)]
	return i, ok
}

// Encode builds the binary FeatureVector for a query. Unknown symptoms are
// ignored and duplicates set the same position.
func (s *FeatureSchema) Encode(symptoms []string) []float64 {
	vector := make([]float64, len(s.names))
	for _, symptom := range symptoms {
		if i, ok := s.Index(symptom); ok {
			vector[i] = 1
		}
	}
	return vector
}

func normalizeSymptom(s string) string {
	return norm.NFC.String(s)
}
