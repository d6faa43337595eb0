package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LabelEncoder maps label ids to disease names. The id of a name is its
// position in Classes, as with a fitted sklearn LabelEncoder.
type LabelEncoder struct {
	classes []string
}

type labelEncoderFile struct {
	Classes []string `json:"classes"`
}

func NewLabelEncoder(classes []string) (*LabelEncoder, error) {
	if len(classes) == 0 {
		return nil, errors.New("label encoder has no classes")
	}
	seen := make(map[string]bool, len(classes))
	for _, name := range classes {
		if seen[name] {
			return nil, fmt.Errorf("label %q duplicated", name)
		}
		seen[name] = true
	}
	return &LabelEncoder{classes: append([]string(nil), classes...)}, nil
}

// LoadLabelEncoder reads {"classes": [...]} or a bare JSON array.
func LoadLabelEncoder(path string) (*LabelEncoder, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseLabelEncoder(payload)
}

func parseLabelEncoder(payload []byte) (*LabelEncoder, error) {
	payload = bytes.TrimSpace(payload)
	var classes []string
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &classes); err != nil {
			return nil, fmt.Errorf("decode label encoder: %w", err)
		}
	} else {
		var file labelEncoderFile
		if err := json.Unmarshal(payload, &file); err != nil {
			return nil, fmt.Errorf("decode label encoder: %w", err)
		}
		classes = file.Classes
	}
	return NewLabelEncoder(classes)
}

func (e *LabelEncoder) Len() int {
	return len(e.classes)
}

func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

// InverseTransform decodes label ids to names.
func (e *LabelEncoder) InverseTransform(ids ...int) ([]string, error) {
	names := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(e.classes) {
			return nil, fmt.Errorf("unknown label id %d (encoder has %d classes)", id, len(e.classes))
		}
		names[i] = e.classes[id]
	}
	return names, nil
}
