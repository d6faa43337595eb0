package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
)

// Artifacts is everything a prediction reads. It is built completely by
// LoadArtifacts and never modified afterwards.
type Artifacts struct {
	Schema     *FeatureSchema
	Classifier Classifier
	Encoder    *LabelEncoder
	ModelType  string
	Version    string
	LoadedAt   time.Time
}

// LoadArtifacts reads the label encoder and model named by cfg and checks
// that they agree with each other.
func LoadArtifacts(cfg ModelConfig) (*Artifacts, error) {
	encoder, err := LoadLabelEncoder(cfg.LabelEncoderPath)
	if err != nil {
		return nil, fmt.Errorf("load label encoder: %w", err)
	}
	model, header, err := LoadModel(cfg, encoder.Len())
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	a, err := assemble(header, model, encoder)
	if err != nil {
		return nil, multierr.Append(err, model.Close())
	}

	paths := []string{cfg.Path, cfg.LabelEncoderPath}
	if cfg.FeaturesPath != "" {
		paths = append(paths, cfg.FeaturesPath)
	}
	version, err := digestFiles(paths...)
	if err != nil {
		return nil, multierr.Append(err, model.Close())
	}
	a.Version = version
	return a, nil
}

// NewArtifacts bundles already constructed parts, applying the same checks
// as LoadArtifacts.
func NewArtifacts(featureNames []string, model Classifier, encoder *LabelEncoder) (*Artifacts, error) {
	return assemble(ArtifactHeader{FeatureNames: featureNames}, model, encoder)
}

func assemble(header ArtifactHeader, model Classifier, encoder *LabelEncoder) (*Artifacts, error) {
	schema, err := NewFeatureSchema(header.FeatureNames)
	if err != nil {
		return nil, err
	}
	if schema.Len() != model.NumFeatures() {
		return nil, fmt.Errorf("schema has %d features, model expects %d", schema.Len(), model.NumFeatures())
	}
	for _, id := range model.Classes() {
		if id < 0 || id >= encoder.Len() {
			return nil, fmt.Errorf("model class %d has no label (encoder has %d)", id, encoder.Len())
		}
	}
	return &Artifacts{
		Schema:     schema,
		Classifier: model,
		Encoder:    encoder,
		ModelType:  header.ModelType,
		LoadedAt:   time.Now(),
	}, nil
}

func (a *Artifacts) Close() error {
	if a == nil || a.Classifier == nil {
		return nil
	}
	return a.Classifier.Close()
}

func digestFiles(paths ...string) (string, error) {
	h := sha256.New()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		err = multierr.Append(err, f.Close())
		if err != nil {
			return "", fmt.Errorf("digest %s: %w", path, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}
