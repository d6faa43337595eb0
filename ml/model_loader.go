package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ModelTypeDecisionTree       = "decision_tree"
	ModelTypeRandomForest       = "random_forest"
	ModelTypeLogisticRegression = "logistic_regression"
	ModelTypeONNX               = "onnx"
)

// ModelConfig locates the model and label encoder artifacts.
type ModelConfig struct {
	Type             string     `yaml:"type" validate:"omitempty,oneof=decision_tree random_forest logistic_regression onnx"`
	Path             string     `yaml:"path" validate:"required"`
	LabelEncoderPath string     `yaml:"label_encoder_path" validate:"required"`
	FeaturesPath     string     `yaml:"features_path" validate:"required_if=Type onnx"`
	ONNX             ONNXConfig `yaml:"onnx"`
}

// modelFile is the JSON interchange artifact written by the export script
// next to the training pipeline.
type modelFile struct {
	ArtifactHeader
	Nodes     []TreeNode   `json:"nodes,omitempty"`
	Trees     [][]TreeNode `json:"trees,omitempty"`
	Coef      [][]float64  `json:"coef,omitempty"`
	Intercept []float64    `json:"intercept,omitempty"`
}

// ResolveModelType returns the configured type, falling back to the file
// extension for ONNX graphs. An empty result means "read it from the artifact".
func ResolveModelType(cfg ModelConfig) string {
	if cfg.Type != "" {
		return cfg.Type
	}
	if strings.EqualFold(filepath.Ext(cfg.Path), ".onnx") {
		return ModelTypeONNX
	}
	return ""
}

// LoadModel opens the classifier described by cfg. numLabels is used as the
// class count when the artifact does not list its classes.
func LoadModel(cfg ModelConfig, numLabels int) (Classifier, ArtifactHeader, error) {
	modelType := ResolveModelType(cfg)
	if modelType == ModelTypeONNX {
		return loadONNXModel(cfg, numLabels)
	}

	payload, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, ArtifactHeader{}, err
	}
	var file modelFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, ArtifactHeader{}, fmt.Errorf("decode model %s: %w", cfg.Path, err)
	}
	switch {
	case modelType == "":
		modelType = file.ModelType
	case file.ModelType != "" && file.ModelType != modelType:
		return nil, ArtifactHeader{}, fmt.Errorf("model artifact is %q, config expects %q", file.ModelType, modelType)
	}
	file.ModelType = modelType

	classes, err := file.classIDs(numLabels)
	if err != nil {
		return nil, ArtifactHeader{}, err
	}
	numFeatures := len(file.FeatureNames)

	var model Classifier
	switch modelType {
	case ModelTypeDecisionTree:
		model, err = NewDecisionTree(file.Nodes, numFeatures, classes)
	case ModelTypeRandomForest:
		model, err = NewRandomForest(file.Trees, numFeatures, classes)
	case ModelTypeLogisticRegression:
		model, err = NewLogisticRegression(file.Coef, file.Intercept, classes)
	case "":
		return nil, ArtifactHeader{}, fmt.Errorf("model type not set in config or %s", cfg.Path)
	default:
		return nil, ArtifactHeader{}, fmt.Errorf("unsupported model type %q", modelType)
	}
	if err != nil {
		return nil, ArtifactHeader{}, fmt.Errorf("build %s: %w", modelType, err)
	}
	return model, file.ArtifactHeader, nil
}

func loadONNXModel(cfg ModelConfig, numLabels int) (Classifier, ArtifactHeader, error) {
	if cfg.FeaturesPath == "" {
		return nil, ArtifactHeader{}, fmt.Errorf("onnx model %s needs a features sidecar", cfg.Path)
	}
	payload, err := os.ReadFile(cfg.FeaturesPath)
	if err != nil {
		return nil, ArtifactHeader{}, err
	}
	var header ArtifactHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, ArtifactHeader{}, fmt.Errorf("decode features %s: %w", cfg.FeaturesPath, err)
	}
	header.ModelType = ModelTypeONNX
	classes, err := header.classIDs(numLabels)
	if err != nil {
		return nil, ArtifactHeader{}, err
	}
	model, err := NewONNXClassifier(cfg.Path, len(header.FeatureNames), classes, cfg.ONNX)
	if err != nil {
		return nil, ArtifactHeader{}, err
	}
	return model, header, nil
}
