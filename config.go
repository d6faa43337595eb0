package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	qhttp "symptomdx/http"
	"symptomdx/ml"
	"symptomdx/monitoring"
)

type Config struct {
	Http  qhttp.ServerConfig   `yaml:"http"`
	Model ModelSection         `yaml:"model"`
	Cache CacheConfig          `yaml:"cache"`
	Log   monitoring.LogConfig `yaml:"log"`
}

type CacheConfig struct {
	Size int `yaml:"size" validate:"gte=0"`
}

type ModelSection struct {
	ml.ModelConfig `yaml:",inline"`
	Watch          bool          `yaml:"watch"`
	WatchDebounce  time.Duration `yaml:"watch_debounce" validate:"gte=0"`
	ReloadGrace    time.Duration `yaml:"reload_grace" validate:"gte=0"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Http = qhttp.DefaultServerConfig()
	cfg.Model = ModelSection{
		ModelConfig: ml.ModelConfig{
			Path:             "disease_model.json",
			LabelEncoderPath: "label_encoder.json",
			ONNX:             ml.DefaultONNXConfig(),
		},
		WatchDebounce: 500 * time.Millisecond,
		ReloadGrace:   30 * time.Second,
	}
	cfg.Cache.Size = 1024
	cfg.Log = monitoring.DefaultLogConfig()
	return cfg
}

// loadConfig reads path over the defaults. A missing file is not an error so
// the service runs with no configuration at all.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// applyEnv lets deployments override the handful of settings that differ
// between environments.
func applyEnv(config *Config) error {
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		config.Http.Port = port
	}
	overrides := map[string]*string{
		"HOST":               &config.Http.Host,
		"MODEL_TYPE":         &config.Model.Type,
		"MODEL_PATH":         &config.Model.Path,
		"LABEL_ENCODER_PATH": &config.Model.LabelEncoderPath,
		"FEATURES_PATH":      &config.Model.FeaturesPath,
		"ONNXRUNTIME_LIB":    &config.Model.ONNX.SharedLibraryPath,
		"LOG_LEVEL":          &config.Log.Level,
	}
	for name, dst := range overrides {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	return nil
}
