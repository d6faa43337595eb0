package ml

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig names the runtime library and the graph's tensors. The model
// must be exported without a ZipMap so probabilities come out as a tensor.
type ONNXConfig struct {
	SharedLibraryPath string `yaml:"shared_library_path"`
	InputName         string `yaml:"input_name"`
	LabelOutput       string `yaml:"label_output"`
	ProbabilityOutput string `yaml:"probability_output"`
}

func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		InputName:         "float_input",
		LabelOutput:       "label",
		ProbabilityOutput: "probabilities",
	}
}

var ortMu sync.Mutex

func ensureONNXEnvironment(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// ShutdownONNX releases the process-wide runtime if it was started.
func ShutdownONNX() error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXClassifier runs an exported classifier through onnxruntime. Tensors
// are allocated per call so concurrent predictions share only the session.
type ONNXClassifier struct {
	mu          sync.RWMutex
	session     *ort.DynamicAdvancedSession
	cfg         ONNXConfig
	numFeatures int
	classes     []int
}

func NewONNXClassifier(modelPath string, numFeatures int, classes []int, cfg ONNXConfig) (*ONNXClassifier, error) {
	if numFeatures <= 0 {
		return nil, errors.New("onnx model needs a feature count")
	}
	if len(classes) == 0 {
		return nil, errors.New("onnx model needs classes")
	}
	defaults := DefaultONNXConfig()
	if cfg.InputName == "" {
		cfg.InputName = defaults.InputName
	}
	if cfg.LabelOutput == "" {
		cfg.LabelOutput = defaults.LabelOutput
	}
	if cfg.ProbabilityOutput == "" {
		cfg.ProbabilityOutput = defaults.ProbabilityOutput
	}
	if err := ensureONNXEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{cfg.InputName},
		[]string{cfg.LabelOutput, cfg.ProbabilityOutput},
		nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx session: %w", err)
	}
	return &ONNXClassifier{
		session:     session,
		cfg:         cfg,
		numFeatures: numFeatures,
		classes:     append([]int(nil), classes...),
	}, nil
}

func (c *ONNXClassifier) PredictLabel(features []float64) (int, error) {
	label, _, err := c.run(features)
	if err != nil {
		return 0, err
	}
	return label, nil
}

func (c *ONNXClassifier) PredictProba(features []float64) ([]float64, error) {
	_, dist, err := c.run(features)
	return dist, err
}

func (c *ONNXClassifier) Classes() []int {
	return append([]int(nil), c.classes...)
}

func (c *ONNXClassifier) NumFeatures() int {
	return c.numFeatures
}

func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

func (c *ONNXClassifier) run(features []float64) (int, []float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return 0, nil, errors.New("onnx session closed")
	}
	if err := checkFeatures(features, c.numFeatures); err != nil {
		return 0, nil, err
	}
	data := make([]float32, len(features))
	for i, v := range features {
		data[i] = float32(v)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(c.numFeatures)), data)
	if err != nil {
		return 0, nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	labels, err := ort.NewEmptyTensor[int64](ort.NewShape(1))
	if err != nil {
		return 0, nil, fmt.Errorf("label tensor: %w", err)
	}
	defer labels.Destroy()

	probs, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(c.classes))))
	if err != nil {
		return 0, nil, fmt.Errorf("probability tensor: %w", err)
	}
	defer probs.Destroy()

	if err := c.session.Run([]ort.Value{input}, []ort.Value{labels, probs}); err != nil {
		return 0, nil, fmt.Errorf("onnx run: %w", err)
	}

	raw := probs.GetData()
	dist := make([]float64, len(raw))
	for i, p := range raw {
		dist[i] = float64(p)
	}
	return int(labels.GetData()[0]), dist, nil
}
