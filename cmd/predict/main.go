// Command predict runs a single prediction against local model artifacts,
// without starting the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"symptomdx/ml"
	"symptomdx/prediction"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	cfg := ml.ModelConfig{ONNX: ml.DefaultONNXConfig()}
	var listSymptoms bool

	cmd := &cobra.Command{
		Use:   "predict [symptom...]",
		Short: "Predict a disease from a list of symptoms",
		Example: `  predict --model disease_model.json --labels label_encoder.json itching skin_rash
  predict --model model.onnx --features features.json --labels label_encoder.json --list-symptoms`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts, err := ml.LoadArtifacts(cfg)
			if err != nil {
				return fmt.Errorf("load artifacts: %w", err)
			}
			defer ml.ShutdownONNX()

			service, err := prediction.NewService(artifacts, prediction.Options{}, nil)
			if err != nil {
				return err
			}
			defer service.Close()

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)

			if listSymptoms {
				return enc.Encode(service.Schema())
			}
			symptoms := args
			if symptoms == nil {
				symptoms = []string{}
			}
			result, err := service.Predict(context.Background(), symptoms)
			if err != nil {
				return err
			}
			return enc.Encode(result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Path, "model", "disease_model.json", "model artifact (JSON or .onnx)")
	flags.StringVar(&cfg.LabelEncoderPath, "labels", "label_encoder.json", "label encoder artifact")
	flags.StringVar(&cfg.Type, "type", "", "model type, read from the artifact when empty")
	flags.StringVar(&cfg.FeaturesPath, "features", "", "feature names sidecar for ONNX models")
	flags.StringVar(&cfg.ONNX.SharedLibraryPath, "onnxruntime", os.Getenv("ONNXRUNTIME_LIB"), "onnxruntime shared library")
	flags.BoolVar(&listSymptoms, "list-symptoms", false, "print the model's symptom names in vector order")
	return cmd
}
