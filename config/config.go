// Package config - YAML configuration for anchors, matching, decoding, loss,
// inference and training.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/loss"
	"github.com/nvr-ai/go-ssd/models/ssd"
)

// ErrInvalidConfig is returned for sections that fail validation and do not
// carry a package-specific error.
var ErrInvalidConfig = errors.New("invalid configuration")

// InferenceConfig locates the exported network and describes its tensors.
type InferenceConfig struct {
	// ModelPath is the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibraryPath overrides the ONNX Runtime library location.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
	// InputSize is the side of the square network input in pixels.
	InputSize int `json:"input_size" yaml:"input_size"`
	// InputName is the name of the (1, 3, InputSize, InputSize) image input.
	InputName string `json:"input_name" yaml:"input_name"`
	// LocOutput is the name of the (1, N, 4) offset output.
	LocOutput string `json:"loc_output" yaml:"loc_output"`
	// ConfOutput is the name of the (1, N, C) class score output.
	ConfOutput string `json:"conf_output" yaml:"conf_output"`
	// Logits is set when ConfOutput holds raw logits rather than probabilities.
	Logits bool `json:"logits" yaml:"logits"`
}

// TrainingConfig holds the settings of training.Trainer.Run and
// training.NewSolverOptimizer.
type TrainingConfig struct {
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// Workers is the number of goroutines encoding targets per batch.
	Workers int `json:"workers" yaml:"workers"`
	// Epochs is the epoch count a run trains up to, resumed epochs included.
	Epochs int `json:"epochs" yaml:"epochs"`
	// LearningRate, Momentum and WeightDecay configure the momentum solver.
	LearningRate float32 `json:"learning_rate" yaml:"learning_rate"`
	Momentum     float32 `json:"momentum" yaml:"momentum"`
	WeightDecay  float32 `json:"weight_decay" yaml:"weight_decay"`
	// StatePath is where training.State is persisted between runs.
	StatePath string `json:"state_path" yaml:"state_path"`
}

// Config is the complete configuration of the module.
type Config struct {
	Anchors   anchors.Config        `json:"anchors" yaml:"anchors"`
	Encoder   encoder.Config        `json:"encoder" yaml:"encoder"`
	Decode    encoder.DecodeOptions `json:"decode" yaml:"decode"`
	Loss      loss.Config           `json:"loss" yaml:"loss"`
	Inference InferenceConfig       `json:"inference" yaml:"inference"`
	Training  TrainingConfig        `json:"training" yaml:"training"`
}

// Default returns the SSD300 configuration for Pascal VOC.
func Default() *Config {
	return &Config{
		Anchors: ssd.AnchorConfig(),
		Encoder: encoder.Config{
			IoUThreshold: 0.5,
			Variances:    ssd.Variances,
			Boundary:     encoder.BoundaryExclusive,
		},
		Decode: encoder.DefaultDecodeOptions(),
		Loss:   loss.DefaultConfig(ssd.Classes().Len()),
		Inference: InferenceConfig{
			ModelPath:  "ssd300.onnx",
			InputSize:  ssd.InputSize,
			InputName:  "images",
			LocOutput:  "loc",
			ConfOutput: "conf",
			Logits:     true,
		},
		Training: TrainingConfig{
			BatchSize:    32,
			Workers:      4,
			Epochs:       200,
			LearningRate: 1e-3,
			Momentum:     0.9,
			WeightDecay:  1e-4,
			StatePath:    "checkpoint/state.yaml",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result. Keys
// absent from the file keep their default values.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: Read, parse or validation errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	return data, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Anchors.Validate(); err != nil {
		return errors.WithMessage(err, "anchors")
	}
	if err := c.Encoder.Validate(); err != nil {
		return errors.WithMessage(err, "encoder")
	}
	if err := c.Loss.Validate(); err != nil {
		return errors.WithMessage(err, "loss")
	}

	d := c.Decode
	if d.ScoreThreshold < 0 || d.ScoreThreshold >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "decode: score threshold %g outside [0, 1)", d.ScoreThreshold)
	}
	if d.NMSThreshold <= 0 || d.NMSThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "decode: nms threshold %g outside (0, 1]", d.NMSThreshold)
	}
	if d.CandidatesPerClass < 0 {
		return errors.Wrapf(ErrInvalidConfig, "decode: candidates per class %d is negative", d.CandidatesPerClass)
	}

	if c.Inference.InputSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "inference: input size %d must be positive", c.Inference.InputSize)
	}

	t := c.Training
	if t.BatchSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "training: batch size %d must be positive", t.BatchSize)
	}
	if t.Workers < 0 {
		return errors.Wrapf(ErrInvalidConfig, "training: workers %d is negative", t.Workers)
	}
	if t.Epochs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "training: epochs %d is negative", t.Epochs)
	}
	if t.LearningRate <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "training: learning rate %g must be positive", t.LearningRate)
	}
	if t.Momentum < 0 || t.Momentum >= 1 {
		return errors.Wrapf(ErrInvalidConfig, "training: momentum %g outside [0, 1)", t.Momentum)
	}
	if t.WeightDecay < 0 {
		return errors.Wrapf(ErrInvalidConfig, "training: weight decay %g is negative", t.WeightDecay)
	}
	return nil
}
