package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/loss"
	"github.com/nvr-ai/go-ssd/models/ssd"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ssd.NumAnchors, cfg.Anchors.Count())
	assert.Equal(t, 21, cfg.Loss.NumClasses)
	assert.Equal(t, 3, cfg.Loss.NegPosRatio)
	assert.Equal(t, encoder.DefaultConfig(), cfg.Encoder)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
encoder:
  boundary: inclusive
decode:
  score_threshold: 0.3
loss:
  num_classes: 3
inference:
  model_path: /models/people.onnx
`))
	require.NoError(t, err)

	assert.Equal(t, encoder.BoundaryInclusive, cfg.Encoder.Boundary)
	assert.Equal(t, float32(0.5), cfg.Encoder.IoUThreshold)
	assert.Equal(t, [2]float32{0.1, 0.2}, cfg.Encoder.Variances)
	assert.Equal(t, float32(0.3), cfg.Decode.ScoreThreshold)
	assert.Equal(t, float32(0.45), cfg.Decode.NMSThreshold)
	assert.Equal(t, 3, cfg.Loss.NumClasses)
	assert.Equal(t, 3, cfg.Loss.NegPosRatio)
	assert.Equal(t, "/models/people.onnx", cfg.Inference.ModelPath)
	assert.Equal(t, ssd.NumAnchors, cfg.Anchors.Count())
}

func TestParseAnchors(t *testing.T) {
	cfg, err := Parse([]byte(`
anchors:
  scales:
    - grid_size: 4
      min_size: 0.2
      max_size: 0.4
      aspect_ratios: [2]
    - grid_size: 1
      min_size: 0.6
`))
	require.NoError(t, err)
	require.Len(t, cfg.Anchors.Scales, 2)
	assert.Equal(t, 4*4*4+1, cfg.Anchors.Count())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{name: "variance", yaml: "encoder:\n  variances: [0, 0.2]\n", want: encoder.ErrInvalidConfig},
		{name: "empty scales", yaml: "anchors:\n  scales: []\n", want: anchors.ErrInvalidConfig},
		{name: "classes", yaml: "loss:\n  num_classes: 1\n", want: loss.ErrInvalidConfig},
		{name: "nms", yaml: "decode:\n  nms_threshold: 0\n", want: ErrInvalidConfig},
		{name: "batch", yaml: "training:\n  batch_size: 0\n", want: ErrInvalidConfig},
		{name: "input size", yaml: "inference:\n  input_size: -1\n", want: ErrInvalidConfig},
		{name: "epochs", yaml: "training:\n  epochs: -1\n", want: ErrInvalidConfig},
		{name: "learning rate", yaml: "training:\n  learning_rate: 0\n", want: ErrInvalidConfig},
		{name: "momentum", yaml: "training:\n  momentum: 1\n", want: ErrInvalidConfig},
		{name: "weight decay", yaml: "training:\n  weight_decay: -0.1\n", want: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.Cause(err))
		})
	}

	_, err := Parse([]byte("encoder: [1, 2"))
	assert.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Decode.CandidatesPerClass = 50
	cfg.Training.Workers = 8

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ssd.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
