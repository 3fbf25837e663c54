package loss

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/models/ssd"
)

func f32(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func ints(data []int, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func newLoss(t testing.TB, config Config) *MultiBox {
	t.Helper()
	m, err := New(config)
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		valid  bool
	}{
		{name: "voc", config: DefaultConfig(21), valid: true},
		{name: "no mining", config: Config{NumClasses: 2}, valid: true},
		{name: "background only", config: DefaultConfig(1)},
		{name: "negative ratio", config: Config{NumClasses: 3, NegPosRatio: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.config)
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.config, m.Config())
				return
			}
			assert.Equal(t, ErrInvalidConfig, errors.Cause(err))
		})
	}
}

func TestComputeHandWorked(t *testing.T) {
	m := newLoss(t, DefaultConfig(2))

	// Anchor 0 is foreground with offsets off by (0.5, 0, 2, 0). Anchor 1 is
	// the only background anchor and is mined.
	result, err := m.Compute(
		f32([]float32{0.5, 0, 2, 0, 9, 9, 9, 9}, 1, 2, 4),
		f32(make([]float32, 8), 1, 2, 4),
		f32([]float32{0, 0, 0, 0}, 1, 2, 2),
		ints([]int{1, 0}, 1, 2),
	)
	require.NoError(t, err)

	ln2 := math32.Log(2)
	assert.Equal(t, 1, result.NumPositive)
	assert.Equal(t, []int{1}, result.Negatives)
	assert.InDelta(t, 0.125+1.5, result.Loc, 1e-5)
	assert.InDelta(t, 2*ln2, result.Conf, 1e-5)
	assert.InDelta(t, 1.625+2*ln2, result.Total, 1e-5)
}

func TestComputeZeroForeground(t *testing.T) {
	m := newLoss(t, DefaultConfig(3))

	confPreds := make([]float32, 2*3*3)
	for i := range confPreds {
		confPreds[i] = float32(i%5) - 2
	}
	locPreds := f32([]float32{
		1, 2, 3, 4, -1, -2, -3, -4, 0.5, 0.5, 0.5, 0.5,
		1, 2, 3, 4, -1, -2, -3, -4, 0.5, 0.5, 0.5, 0.5,
	}, 2, 3, 4)

	result, err := m.Compute(locPreds, f32(make([]float32, 24), 2, 3, 4),
		f32(confPreds, 2, 3, 3), ints(make([]int, 6), 2, 3))
	require.NoError(t, err)

	assert.Zero(t, result.NumPositive)
	assert.Equal(t, []int{0, 0}, result.Negatives)
	assert.Zero(t, result.Loc)
	assert.Zero(t, result.Conf)
	assert.Zero(t, result.Total)
	assert.False(t, math32.IsNaN(result.Total))

	_, grads, err := m.Gradients(locPreds, f32(make([]float32, 24), 2, 3, 4),
		f32(confPreds, 2, 3, 3), ints(make([]int, 6), 2, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, []int(grads.Loc.Shape()))
	assert.Equal(t, []int{2, 3, 3}, []int(grads.Conf.Shape()))
	for _, v := range grads.Conf.Data().([]float32) {
		require.Zero(t, v)
	}
}

func TestComputeNoGroundTruthImage(t *testing.T) {
	set, err := anchors.Generate(ssd.AnchorConfig())
	require.NoError(t, err)
	enc, err := encoder.New(set, encoder.DefaultConfig())
	require.NoError(t, err)

	targets, err := enc.Encode(nil, nil)
	require.NoError(t, err)
	locTargets, confTargets, err := encoder.Stack([]*encoder.Targets{targets})
	require.NoError(t, err)

	n := enc.NumAnchors()
	numClasses := ssd.Classes().Len()
	confPreds := make([]float32, n*numClasses)
	for i := 0; i < n; i++ {
		confPreds[i*numClasses] = 10
	}

	m := newLoss(t, DefaultConfig(numClasses))
	result, err := m.Compute(f32(make([]float32, 4*n), 1, n, 4), locTargets, f32(confPreds, 1, n, numClasses), confTargets)
	require.NoError(t, err)
	assert.Zero(t, result.Loc)
	assert.Zero(t, result.Total)
}

func TestComputeNegativeCounts(t *testing.T) {
	const (
		samples    = 3
		numAnchors = 10
		numClasses = 4
	)
	labels := []int{
		1, 0, 0, 2, 0, 0, 0, 0, 0, 0, // 2 positives, 8 background
		3, 1, 0, 0, 2, 0, 1, 0, 0, 0, // 4 positives, 6 background
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, // no positives
	}
	confPreds := make([]float32, samples*numAnchors*numClasses)
	for i := range confPreds {
		confPreds[i] = float32((i*7)%11) / 3
	}

	m := newLoss(t, DefaultConfig(numClasses))
	result, err := m.Compute(
		f32(make([]float32, samples*numAnchors*4), samples, numAnchors, 4),
		f32(make([]float32, samples*numAnchors*4), samples, numAnchors, 4),
		f32(confPreds, samples, numAnchors, numClasses),
		ints(labels, samples, numAnchors),
	)
	require.NoError(t, err)

	assert.Equal(t, 6, result.NumPositive)
	assert.Equal(t, []int{6, 6, 0}, result.Negatives)
	assert.Zero(t, result.Loc)
	assert.Positive(t, result.Conf)
}

func TestComputeInputErrors(t *testing.T) {
	m := newLoss(t, DefaultConfig(3))
	loc := f32(make([]float32, 16), 2, 2, 4)
	conf := f32(make([]float32, 12), 2, 2, 3)
	labels := ints([]int{0, 1, 2, 0}, 2, 2)

	tests := []struct {
		name       string
		locPreds   *tensor.Dense
		locTargets *tensor.Dense
		confPreds  *tensor.Dense
		targets    *tensor.Dense
		want       error
	}{
		{name: "missing targets", locPreds: loc, locTargets: loc, confPreds: conf, want: ErrShapeMismatch},
		{
			name: "float targets", locPreds: loc, locTargets: loc, confPreds: conf,
			targets: f32(make([]float32, 4), 2, 2), want: ErrShapeMismatch,
		},
		{
			name: "short loc", locPreds: f32(make([]float32, 8), 2, 1, 4), locTargets: loc, confPreds: conf,
			targets: labels, want: ErrShapeMismatch,
		},
		{
			name: "class count", locPreds: loc, locTargets: loc, confPreds: f32(make([]float32, 8), 2, 2, 2),
			targets: labels, want: ErrShapeMismatch,
		},
		{
			name: "label out of range", locPreds: loc, locTargets: loc, confPreds: conf,
			targets: ints([]int{0, 3, 0, 0}, 2, 2), want: ErrInvalidTarget,
		},
		{
			name: "negative label", locPreds: loc, locTargets: loc, confPreds: conf,
			targets: ints([]int{0, 0, -1, 0}, 2, 2), want: ErrInvalidTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Compute(tt.locPreds, tt.locTargets, tt.confPreds, tt.targets)
			assert.Equal(t, tt.want, errors.Cause(err))
		})
	}
}

func TestMineHardNegatives(t *testing.T) {
	tests := []struct {
		name     string
		bgLoss   []float32
		labels   []int
		ratio    int
		expected []int
	}{
		{
			name:     "ties by index",
			bgLoss:   []float32{1, 3, 3, 0, 2},
			labels:   []int{0, 0, 0, 1, 0},
			ratio:    3,
			expected: []int{1, 2, 4},
		},
		{
			name:     "capped by background",
			bgLoss:   []float32{5, 1, 4, 2},
			labels:   []int{1, 0, 2, 0},
			ratio:    3,
			expected: []int{3, 1},
		},
		{
			name:     "no foreground",
			bgLoss:   []float32{5, 1},
			labels:   []int{0, 0},
			ratio:    3,
			expected: []int{},
		},
		{
			name:     "ratio zero",
			bgLoss:   []float32{5, 1},
			labels:   []int{1, 0},
			ratio:    0,
			expected: []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MineHardNegatives(tt.bgLoss, tt.labels, tt.ratio))
		})
	}
}
