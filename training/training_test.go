package training

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/boxes"
	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/loss"
)

const (
	testAnchors = 4
	testClasses = 2
)

// newCriterion builds a 2x2 grid of 0.5 squares over a two-class problem.
func newCriterion(t *testing.T, logger logrus.FieldLogger) *Criterion {
	t.Helper()
	set, err := anchors.Generate(anchors.Config{
		Scales: []anchors.Scale{{GridSize: 2, MinSize: 0.5}},
	})
	require.NoError(t, err)
	require.Len(t, set, testAnchors)

	enc, err := encoder.New(set, encoder.DefaultConfig())
	require.NoError(t, err)
	mb, err := loss.New(loss.DefaultConfig(testClasses))
	require.NoError(t, err)

	c, err := NewCriterion(CriterionArgs{Encoder: enc, Loss: mb, Workers: 2, Logger: logger})
	require.NoError(t, err)
	return c
}

func topLeft() encoder.Sample {
	return encoder.Sample{
		Boxes:  []boxes.Box{{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5}},
		Labels: []int{1},
	}
}

type fixedNetwork struct {
	calls int
	err   error
}

func (n *fixedNetwork) Forward(images *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	n.calls++
	if n.err != nil {
		return nil, nil, n.err
	}
	b := images.Shape()[0]
	loc := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(b, testAnchors, 4))
	conf := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(b, testAnchors, testClasses))
	return loc, conf, nil
}

type recordingOptimizer struct {
	steps []*loss.Gradients
}

func (o *recordingOptimizer) Step(grads *loss.Gradients) error {
	o.steps = append(o.steps, grads)
	return nil
}

func images(b int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(b, 3, 8, 8))
}

func TestStateObserve(t *testing.T) {
	s := NewState()
	assert.True(t, math.IsInf(s.BestLoss, 1))

	assert.True(t, s.Observe(2.5))
	assert.False(t, s.Observe(3))
	assert.True(t, s.Observe(1))
	assert.Equal(t, 3, s.Epoch)
	assert.Equal(t, 1.0, s.BestLoss)
}

func TestStateSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint", "state.yaml")

	fresh, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, NewState(), fresh)

	require.NoError(t, fresh.Save(path))
	reloaded, err := LoadState(path)
	require.NoError(t, err)
	assert.True(t, math.IsInf(reloaded.BestLoss, 1))

	fresh.Observe(0.75)
	require.NoError(t, fresh.Save(path))
	reloaded, err = LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, &State{Epoch: 1, BestLoss: 0.75}, reloaded)
}

func TestMeter(t *testing.T) {
	var m Meter
	assert.Zero(t, m.Mean())

	m.Add(1)
	m.Add(2)
	m.Add(6)
	assert.Equal(t, 3, m.Count())
	assert.InDelta(t, 3.0, m.Mean(), 1e-9)

	m.Reset()
	assert.Zero(t, m.Count())
}

func TestNewCriterionRequiresCollaborators(t *testing.T) {
	_, err := NewCriterion(CriterionArgs{})
	assert.Error(t, err)
}

func TestCriterionEvaluate(t *testing.T) {
	c := newCriterion(t, nil)

	loc, conf, err := c.Targets([]encoder.Sample{topLeft(), {}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, testAnchors, 4}, []int(loc.Shape()))
	assert.Equal(t, []int{1, 0, 0, 0, 0, 0, 0, 0}, conf.Data().([]int))

	net := &fixedNetwork{}
	locPreds, confPreds, err := net.Forward(images(2))
	require.NoError(t, err)

	result, err := c.Evaluate(locPreds, confPreds, []encoder.Sample{topLeft(), {}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumPositive)
	assert.Equal(t, []int{3, 0}, result.Negatives)
	// Uniform logits: every selected anchor costs ln 2, and the matched
	// anchor equals its ground truth.
	assert.InDelta(t, 4*math.Ln2, result.Total, 1e-5)

	_, err = c.Evaluate(locPreds, confPreds, []encoder.Sample{{Labels: []int{1}}, {}})
	assert.Equal(t, encoder.ErrLengthMismatch, errors.Cause(err))
}

func TestTrainerEpochs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	c := newCriterion(t, logger)
	trainer := NewTrainer(c, logger)
	state := NewState()
	net := &fixedNetwork{}
	opt := &recordingOptimizer{}

	batches := []Batch{
		{Images: images(1), Samples: []encoder.Sample{topLeft()}},
		{Images: images(2), Samples: []encoder.Sample{topLeft(), topLeft()}},
	}

	mean, err := trainer.Train(context.Background(), state, net, opt, batches)
	require.NoError(t, err)
	assert.InDelta(t, 4*math.Ln2, mean, 1e-5)
	require.Len(t, opt.steps, 2)
	assert.Equal(t, []int{2, testAnchors, testClasses}, []int(opt.steps[1].Conf.Shape()))

	mean, improved, err := trainer.Test(context.Background(), state, net, batches)
	require.NoError(t, err)
	assert.True(t, improved)
	assert.Equal(t, 1, state.Epoch)
	assert.InDelta(t, mean, state.BestLoss, 1e-9)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "epoch done", last.Message)
	assert.Equal(t, true, last.Data["improved"])
	assert.Equal(t, 4, net.calls)
}

func TestTrainerStopsOnErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	trainer := NewTrainer(newCriterion(t, logger), logger)
	batches := []Batch{{Images: images(1), Samples: []encoder.Sample{topLeft()}}}

	broken := &fixedNetwork{err: errors.New("device lost")}
	_, err := trainer.Train(context.Background(), NewState(), broken, &recordingOptimizer{}, batches)
	assert.ErrorContains(t, err, "device lost")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := NewState()
	_, _, err = trainer.Test(ctx, state, &fixedNetwork{}, batches)
	assert.Equal(t, context.Canceled, err)
	assert.Zero(t, state.Epoch)
}
