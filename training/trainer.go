package training

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/loss"
)

// Network is the external differentiable detector.
type Network interface {
	// Forward returns (B, N, 4) offsets and (B, N, C) logits for a batch of images.
	Forward(images *tensor.Dense) (loc, conf *tensor.Dense, err error)
}

// Optimizer back-propagates loss gradients through the network and updates
// its parameters.
type Optimizer interface {
	Step(grads *loss.Gradients) error
}

// Batch is one step of input: preprocessed images and their ground truth.
type Batch struct {
	Images  *tensor.Dense
	Samples []encoder.Sample
}

// Trainer runs train and test epochs over explicit State.
type Trainer struct {
	criterion *Criterion
	logger    logrus.FieldLogger
}

// NewTrainer creates a Trainer. A nil logger uses the standard logger.
func NewTrainer(criterion *Criterion, logger logrus.FieldLogger) *Trainer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trainer{criterion: criterion, logger: logger}
}

// Train runs one optimization epoch.
//
// Arguments:
//   - ctx: Checked between batches.
//   - state: The run state. Its Epoch labels the log entries.
//   - net: The network.
//   - opt: Receives the gradients of every batch.
//   - batches: The epoch's batches.
//
// Returns:
//   - float64: Mean batch loss.
//   - error: The first network, loss or optimizer error, or ctx.Err().
func (t *Trainer) Train(ctx context.Context, state *State, net Network, opt Optimizer, batches []Batch) (float64, error) {
	log := t.logger.WithField("epoch", state.Epoch)
	log.Info("training")

	var meter Meter
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return meter.Mean(), err
		}

		loc, conf, err := net.Forward(b.Images)
		if err != nil {
			return meter.Mean(), errors.Wrapf(err, "forward pass of batch %d", i)
		}
		result, grads, err := t.criterion.Step(loc, conf, b.Samples)
		if err != nil {
			return meter.Mean(), errors.Wrapf(err, "loss of batch %d", i)
		}
		if err := opt.Step(grads); err != nil {
			return meter.Mean(), errors.Wrapf(err, "optimizer step of batch %d", i)
		}

		meter.Add(result.Total)
		log.WithFields(logrus.Fields{
			"batch":    i,
			"loss":     result.Total,
			"avg_loss": meter.Mean(),
		}).Info("train step")
	}
	return meter.Mean(), nil
}

// Test evaluates the network on held-out batches and records the epoch in
// state.
//
// Returns:
//   - float64: Mean batch loss.
//   - bool: True if the mean improved on state.BestLoss.
//   - error: The first network or loss error, or ctx.Err(). State is left
//     untouched on error.
func (t *Trainer) Test(ctx context.Context, state *State, net Network, batches []Batch) (float64, bool, error) {
	log := t.logger.WithField("epoch", state.Epoch)
	log.Info("testing")

	var meter Meter
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return meter.Mean(), false, err
		}

		loc, conf, err := net.Forward(b.Images)
		if err != nil {
			return meter.Mean(), false, errors.Wrapf(err, "forward pass of batch %d", i)
		}
		result, err := t.criterion.Evaluate(loc, conf, b.Samples)
		if err != nil {
			return meter.Mean(), false, errors.Wrapf(err, "loss of batch %d", i)
		}

		meter.Add(result.Total)
		log.WithFields(logrus.Fields{
			"batch":    i,
			"loss":     result.Total,
			"avg_loss": meter.Mean(),
		}).Debug("test step")
	}

	mean := meter.Mean()
	improved := state.Observe(mean)
	log.WithFields(logrus.Fields{
		"avg_loss":  mean,
		"best_loss": state.BestLoss,
		"improved":  improved,
	}).Info("epoch done")
	return mean, improved, nil
}
