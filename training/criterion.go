package training

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-ssd/encoder"
	"github.com/nvr-ai/go-ssd/loss"
)

// CriterionArgs are the collaborators of a Criterion.
type CriterionArgs struct {
	// Encoder turns ground truth into targets.
	Encoder *encoder.Encoder
	// Loss scores predictions against the targets.
	Loss *loss.MultiBox
	// Workers bounds concurrent target encoding. Values below 1 use all CPUs.
	Workers int
	// Logger receives per-batch debug entries. Defaults to the standard logger.
	Logger logrus.FieldLogger
}

// Criterion encodes the ground truth of a batch and evaluates the multibox
// loss of the network's predictions against it.
type Criterion struct {
	encoder *encoder.Encoder
	loss    *loss.MultiBox
	workers int
	logger  logrus.FieldLogger
}

// NewCriterion creates a Criterion.
//
// Arguments:
//   - args: The encoder and loss to combine.
//
// Returns:
//   - *Criterion: The criterion.
//   - error: If a collaborator is missing.
func NewCriterion(args CriterionArgs) (*Criterion, error) {
	if args.Encoder == nil {
		return nil, errors.New("criterion requires an encoder")
	}
	if args.Loss == nil {
		return nil, errors.New("criterion requires a loss")
	}
	logger := args.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Criterion{
		encoder: args.Encoder,
		loss:    args.Loss,
		workers: args.Workers,
		logger:  logger,
	}, nil
}

// Targets encodes every sample and stacks the results into (B, N, 4) and
// (B, N) tensors.
func (c *Criterion) Targets(samples []encoder.Sample) (loc, conf *tensor.Dense, err error) {
	targets, err := c.encoder.EncodeBatch(samples, c.workers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encoding batch")
	}
	return encoder.Stack(targets)
}

// Evaluate returns the loss of a batch without gradients.
//
// Arguments:
//   - locPreds: (B, N, 4) network offsets.
//   - confPreds: (B, N, C) network logits.
//   - samples: The B ground-truth samples, in batch order.
//
// Returns:
//   - *loss.Result: The loss terms.
//   - error: Encoding or shape errors.
func (c *Criterion) Evaluate(locPreds, confPreds *tensor.Dense, samples []encoder.Sample) (*loss.Result, error) {
	locTargets, confTargets, err := c.Targets(samples)
	if err != nil {
		return nil, err
	}
	result, err := c.loss.Compute(locPreds, locTargets, confPreds, confTargets)
	if err != nil {
		return nil, err
	}
	c.log(result)
	return result, nil
}

// Step returns the loss of a batch and its gradients with respect to the
// predictions.
func (c *Criterion) Step(locPreds, confPreds *tensor.Dense, samples []encoder.Sample) (*loss.Result, *loss.Gradients, error) {
	locTargets, confTargets, err := c.Targets(samples)
	if err != nil {
		return nil, nil, err
	}
	result, grads, err := c.loss.Gradients(locPreds, locTargets, confPreds, confTargets)
	if err != nil {
		return nil, nil, err
	}
	c.log(result)
	return result, grads, nil
}

func (c *Criterion) log(r *loss.Result) {
	c.logger.WithFields(logrus.Fields{
		"loss":      r.Total,
		"loc":       r.Loc,
		"conf":      r.Conf,
		"positives": r.NumPositive,
	}).Debug("batch loss")
}
