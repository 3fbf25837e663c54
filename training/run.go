package training

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"

	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/loss"
)

// Checkpointer is implemented by networks that persist their parameters. Run
// calls it after every epoch that improves the best test loss.
type Checkpointer interface {
	Checkpoint(state *State) error
}

// Run trains until state.Epoch reaches cfg.Epochs, resuming from the state
// stored at cfg.StatePath when there is one.
//
// Arguments:
//   - ctx: Checked between batches.
//   - cfg: Epoch count and state location. An empty StatePath keeps the
//     state in memory only.
//   - net: The network. If it implements Checkpointer it is checkpointed on
//     every improvement.
//   - opt: Receives the gradients of every training batch.
//   - train, test: The batches of one epoch.
//
// Returns:
//   - *State: The state after the last completed epoch.
//   - error: The first epoch, checkpoint or persistence error.
func (t *Trainer) Run(ctx context.Context, cfg config.TrainingConfig, net Network, opt Optimizer, train, test []Batch) (*State, error) {
	state := NewState()
	if cfg.StatePath != "" {
		var err error
		if state, err = LoadState(cfg.StatePath); err != nil {
			return nil, err
		}
	}
	if state.Epoch > 0 {
		t.logger.WithFields(logrus.Fields{
			"epoch":     state.Epoch,
			"best_loss": state.BestLoss,
		}).Info("resuming")
	}

	for state.Epoch < cfg.Epochs {
		if _, err := t.Train(ctx, state, net, opt, train); err != nil {
			return state, err
		}
		_, improved, err := t.Test(ctx, state, net, test)
		if err != nil {
			return state, err
		}

		if c, ok := net.(Checkpointer); ok && improved {
			if err := c.Checkpoint(state); err != nil {
				return state, errors.Wrapf(err, "checkpoint after epoch %d", state.Epoch)
			}
		}
		if cfg.StatePath != "" {
			if err := state.Save(cfg.StatePath); err != nil {
				return state, err
			}
		}
	}
	return state, nil
}

// Backprop propagates loss gradients through a network and returns its
// parameters with their gradients filled in.
type Backprop func(grads *loss.Gradients) ([]G.ValueGrad, error)

// SolverOptimizer is an Optimizer that updates network parameters with a
// gorgonia momentum solver.
type SolverOptimizer struct {
	solver   G.Solver
	backprop Backprop
}

// NewSolverOptimizer configures a momentum solver from the learning rate,
// momentum and weight decay of cfg.
func NewSolverOptimizer(cfg config.TrainingConfig, backprop Backprop) (*SolverOptimizer, error) {
	if backprop == nil {
		return nil, errors.New("solver optimizer needs a backprop function")
	}
	opts := []G.SolverOpt{
		G.WithLearnRate(float64(cfg.LearningRate)),
		G.WithMomentum(float64(cfg.Momentum)),
	}
	if cfg.WeightDecay > 0 {
		opts = append(opts, G.WithL2Reg(float64(cfg.WeightDecay)))
	}
	return &SolverOptimizer{
		solver:   G.NewMomentum(opts...),
		backprop: backprop,
	}, nil
}

// Step back-propagates grads and applies one solver update.
func (o *SolverOptimizer) Step(grads *loss.Gradients) error {
	params, err := o.backprop(grads)
	if err != nil {
		return errors.Wrap(err, "backprop")
	}
	if err := o.solver.Step(params); err != nil {
		return errors.Wrap(err, "solver step")
	}
	return nil
}
