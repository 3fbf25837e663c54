// Package training - Explicit training state and the glue between target
// encoding, the multibox loss and an external network and optimizer.
package training

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// State is the progress of a training run. It replaces process-wide epoch and
// best-loss variables and is passed explicitly to every epoch.
type State struct {
	// Epoch is the number of completed epochs.
	Epoch int `json:"epoch" yaml:"epoch"`
	// BestLoss is the lowest mean test loss seen so far.
	BestLoss float64 `json:"best_loss" yaml:"best_loss"`
}

// NewState returns the state of a run that has not started.
func NewState() *State {
	return &State{BestLoss: math.Inf(1)}
}

// Observe records the mean test loss of a finished epoch.
//
// Returns:
//   - bool: True if testLoss improved on BestLoss, i.e. the caller should
//     checkpoint its network.
func (s *State) Observe(testLoss float64) bool {
	s.Epoch++
	if testLoss < s.BestLoss {
		s.BestLoss = testLoss
		return true
	}
	return false
}

// Save writes the state as YAML, creating parent directories as needed.
func (s *State) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding training state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing training state %s", path)
	}
	return nil
}

// LoadState reads a state written by Save. A missing file yields NewState so
// that a fresh run and a resumed run share one code path.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading training state %s", path)
	}

	s := NewState()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "parsing training state %s", path)
	}
	return s, nil
}

// Meter keeps the running mean of per-batch losses.
type Meter struct {
	sum   float64
	count int
}

// Add records one batch loss.
func (m *Meter) Add(v float32) {
	m.sum += float64(v)
	m.count++
}

// Mean returns the average of the recorded losses, 0 when empty.
func (m *Meter) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Count returns the number of recorded losses.
func (m *Meter) Count() int {
	return m.count
}

// Reset clears the meter.
func (m *Meter) Reset() {
	m.sum, m.count = 0, 0
}
