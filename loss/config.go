// Package loss - SSD multibox loss: smooth L1 localization over matched
// anchors plus cross-entropy over matched anchors and mined hard negatives.
package loss

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("invalid loss configuration")
	// ErrShapeMismatch is returned when prediction and target tensors disagree
	// in rank, dtype or shape.
	ErrShapeMismatch = errors.New("loss inputs have mismatched shapes")
	// ErrInvalidTarget is returned when a class target is outside [0, NumClasses).
	ErrInvalidTarget = errors.New("class target out of range")
)

// DefaultNegPosRatio is the number of mined negatives per positive anchor.
const DefaultNegPosRatio = 3

// Config parameterizes MultiBox.
type Config struct {
	// NumClasses is the width of the class score tensor, background included.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// NegPosRatio is the number of hard negatives kept per foreground anchor
	// of a sample.
	NegPosRatio int `json:"neg_pos_ratio" yaml:"neg_pos_ratio"`
}

// DefaultConfig returns a configuration for numClasses classes with a 3:1
// negative to positive ratio.
func DefaultConfig(numClasses int) Config {
	return Config{
		NumClasses:  numClasses,
		NegPosRatio: DefaultNegPosRatio,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumClasses < 2 {
		return errors.Wrapf(ErrInvalidConfig, "need at least 2 classes, got %d", c.NumClasses)
	}
	if c.NegPosRatio < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative to positive ratio %d is negative", c.NegPosRatio)
	}
	return nil
}
