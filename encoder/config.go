// Package encoder - Converts ground truth into anchor-aligned training targets
// and raw network predictions back into detections.
package encoder

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when an Encoder cannot be built from its configuration.
	ErrInvalidConfig = errors.New("invalid encoder configuration")
	// ErrLengthMismatch is returned when boxes and labels do not pair up.
	ErrLengthMismatch = errors.New("ground-truth boxes and labels differ in length")
	// ErrInvalidLabel is returned for ground-truth labels that collide with background.
	ErrInvalidLabel = errors.New("ground-truth label must be positive")
	// ErrDegenerateBox is returned for ground-truth boxes without positive width and height.
	ErrDegenerateBox = errors.New("ground-truth box must have positive width and height")
	// ErrShapeMismatch is returned when prediction or target buffers do not align with the anchor set.
	ErrShapeMismatch = errors.New("buffer does not match the anchor set")
)

// Boundary decides whether an IoU exactly at the match threshold counts as a match.
type Boundary string

const (
	// BoundaryExclusive matches anchors whose IoU is strictly above the threshold.
	BoundaryExclusive Boundary = "exclusive"
	// BoundaryInclusive matches anchors whose IoU is at or above the threshold.
	BoundaryInclusive Boundary = "inclusive"
)

// Config controls matching and offset normalization.
type Config struct {
	// IoUThreshold is the overlap an anchor needs with a ground-truth box to
	// be matched to it without being forced.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// Variances scale the center offsets (index 0) and log-size offsets
	// (index 1). Encode divides by them and Decode multiplies them back.
	Variances [2]float32 `json:"variances" yaml:"variances"`
	// Boundary is the policy applied at exactly IoUThreshold.
	Boundary Boundary `json:"boundary" yaml:"boundary"`
}

// DefaultConfig returns the SSD matching configuration: threshold 0.5,
// variances (0.1, 0.2), exclusive boundary.
func DefaultConfig() Config {
	return Config{
		IoUThreshold: 0.5,
		Variances:    [2]float32{0.1, 0.2},
		Boundary:     BoundaryExclusive,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "iou threshold %g outside [0, 1]", c.IoUThreshold)
	}
	if c.Variances[0] <= 0 || c.Variances[1] <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "variances %v must be positive", c.Variances)
	}
	switch c.Boundary {
	case BoundaryExclusive, BoundaryInclusive:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown boundary policy %q", c.Boundary)
	}
	return nil
}

// passes applies the boundary policy to an IoU score.
func (c Config) passes(iou float32) bool {
	if c.Boundary == BoundaryInclusive {
		return iou >= c.IoUThreshold
	}
	return iou > c.IoUThreshold
}
