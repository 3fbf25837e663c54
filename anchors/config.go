// Package anchors - Deterministic default-box generation for SSD feature maps.
package anchors

import (
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned when an anchor configuration cannot produce a
// well-formed anchor set.
var ErrInvalidConfig = errors.New("invalid anchor configuration")

// Scale describes the anchors laid over one feature map.
type Scale struct {
	// GridSize is the number of cells per side of the (square) feature map.
	GridSize int `json:"grid_size" yaml:"grid_size"`
	// MinSize is the normalized side of the base square anchor.
	MinSize float32 `json:"min_size" yaml:"min_size"`
	// MaxSize, when positive, adds a second square anchor of side sqrt(MinSize*MaxSize).
	MaxSize float32 `json:"max_size" yaml:"max_size"`
	// AspectRatios adds two rectangular anchors per ratio: r and 1/r.
	AspectRatios []float32 `json:"aspect_ratios" yaml:"aspect_ratios"`
	// Step is the normalized distance between cell centers. Zero means 1/GridSize.
	Step float32 `json:"step,omitempty" yaml:"step,omitempty"`
}

// Config enumerates the feature-map scales of a detector, from the finest
// grid to the coarsest. The order of Scales is the order of the anchor set.
type Config struct {
	Scales []Scale `json:"scales" yaml:"scales"`
	// Clip clamps anchor centers and sizes into [0, 1] after generation.
	Clip bool `json:"clip" yaml:"clip"`
}

// Validate checks that every scale can produce anchors.
//
// Returns:
//   - error: ErrInvalidConfig wrapped with the offending scale, or nil.
func (c Config) Validate() error {
	if len(c.Scales) == 0 {
		return errors.Wrap(ErrInvalidConfig, "no scales configured")
	}
	for i, s := range c.Scales {
		if s.GridSize <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "scale %d: grid size %d must be positive", i, s.GridSize)
		}
		if s.MinSize <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "scale %d: min size %g must be positive", i, s.MinSize)
		}
		if s.MaxSize < 0 {
			return errors.Wrapf(ErrInvalidConfig, "scale %d: max size %g must not be negative", i, s.MaxSize)
		}
		if s.Step < 0 {
			return errors.Wrapf(ErrInvalidConfig, "scale %d: step %g must not be negative", i, s.Step)
		}
		for _, r := range s.AspectRatios {
			if r <= 0 {
				return errors.Wrapf(ErrInvalidConfig, "scale %d: aspect ratio %g must be positive", i, r)
			}
		}
	}
	return nil
}

// BoxesPerCell returns how many anchors every cell of scale i receives.
func (c Config) BoxesPerCell(i int) int {
	s := c.Scales[i]
	n := 1 + 2*len(s.AspectRatios)
	if s.MaxSize > 0 {
		n++
	}
	return n
}

// Count returns the analytic size of the anchor set: the sum over scales of
// GridSize² × BoxesPerCell.
func (c Config) Count() int {
	total := 0
	for i, s := range c.Scales {
		total += s.GridSize * s.GridSize * c.BoxesPerCell(i)
	}
	return total
}
