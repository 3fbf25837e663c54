package anchors

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-ssd/boxes"
)

// Set is the ordered, immutable anchor set of a detector. The position of an
// anchor is the alignment key between network outputs, targets and anchors,
// so a Set must never be re-sorted or mutated once generated. It is safe for
// concurrent readers.
type Set []boxes.CenterBox

// Generate builds the anchor set for cfg.
//
// Anchors are emitted scale by scale, then cell row by row, then column by
// column. Each cell receives, in order:
//  1. a square of side MinSize,
//  2. a square of side sqrt(MinSize*MaxSize) when MaxSize is set,
//  3. for every aspect ratio r, a (MinSize*sqrt(r), MinSize/sqrt(r)) box
//     followed by its reciprocal.
//
// Arguments:
//   - cfg: The feature-map scales to cover.
//
// Returns:
//   - Set: The anchors in center-size form.
//   - error: ErrInvalidConfig if cfg does not validate.
//
// @example
// set, err := Generate(ssd.AnchorConfig())
// fmt.Println(len(set)) // 8732
func Generate(cfg Config) (Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	set := make(Set, 0, cfg.Count())
	for _, s := range cfg.Scales {
		step := s.Step
		if step == 0 {
			step = 1 / float32(s.GridSize)
		}

		variants := cellVariants(s)
		for row := 0; row < s.GridSize; row++ {
			cy := (float32(row) + 0.5) * step
			for col := 0; col < s.GridSize; col++ {
				cx := (float32(col) + 0.5) * step
				for _, v := range variants {
					a := boxes.CenterBox{CX: cx, CY: cy, W: max(v[0], 0), H: max(v[1], 0)}
					if cfg.Clip {
						a = clip(a)
					}
					set = append(set, a)
				}
			}
		}
	}

	return set, nil
}

// cellVariants returns the (w, h) pairs shared by every cell of a scale.
func cellVariants(s Scale) [][2]float32 {
	variants := [][2]float32{{s.MinSize, s.MinSize}}
	if s.MaxSize > 0 {
		side := math32.Sqrt(s.MinSize * s.MaxSize)
		variants = append(variants, [2]float32{side, side})
	}
	for _, r := range s.AspectRatios {
		sr := math32.Sqrt(r)
		variants = append(variants,
			[2]float32{s.MinSize * sr, s.MinSize / sr},
			[2]float32{s.MinSize / sr, s.MinSize * sr},
		)
	}
	return variants
}

func clip(a boxes.CenterBox) boxes.CenterBox {
	return boxes.CenterBox{
		CX: min(max(a.CX, 0), 1),
		CY: min(max(a.CY, 0), 1),
		W:  min(max(a.W, 0), 1),
		H:  min(max(a.H, 0), 1),
	}
}

// Corners returns every anchor in corner form, in anchor order.
func (s Set) Corners() []boxes.Box {
	out := make([]boxes.Box, len(s))
	for i, a := range s {
		out[i] = a.Corners()
	}
	return out
}
