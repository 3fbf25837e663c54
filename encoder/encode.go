package encoder

import (
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/boxes"
)

// Targets are the training targets of one image, aligned with the anchor set.
type Targets struct {
	// Loc holds 4 offsets per anchor, anchor-major. Background anchors are zero.
	Loc []float32
	// Conf holds the class label per anchor; 0 is background.
	Conf []int
}

// NumPositive returns the number of foreground anchors.
func (t *Targets) NumPositive() int {
	n := 0
	for _, c := range t.Conf {
		if c != 0 {
			n++
		}
	}
	return n
}

// Offset returns the location target of anchor i.
func (t *Targets) Offset(i int) [4]float32 {
	return [4]float32{t.Loc[4*i], t.Loc[4*i+1], t.Loc[4*i+2], t.Loc[4*i+3]}
}

// Encoder matches ground truth to a fixed anchor set and inverts network
// predictions back to boxes. An Encoder is safe for concurrent use.
type Encoder struct {
	anchors anchors.Set
	corners []boxes.Box
	config  Config
	// matrices recycles IoU arenas between Encode calls.
	matrices *sync.Pool
}

// New creates an Encoder over set.
//
// Arguments:
//   - set: The anchor set. It is retained and must not be modified afterwards.
//   - config: Matching and variance configuration.
//
// Returns:
//   - *Encoder: The encoder.
//   - error: ErrInvalidConfig if set is empty or config does not validate.
func New(set anchors.Set, config Config) (*Encoder, error) {
	if len(set) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "empty anchor set")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	set = slices.Clone(set)
	return &Encoder{
		anchors: set,
		corners: set.Corners(),
		config:  config,
		matrices: &sync.Pool{
			New: func() any { return &boxes.IoUMatrix{} },
		},
	}, nil
}

// Anchors returns a copy of the anchor set of the encoder.
func (e *Encoder) Anchors() anchors.Set {
	return slices.Clone(e.anchors)
}

// NumAnchors returns the size of the anchor set.
func (e *Encoder) NumAnchors() int {
	return len(e.anchors)
}

// Config returns the encoder configuration.
func (e *Encoder) Config() Config {
	return e.config
}

// Encode builds the location and class targets of one image.
//
// Every ground-truth box is first forced onto its best-overlapping anchor so
// that each box owns at least one anchor. When that anchor was already forced
// by an earlier box, the box takes its best anchor that is still free. Every
// other anchor is matched to the box it overlaps most if the overlap passes
// the threshold policy, and is background otherwise. Ties go to the lowest
// index.
//
// Arguments:
//   - gt: Ground-truth boxes in normalized corner form.
//   - labels: Positive class labels, one per box.
//
// Returns:
//   - *Targets: Fresh targets. With no ground truth every anchor is background.
//   - error: ErrLengthMismatch, ErrInvalidLabel or ErrDegenerateBox. More
//     boxes than anchors is ErrShapeMismatch.
func (e *Encoder) Encode(gt []boxes.Box, labels []int) (*Targets, error) {
	if err := (Sample{Boxes: gt, Labels: labels}).Validate(); err != nil {
		return nil, err
	}
	if len(gt) > len(e.anchors) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d boxes for %d anchors", len(gt), len(e.anchors))
	}

	n := len(e.anchors)
	targets := &Targets{
		Loc:  make([]float32, 4*n),
		Conf: make([]int, n),
	}
	if len(gt) == 0 {
		return targets, nil
	}

	m := e.matrices.Get().(*boxes.IoUMatrix)
	defer e.matrices.Put(m)
	m.Compute(gt, e.corners)

	match := e.match(m)
	for j, i := range match {
		if i < 0 {
			continue
		}
		off := EncodeOffset(e.anchors[j], gt[i], e.config.Variances)
		copy(targets.Loc[4*j:4*j+4], off[:])
		targets.Conf[j] = labels[i]
	}

	return targets, nil
}

// match returns, per anchor, the index of its ground-truth box or -1.
func (e *Encoder) match(m *boxes.IoUMatrix) []int {
	match := make([]int, m.Cols)
	for j := range match {
		i, iou := m.ArgMaxCol(j)
		if e.config.passes(iou) {
			match[j] = i
		} else {
			match[j] = -1
		}
	}

	forced := make([]bool, m.Cols)
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		best, bestIoU := -1, float32(-1)
		for j, iou := range row {
			if !forced[j] && iou > bestIoU {
				best, bestIoU = j, iou
			}
		}
		forced[best] = true
		match[best] = i
	}

	return match
}
