package loss

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Result is the outcome of one loss evaluation.
type Result struct {
	// Total is Loc + Conf.
	Total float32 `json:"total"`
	// Loc is the smooth L1 localization loss per foreground anchor.
	Loc float32 `json:"loc"`
	// Conf is the classification loss per foreground anchor.
	Conf float32 `json:"conf"`
	// NumPositive is the foreground anchor count of the batch, the normalizer of both terms.
	NumPositive int `json:"num_positive"`
	// Negatives is the number of mined negatives per sample.
	Negatives []int `json:"negatives"`
}

// String returns a one-line summary of the result.
func (r *Result) String() string {
	return fmt.Sprintf("loss=%.4f loc=%.4f conf=%.4f positives=%d", r.Total, r.Loc, r.Conf, r.NumPositive)
}

// MultiBox computes the SSD training loss. A MultiBox holds no mutable state
// and is safe for concurrent use.
type MultiBox struct {
	config Config
}

// New creates a MultiBox loss.
//
// Arguments:
//   - config: Class count and negative mining ratio.
//
// Returns:
//   - *MultiBox: The loss.
//   - error: ErrInvalidConfig if config does not validate.
func New(config Config) (*MultiBox, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &MultiBox{config: config}, nil
}

// Config returns the loss configuration.
func (m *MultiBox) Config() Config {
	return m.config
}

// batch is the flattened view of the four loss inputs.
type batch struct {
	size, anchors, classes int

	locPred   []float32
	locTarget []float32
	confPred  []float32
	labels    []int
}

func (b *batch) row(i int) []float32 {
	return b.confPred[i*b.classes : (i+1)*b.classes]
}

// Compute evaluates the multibox loss of a batch.
//
// Smooth L1 is summed over the foreground anchors. Cross-entropy is summed
// over the foreground anchors and, per sample, the NegPosRatio times as many
// background anchors with the highest background loss. Both sums are divided
// by the foreground count of the whole batch. A batch without foreground
// anchors has a loss of zero.
//
// Arguments:
//   - locPreds: (B, N, 4) float32 predicted offsets.
//   - locTargets: (B, N, 4) float32 encoded offsets.
//   - confPreds: (B, N, C) float32 class logits.
//   - confTargets: (B, N) int class targets, 0 for background.
//
// Returns:
//   - *Result: The loss terms.
//   - error: ErrShapeMismatch or ErrInvalidTarget.
func (m *MultiBox) Compute(locPreds, locTargets, confPreds, confTargets *tensor.Dense) (*Result, error) {
	b, err := m.unpack(locPreds, locTargets, confPreds, confTargets)
	if err != nil {
		return nil, err
	}
	result, _ := m.evaluate(b)
	return result, nil
}

// evaluate computes the loss and returns the anchors selected for the
// classification term.
func (m *MultiBox) evaluate(b *batch) (*Result, []bool) {
	total := b.size * b.anchors
	result := &Result{Negatives: make([]int, b.size)}
	selected := make([]bool, total)

	lse := make([]float32, total)
	bgLoss := make([]float32, total)
	for i := 0; i < total; i++ {
		row := b.row(i)
		lse[i] = logSumExp(row)
		bgLoss[i] = lse[i] - row[0]
		if b.labels[i] != 0 {
			selected[i] = true
			result.NumPositive++
		}
	}
	if result.NumPositive == 0 {
		return result, selected
	}

	for s := 0; s < b.size; s++ {
		lo, hi := s*b.anchors, (s+1)*b.anchors
		mined := MineHardNegatives(bgLoss[lo:hi], b.labels[lo:hi], m.config.NegPosRatio)
		for _, j := range mined {
			selected[lo+j] = true
		}
		result.Negatives[s] = len(mined)
	}

	var locSum, confSum float32
	for i := 0; i < total; i++ {
		if !selected[i] {
			continue
		}
		label := b.labels[i]
		confSum += lse[i] - b.row(i)[label]
		if label == 0 {
			continue
		}
		for k := 4 * i; k < 4*i+4; k++ {
			locSum += smoothL1(b.locPred[k] - b.locTarget[k])
		}
	}

	norm := float32(result.NumPositive)
	result.Loc = locSum / norm
	result.Conf = confSum / norm
	result.Total = result.Loc + result.Conf
	return result, selected
}

// smoothL1 is the Huber loss with a transition at |d| = 1.
func smoothL1(d float32) float32 {
	a := math32.Abs(d)
	if a < 1 {
		return 0.5 * a * a
	}
	return a - 0.5
}

// logSumExp returns log(sum(exp(row))) without overflowing.
func logSumExp(row []float32) float32 {
	peak := row[0]
	for _, v := range row[1:] {
		peak = max(peak, v)
	}
	var sum float32
	for _, v := range row {
		sum += math32.Exp(v - peak)
	}
	return peak + math32.Log(sum)
}

func (m *MultiBox) unpack(locPreds, locTargets, confPreds, confTargets *tensor.Dense) (*batch, error) {
	if confTargets == nil || confTargets.Dims() != 2 {
		return nil, errors.Wrap(ErrShapeMismatch, "class targets must be (B, N)")
	}
	if confTargets.Dtype() != tensor.Int {
		return nil, errors.Wrapf(ErrShapeMismatch, "class targets are %v, want int", confTargets.Dtype())
	}
	shape := confTargets.Shape()
	b := &batch{size: shape[0], anchors: shape[1], classes: m.config.NumClasses}

	var err error
	if b.locPred, err = float32Data("loc predictions", locPreds, b.size, b.anchors, 4); err != nil {
		return nil, err
	}
	if b.locTarget, err = float32Data("loc targets", locTargets, b.size, b.anchors, 4); err != nil {
		return nil, err
	}
	if b.confPred, err = float32Data("class predictions", confPreds, b.size, b.anchors, b.classes); err != nil {
		return nil, err
	}

	b.labels = dense(confTargets).Data().([]int)
	for i, l := range b.labels {
		if l < 0 || l >= b.classes {
			return nil, errors.Wrapf(ErrInvalidTarget, "anchor %d of sample %d has class %d, want [0, %d)",
				i%b.anchors, i/b.anchors, l, b.classes)
		}
	}
	return b, nil
}

func float32Data(name string, t *tensor.Dense, shape ...int) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s missing", name)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s are %v, want float32", name, t.Dtype())
	}
	if !t.Shape().Eq(tensor.Shape(shape)) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s have shape %v, want %v", name, t.Shape(), tensor.Shape(shape))
	}
	return dense(t).Data().([]float32), nil
}

// dense returns t with its own contiguous backing when t is a view.
func dense(t *tensor.Dense) *tensor.Dense {
	if t.IsView() {
		return t.Materialize().(*tensor.Dense)
	}
	return t
}
