package encoder

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ssd/boxes"
	"github.com/nvr-ai/go-ssd/models/postprocess"
)

// DecodeOptions controls candidate selection and suppression in Decode.
type DecodeOptions struct {
	// ScoreThreshold is the class score a candidate must exceed.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"`
	// NMSThreshold is the IoU at or above which lower-scored boxes of the same class are dropped.
	NMSThreshold float32 `json:"nms_threshold" yaml:"nms_threshold"`
	// CandidatesPerClass caps the candidates entering suppression per class (0 = no cap).
	CandidatesPerClass int `json:"candidates_per_class" yaml:"candidates_per_class"`
}

// DefaultDecodeOptions returns the thresholds used to evaluate the SSD300
// reference detector.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		ScoreThreshold:     0.01,
		NMSThreshold:       0.45,
		CandidatesPerClass: 200,
	}
}

// Decode turns the raw predictions of one image into detections.
//
// Offsets are inverted against their anchors. For every class except the
// background, anchors scoring above ScoreThreshold are ranked by score (ties
// by anchor index) and reduced with greedy NMS. Classes are concatenated in
// ascending order without re-ranking.
//
// Arguments:
//   - loc: 4 offsets per anchor, anchor-major.
//   - scores: numClasses scores per anchor, anchor-major. Scores are compared
//     as given; see Softmax for networks that emit logits.
//   - numClasses: Number of score columns, background included.
//   - opts: Thresholds.
//
// Returns:
//   - []postprocess.Result: Detections, empty when nothing passes the threshold.
//   - error: ErrShapeMismatch if the buffers do not align with the anchor set.
func (e *Encoder) Decode(loc, scores []float32, numClasses int, opts DecodeOptions) ([]postprocess.Result, error) {
	n := len(e.anchors)
	if numClasses < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "need at least 2 classes, got %d", numClasses)
	}
	if len(loc) != 4*n {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d location values for %d anchors", len(loc), n)
	}
	if len(scores) != numClasses*n {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d scores for %d anchors x %d classes", len(scores), n, numClasses)
	}

	decoded := make([]boxes.Box, n)
	done := make([]bool, n)
	box := func(i int) boxes.Box {
		if !done[i] {
			off := [4]float32{loc[4*i], loc[4*i+1], loc[4*i+2], loc[4*i+3]}
			decoded[i] = DecodeOffset(e.anchors[i], off, e.config.Variances)
			done[i] = true
		}
		return decoded[i]
	}

	nms := &postprocess.NMSConfig{IoUThreshold: opts.NMSThreshold}
	results := make([]postprocess.Result, 0)
	candidates := make([]postprocess.Result, 0)
	for c := 1; c < numClasses; c++ {
		candidates = candidates[:0]
		for i := 0; i < n; i++ {
			score := scores[i*numClasses+c]
			if score > opts.ScoreThreshold {
				candidates = append(candidates, postprocess.Result{
					Box:   box(i),
					Score: score,
					Class: c,
					Index: i,
				})
			}
		}
		if len(candidates) == 0 {
			continue
		}

		postprocess.SortByScore(candidates)
		if opts.CandidatesPerClass > 0 && len(candidates) > opts.CandidatesPerClass {
			candidates = candidates[:opts.CandidatesPerClass]
		}
		results = append(results, postprocess.ApplyGreedyNMS(candidates, nms)...)
	}

	return results, nil
}

// Softmax converts per-anchor logits into probabilities, row by row.
//
// Arguments:
//   - logits: numClasses values per anchor.
//   - numClasses: Row width.
//
// Returns:
//   - []float32: A new buffer of probabilities.
//   - error: ErrShapeMismatch if logits is not a whole number of rows.
func Softmax(logits []float32, numClasses int) ([]float32, error) {
	if numClasses < 1 || len(logits)%numClasses != 0 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d logits do not split into rows of %d", len(logits), numClasses)
	}

	out := make([]float32, len(logits))
	for r := 0; r < len(logits); r += numClasses {
		row := logits[r : r+numClasses]
		peak := row[0]
		for _, v := range row[1:] {
			peak = max(peak, v)
		}
		var sum float32
		for k, v := range row {
			out[r+k] = math32.Exp(v - peak)
			sum += out[r+k]
		}
		for k := range row {
			out[r+k] /= sum
		}
	}
	return out, nil
}
