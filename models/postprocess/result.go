// Package postprocess - Postprocessing utilities for detector outputs.
package postprocess

import (
	"fmt"
	"sort"

	"github.com/nvr-ai/go-ssd/boxes"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result in normalized corner form.
	Box boxes.Box
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result (never 0, the background).
	Class int
	// Index is the position of the anchor the detection was decoded from.
	// It breaks score ties so suppression stays deterministic.
	Index int
}

func (r Result) String() string {
	return fmt.Sprintf("class %d (score %f) anchor %d: %s", r.Class, r.Score, r.Index, r.Box)
}

// SortByScore orders detections by descending score, then ascending anchor
// index, in place.
func SortByScore(detections []Result) {
	sort.SliceStable(detections, func(i, j int) bool {
		if detections[i].Score != detections[j].Score {
			return detections[i].Score > detections[j].Score
		}
		return detections[i].Index < detections[j].Index
	})
}
