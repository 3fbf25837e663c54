// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"github.com/nvr-ai/go-ssd/boxes"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap at or above which a lower-scored box is suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// ClassAware, if true, suppresses only within the same class.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// The highest-scoring remaining detection is kept and every remaining
// detection overlapping it with IoU >= IoUThreshold is discarded, until no
// candidates are left. The input is not modified.
//
// Arguments:
//   - detections: Slice of detections sorted with SortByScore.
//   - config: NMS configuration.
//
// Returns:
//   - Kept detections in input order. Empty (non-nil) if none were given.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	n := len(detections)
	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		kept := detections[i]
		filtered = append(filtered, kept)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && detections[j].Class != kept.Class {
				continue
			}
			if boxes.IoU(kept.Box, detections[j].Box) >= config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
