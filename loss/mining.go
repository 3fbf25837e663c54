package loss

import (
	"sort"
)

// MineHardNegatives picks the background anchors of one sample that the
// network finds hardest to call background.
//
// Arguments:
//   - bgLoss: Per-anchor cross-entropy against the background class.
//   - labels: Per-anchor class targets; 0 is background.
//   - ratio: Negatives kept per foreground anchor.
//
// Returns:
//   - []int: min(ratio*foreground, background) anchor indices ordered by
//     descending loss, ties by ascending index. Empty when the sample has no
//     foreground anchors.
func MineHardNegatives(bgLoss []float32, labels []int, ratio int) []int {
	candidates := make([]int, 0, len(labels))
	positives := 0
	for i, l := range labels {
		if l == 0 {
			candidates = append(candidates, i)
		} else {
			positives++
		}
	}

	k := min(ratio*positives, len(candidates))
	if k <= 0 {
		return []int{}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return bgLoss[candidates[a]] > bgLoss[candidates[b]]
	})
	return candidates[:k:k]
}
