// Package ssd - Reference SSD300 detector description.
package ssd

import (
	"github.com/nvr-ai/go-ssd/anchors"
	"github.com/nvr-ai/go-ssd/models"
)

const (
	// InputSize is the side of the square network input in pixels.
	InputSize = 300
	// NumAnchors is the size of the SSD300 anchor set.
	NumAnchors = 8732
)

// Variances are the offset normalization factors for center (index 0) and
// size (index 1) offsets used when the SSD300 reference weights were trained.
var Variances = [2]float32{0.1, 0.2}

// gridSizes are the feature-map resolutions of the six prediction layers.
var gridSizes = []int{38, 19, 10, 5, 3, 1}

// sizes are the anchor sizes in pixels. Layer i uses sizes[i] as its min
// size and sizes[i+1] as its max size.
var sizes = []float32{30, 60, 111, 162, 213, 264, 315}

var aspectRatios = [][]float32{{2}, {2, 3}, {2, 3}, {2, 3}, {2}, {2}}

// AnchorConfig returns the SSD300 anchor configuration: six scales with 4 or
// 6 boxes per cell, 8732 anchors in total.
//
// Returns:
//   - anchors.Config: A fresh configuration the caller may modify.
func AnchorConfig() anchors.Config {
	cfg := anchors.Config{Scales: make([]anchors.Scale, len(gridSizes))}
	for i, grid := range gridSizes {
		ratios := make([]float32, len(aspectRatios[i]))
		copy(ratios, aspectRatios[i])
		cfg.Scales[i] = anchors.Scale{
			GridSize:     grid,
			MinSize:      sizes[i] / InputSize,
			MaxSize:      sizes[i+1] / InputSize,
			AspectRatios: ratios,
		}
	}
	return cfg
}

// Classes returns the label set the reference detector is trained on.
func Classes() *models.OutputClassSet {
	return models.VOCClasses
}
