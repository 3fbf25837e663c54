// Package boxes - Normalized box geometry shared by anchors, encoding and decoding.
package boxes

import "fmt"

// Box is a corner-form box normalized to [0, 1] relative to the image.
type Box struct {
	// XMin, YMin is the top-left corner.
	XMin, YMin float32
	// XMax, YMax is the bottom-right corner.
	XMax, YMax float32
}

// CenterBox is a center-size box normalized to [0, 1] relative to the image.
type CenterBox struct {
	CX, CY float32
	W, H   float32
}

// Width returns the width of the box, which may be negative for malformed boxes.
func (b Box) Width() float32 {
	return b.XMax - b.XMin
}

// Height returns the height of the box, which may be negative for malformed boxes.
func (b Box) Height() float32 {
	return b.YMax - b.YMin
}

// Area returns the area of the box, or 0 when either side is not positive.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Empty reports whether the box has no area.
func (b Box) Empty() bool {
	return b.Area() == 0
}

// Center converts the box to center-size form.
//
// Returns:
//   - The equivalent CenterBox.
//
// @example
// c := Box{XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.6}.Center()
// // c == CenterBox{CX: 0.3, CY: 0.4, W: 0.4, H: 0.4}
func (b Box) Center() CenterBox {
	return CenterBox{
		CX: (b.XMin + b.XMax) / 2,
		CY: (b.YMin + b.YMax) / 2,
		W:  b.XMax - b.XMin,
		H:  b.YMax - b.YMin,
	}
}

// Clip clamps every coordinate of the box into [0, 1].
func (b Box) Clip() Box {
	return Box{
		XMin: clamp01(b.XMin),
		YMin: clamp01(b.YMin),
		XMax: clamp01(b.XMax),
		YMax: clamp01(b.YMax),
	}
}

func (b Box) String() string {
	return fmt.Sprintf("(%.4f, %.4f), (%.4f, %.4f)", b.XMin, b.YMin, b.XMax, b.YMax)
}

// Corners converts the box to corner form.
func (c CenterBox) Corners() Box {
	return Box{
		XMin: c.CX - c.W/2,
		YMin: c.CY - c.H/2,
		XMax: c.CX + c.W/2,
		YMax: c.CY + c.H/2,
	}
}

// Area returns the area of the box, or 0 when either side is not positive.
func (c CenterBox) Area() float32 {
	if c.W <= 0 || c.H <= 0 {
		return 0
	}
	return c.W * c.H
}

func (c CenterBox) String() string {
	return fmt.Sprintf("center (%.4f, %.4f) size %.4fx%.4f", c.CX, c.CY, c.W, c.H)
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
