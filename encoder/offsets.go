package encoder

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-ssd/boxes"
)

// EncodeOffset expresses box in the reference frame of anchor:
//
//	((cx-acx)/(v0*aw), (cy-acy)/(v0*ah), ln(w/aw)/v1, ln(h/ah)/v1)
//
// The box must have positive width and height.
func EncodeOffset(anchor boxes.CenterBox, box boxes.Box, variances [2]float32) [4]float32 {
	c := box.Center()
	return [4]float32{
		(c.CX - anchor.CX) / (variances[0] * anchor.W),
		(c.CY - anchor.CY) / (variances[0] * anchor.H),
		math32.Log(c.W/anchor.W) / variances[1],
		math32.Log(c.H/anchor.H) / variances[1],
	}
}

// DecodeOffset is the inverse of EncodeOffset and returns the box in corner form.
func DecodeOffset(anchor boxes.CenterBox, offset [4]float32, variances [2]float32) boxes.Box {
	return boxes.CenterBox{
		CX: anchor.CX + offset[0]*variances[0]*anchor.W,
		CY: anchor.CY + offset[1]*variances[0]*anchor.H,
		W:  anchor.W * math32.Exp(offset[2]*variances[1]),
		H:  anchor.H * math32.Exp(offset[3]*variances[1]),
	}.Corners()
}
