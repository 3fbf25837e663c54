package boxes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxCenterRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		box  Box
	}{
		{name: "full image", box: Box{XMin: 0, YMin: 0, XMax: 1, YMax: 1}},
		{name: "small off-center", box: Box{XMin: 0.1, YMin: 0.2, XMax: 0.15, YMax: 0.9}},
		{name: "wide", box: Box{XMin: 0.05, YMin: 0.4, XMax: 0.95, YMax: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.box.Center().Corners()
			assert.InDelta(t, tt.box.XMin, got.XMin, 1e-6)
			assert.InDelta(t, tt.box.YMin, got.YMin, 1e-6)
			assert.InDelta(t, tt.box.XMax, got.XMax, 1e-6)
			assert.InDelta(t, tt.box.YMax, got.YMax, 1e-6)
		})
	}
}

func TestBoxArea(t *testing.T) {
	assert.InDelta(t, 0.25, Box{XMax: 0.5, YMax: 0.5}.Area(), 1e-6)
	assert.Zero(t, Box{XMin: 0.5, XMax: 0.5, YMax: 1}.Area())
	assert.Zero(t, Box{XMin: 0.6, XMax: 0.5, YMax: 1}.Area(), "inverted boxes have no area")
	assert.True(t, Box{}.Empty())
}

func TestBoxClip(t *testing.T) {
	got := Box{XMin: -0.2, YMin: 0.1, XMax: 1.3, YMax: 0.9}.Clip()
	assert.Equal(t, Box{XMin: 0, YMin: 0.1, XMax: 1, YMax: 0.9}, got)
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Box
		expected float32
	}{
		{
			name:     "partial overlap",
			a:        Box{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5},
			b:        Box{XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75},
			expected: 0.0625 / 0.4375,
		},
		{
			name:     "disjoint",
			a:        Box{XMin: 0, YMin: 0, XMax: 0.2, YMax: 0.2},
			b:        Box{XMin: 0.5, YMin: 0.5, XMax: 0.7, YMax: 0.7},
			expected: 0,
		},
		{
			name:     "touching edges",
			a:        Box{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5},
			b:        Box{XMin: 0.5, YMin: 0, XMax: 1, YMax: 0.5},
			expected: 0,
		},
		{
			name:     "contained",
			a:        Box{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
			b:        Box{XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75},
			expected: 0.25,
		},
		{
			name:     "degenerate zero area",
			a:        Box{XMin: 0.3, YMin: 0.3, XMax: 0.3, YMax: 0.3},
			b:        Box{XMin: 0.3, YMin: 0.3, XMax: 0.3, YMax: 0.3},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, IoU(tt.a, tt.b), 1e-6)
		})
	}
}

func TestIoUProperties(t *testing.T) {
	samples := []Box{
		{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		{XMin: 0.1, YMin: 0.1, XMax: 0.4, YMax: 0.3},
		{XMin: 0.2, YMin: 0.05, XMax: 0.35, YMax: 0.9},
		{XMin: 0.7, YMin: 0.7, XMax: 0.72, YMax: 0.95},
		{XMin: 0.33, YMin: 0.12, XMax: 0.81, YMax: 0.44},
	}

	for i, a := range samples {
		assert.InDelta(t, 1, IoU(a, a), 1e-6, "self IoU of box %d", i)
		for j, b := range samples {
			ab, ba := IoU(a, b), IoU(b, a)
			assert.Equal(t, ab, ba, "IoU must be symmetric for %d,%d", i, j)
			assert.GreaterOrEqual(t, ab, float32(0))
			assert.LessOrEqual(t, ab, float32(1))
		}
	}
}

func TestIoUMatrix(t *testing.T) {
	rows := []Box{
		{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5},
		{XMin: 0.5, YMin: 0.5, XMax: 1, YMax: 1},
	}
	cols := []Box{
		{XMin: 0.5, YMin: 0.5, XMax: 1, YMax: 1},
		{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5},
		{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5},
	}

	var m IoUMatrix
	m.Compute(rows, cols)
	require.Equal(t, 2, m.Rows)
	require.Equal(t, 3, m.Cols)

	assert.InDelta(t, 1, m.At(0, 1), 1e-6)
	assert.Zero(t, m.At(0, 0))

	col, iou := m.ArgMaxRow(0)
	assert.Equal(t, 1, col, "ties resolve to the first column")
	assert.InDelta(t, 1, iou, 1e-6)

	row, iou := m.ArgMaxCol(0)
	assert.Equal(t, 1, row)
	assert.InDelta(t, 1, iou, 1e-6)

	// Recomputing with fewer rows reuses the buffer.
	m.Compute(rows[:1], cols)
	assert.Equal(t, 1, m.Rows)
	assert.Len(t, m.Row(0), 3)
}
