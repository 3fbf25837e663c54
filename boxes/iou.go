package boxes

// IoU calculates the Intersection over Union of two corner-form boxes.
//
// The intersection is bounded by the larger of the two minimum corners and the
// smaller of the two maximum corners. Non-overlapping boxes and boxes whose
// union has no area both yield 0, so the result is always within [0, 1].
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float32: The IoU score in [0, 1].
//
// @example
// a := Box{XMin: 0, YMin: 0, XMax: 0.5, YMax: 0.5}
// b := Box{XMin: 0.25, YMin: 0.25, XMax: 0.75, YMax: 0.75}
// iou := IoU(a, b) // 0.0625 / 0.4375 = 0.142857
func IoU(a, b Box) float32 {
	ix1 := max(a.XMin, b.XMin)
	iy1 := max(a.YMin, b.YMin)
	ix2 := min(a.XMax, b.XMax)
	iy2 := min(a.YMax, b.YMax)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}

	iou := inter / union
	if iou > 1 {
		// Rounding can push a self-overlap a hair past 1.
		return 1
	}
	return iou
}

// IoUMatrix is a reusable row-major buffer of IoU scores between a set of
// ground-truth boxes (rows) and a set of anchors (columns).
//
// The zero value is ready to use. A matrix is not safe for concurrent use;
// give each worker its own.
type IoUMatrix struct {
	Rows, Cols int
	data       []float32
}

// Compute fills the matrix with IoU(rows[i], cols[j]) for every pair,
// growing the backing buffer only when it is too small.
//
// Arguments:
//   - rows: Ground-truth boxes in corner form.
//   - cols: Anchor boxes in corner form.
func (m *IoUMatrix) Compute(rows, cols []Box) {
	m.Rows, m.Cols = len(rows), len(cols)
	n := m.Rows * m.Cols
	if cap(m.data) < n {
		m.data = make([]float32, n)
	}
	m.data = m.data[:n]

	for i, r := range rows {
		row := m.data[i*m.Cols : (i+1)*m.Cols]
		for j, c := range cols {
			row[j] = IoU(r, c)
		}
	}
}

// At returns the IoU between row i and column j.
func (m *IoUMatrix) At(i, j int) float32 {
	return m.data[i*m.Cols+j]
}

// Row returns the scores of row i. The slice aliases the matrix buffer.
func (m *IoUMatrix) Row(i int) []float32 {
	return m.data[i*m.Cols : (i+1)*m.Cols]
}

// ArgMaxRow returns the column with the highest score in row i. Ties go to
// the lowest column index.
func (m *IoUMatrix) ArgMaxRow(i int) (int, float32) {
	row := m.Row(i)
	best, bestIoU := 0, row[0]
	for j := 1; j < len(row); j++ {
		if row[j] > bestIoU {
			best, bestIoU = j, row[j]
		}
	}
	return best, bestIoU
}

// ArgMaxCol returns the row with the highest score in column j. Ties go to
// the lowest row index.
func (m *IoUMatrix) ArgMaxCol(j int) (int, float32) {
	best, bestIoU := 0, m.data[j]
	for i := 1; i < m.Rows; i++ {
		if v := m.data[i*m.Cols+j]; v > bestIoU {
			best, bestIoU = i, v
		}
	}
	return best, bestIoU
}
