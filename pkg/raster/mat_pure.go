//go:build purego || js

package raster

import "math"

// Mat is a pure Go 2D float64 matrix.
type Mat struct {
	data []float64
	rows int
	cols int
}

func NewMat() Mat { return Mat{} }

func NewMatWithSize(rows, cols int) Mat {
	return Mat{data: make([]float64, rows*cols), rows: rows, cols: cols}
}

// NewMatFromData copies data, which must hold rows*cols values.
func NewMatFromData(rows, cols int, data []float64) Mat {
	m := NewMatWithSize(rows, cols)
	copy(m.data, data)
	return m
}

func (m Mat) Rows() int   { return m.rows }
func (m Mat) Cols() int   { return m.cols }
func (m Mat) Empty() bool { return m.data == nil || m.rows == 0 || m.cols == 0 }

func (m Mat) Clone() Mat { return NewMatFromData(m.rows, m.cols, m.data) }

func (m *Mat) Close() {
	m.data = nil
	m.rows = 0
	m.cols = 0
}

// DataFloat64 returns the backing slice.
func (m Mat) DataFloat64() []float64 { return m.data }

// --- Pure Go CV operations ---

// warpAffine samples src at m(col, row) for every destination pixel. m maps
// destination pixel centres to source pixel centres. Samples outside src
// replicate the border.
func warpAffine(src Mat, dst *Mat, m Affine, rows, cols int, interp Interpolation) {
	if dst.rows != rows || dst.cols != cols || dst.data == nil {
		*dst = NewMatWithSize(rows, cols)
	}
	if interp == InterpNearest {
		nearestInto(dst.data, src.data, src.rows, src.cols, m, rows, cols)
		return
	}
	sd := src.data
	dd := dst.data
	sr, sc := src.rows, src.cols
	for r := 0; r < rows; r++ {
		off := r * cols
		for c := 0; c < cols; c++ {
			x, y := m.Apply(float64(c), float64(r))
			x0f, y0f := math.Floor(x), math.Floor(y)
			fx, fy := x-x0f, y-y0f
			x0, y0 := int(x0f), int(y0f)
			xa, xb := clampIndex(x0, sc), clampIndex(x0+1, sc)
			ya, yb := clampIndex(y0, sr), clampIndex(y0+1, sr)
			top := sd[ya*sc+xa]*(1-fx) + sd[ya*sc+xb]*fx
			bot := sd[yb*sc+xa]*(1-fx) + sd[yb*sc+xb]*fx
			dd[off+c] = top*(1-fy) + bot*fy
		}
	}
}
