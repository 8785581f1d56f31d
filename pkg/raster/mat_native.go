//go:build !purego && !js

package raster

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Mat wraps gocv.Mat for the native OpenCV backend.
type Mat struct {
	m gocv.Mat
}

func NewMat() Mat           { return Mat{m: gocv.NewMat()} }
func (mat Mat) Rows() int   { return mat.m.Rows() }
func (mat Mat) Cols() int   { return mat.m.Cols() }
func (mat Mat) Empty() bool { return mat.m.Empty() }
func (mat Mat) Clone() Mat  { return Mat{m: mat.m.Clone()} }
func (mat *Mat) Close()     { mat.m.Close() }

// NewMatWithSize returns a zeroed rows×cols matrix.
func NewMatWithSize(rows, cols int) Mat {
	mat := Mat{m: gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)}
	data := mat.DataFloat64()
	for i := range data {
		data[i] = 0
	}
	return mat
}

// NewMatFromData copies data, which must hold rows*cols values.
func NewMatFromData(rows, cols int, data []float64) Mat {
	mat := NewMatWithSize(rows, cols)
	copy(mat.DataFloat64(), data)
	return mat
}

func (mat Mat) DataFloat64() []float64 {
	data, _ := mat.m.DataPtrFloat64()
	return data
}

// --- CV operations ---

// warpAffine samples src at m(col, row) for every destination pixel. m maps
// destination pixel centres to source pixel centres. Samples outside src
// replicate the border.
//
// Axis-aligned bilinear warps run as two matrix products, dst = Wy·src·Wx,
// which keeps the interpolation weights exact; cv::warpAffine quantises them
// to 1/32 pixel.
func warpAffine(src Mat, dst *Mat, m Affine, rows, cols int, interp Interpolation) {
	switch {
	case interp == InterpNearest:
		if dst.Rows() != rows || dst.Cols() != cols {
			dst.Close()
			*dst = NewMatWithSize(rows, cols)
		}
		nearestInto(dst.DataFloat64(), src.DataFloat64(), src.Rows(), src.Cols(), m, rows, cols)
	case m.AxisAligned():
		separableLinear(src, dst, m, rows, cols)
	default:
		fwd, err := m.Invert()
		if err != nil {
			dst.Close()
			*dst = NewMatWithSize(rows, cols)
			return
		}
		tm := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
		defer tm.Close()
		for i, v := range fwd {
			tm.SetDoubleAt(i/3, i%3, v)
		}
		gocv.WarpAffineWithParams(src.m, &dst.m, tm, image.Pt(cols, rows),
			gocv.InterpolationLinear, gocv.BorderReplicate, color.RGBA{})
	}
}

func separableLinear(src Mat, dst *Mat, m Affine, rows, cols int) {
	sr, sc := src.Rows(), src.Cols()
	wy := NewMatWithSize(rows, sr)
	defer wy.Close()
	wyd := wy.DataFloat64()
	for i, t := range axisTaps(rows, sr, m[4], m[5]) {
		wyd[i*sr+t.a] += 1 - t.f
		wyd[i*sr+t.b] += t.f
	}
	wx := NewMatWithSize(sc, cols)
	defer wx.Close()
	wxd := wx.DataFloat64()
	for j, t := range axisTaps(cols, sc, m[0], m[2]) {
		wxd[t.a*cols+j] += 1 - t.f
		wxd[t.b*cols+j] += t.f
	}

	tmp := gocv.NewMat()
	defer tmp.Close()
	none := gocv.NewMat()
	defer none.Close()
	gocv.Gemm(wy.m, src.m, 1, none, 0, &tmp, 0)
	gocv.Gemm(tmp, wx.m, 1, none, 0, &dst.m, 0)
}
