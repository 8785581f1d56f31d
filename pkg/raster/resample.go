package raster

import "math"

// Interpolation selects how a warp samples between source pixels.
type Interpolation int

const (
	InterpNearest Interpolation = iota
	InterpBilinear
)

// minWeight is the smallest interpolated validity still treated as data.
const minWeight = 1e-6

// ResampleNearest maps b from src onto dst: each destination pixel takes the
// value of the source pixel containing its centre. Centres outside src take
// the nearest edge pixel.
func ResampleNearest(b Band, src, dst Grid) (Band, error) {
	if err := checkBand(b, src); err != nil {
		return Band{}, err
	}
	m, err := dst.PixelMap(src)
	if err != nil {
		return Band{}, err
	}
	srcMat := NewMatFromData(src.Height, src.Width, b.Data)
	defer srcMat.Close()
	out := NewMat()
	defer out.Close()
	warpAffine(srcMat, &out, m, dst.Height, dst.Width, InterpNearest)
	data := make([]float64, dst.Len())
	copy(data, out.DataFloat64())
	return Band{Name: b.Name, Data: data}, nil
}

// ResampleBilinear maps b from src onto dst with bilinear interpolation.
// Masked pixels are excluded by interpolating the zero-filled values and the
// validity mask separately and dividing, so a destination pixel is masked only
// when none of its four neighbours is valid. Borders are replicated.
func ResampleBilinear(b Band, src, dst Grid) (Band, error) {
	if err := checkBand(b, src); err != nil {
		return Band{}, err
	}
	m, err := dst.PixelMap(src)
	if err != nil {
		return Band{}, err
	}
	values := make([]float64, src.Len())
	valid := make([]float64, src.Len())
	for i, v := range b.Data {
		if math.IsNaN(v) {
			continue
		}
		values[i] = v
		valid[i] = 1
	}
	valMat := NewMatFromData(src.Height, src.Width, values)
	defer valMat.Close()
	maskMat := NewMatFromData(src.Height, src.Width, valid)
	defer maskMat.Close()

	valOut := NewMat()
	defer valOut.Close()
	maskOut := NewMat()
	defer maskOut.Close()
	warpAffine(valMat, &valOut, m, dst.Height, dst.Width, InterpBilinear)
	warpAffine(maskMat, &maskOut, m, dst.Height, dst.Width, InterpBilinear)

	vd := valOut.DataFloat64()
	md := maskOut.DataFloat64()
	data := make([]float64, dst.Len())
	for i := range data {
		if md[i] < minWeight {
			data[i] = math.NaN()
			continue
		}
		data[i] = vd[i] / md[i]
	}
	return Band{Name: b.Name, Data: data}, nil
}

// Lookup finds, for each pixel of a source grid, the destination pixel that
// contains its centre. Centres outside the destination clamp to its edge.
type Lookup struct {
	m      Affine
	width  int
	height int
}

// NewLookup builds the lookup from src pixels to dst pixels.
func NewLookup(src, dst Grid) (*Lookup, error) {
	m, err := src.PixelMap(dst)
	if err != nil {
		return nil, err
	}
	return &Lookup{m: m, width: dst.Width, height: dst.Height}, nil
}

// Index returns the row-major destination index for source pixel (col, row).
func (l *Lookup) Index(col, row int) int {
	x, y := l.m.Apply(float64(col), float64(row))
	xi := clampIndex(int(math.Floor(x+0.5)), l.width)
	yi := clampIndex(int(math.Floor(y+0.5)), l.height)
	return yi*l.width + xi
}

func clampIndex(idx, size int) int {
	if idx < 0 {
		return 0
	}
	if idx >= size {
		return size - 1
	}
	return idx
}

// nearestInto fills dst, a rows×cols grid, with the src pixel nearest to
// m(col, row). Samples outside src take the edge pixel.
func nearestInto(dst, src []float64, sr, sc int, m Affine, rows, cols int) {
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, y := m.Apply(float64(c), float64(r))
			xi := clampIndex(int(math.Floor(x+0.5)), sc)
			yi := clampIndex(int(math.Floor(y+0.5)), sr)
			dst[r*cols+c] = src[yi*sc+xi]
		}
	}
}

// linearTap blends source indices a and b along one axis, b with weight f.
type linearTap struct {
	a, b int
	f    float64
}

// axisTaps returns the linear taps for n destination indices sampling a
// source axis of length srcLen at scale*i+offset, replicating the edges.
func axisTaps(n, srcLen int, scale, offset float64) []linearTap {
	taps := make([]linearTap, n)
	for i := range taps {
		x := scale*float64(i) + offset
		x0 := math.Floor(x)
		taps[i] = linearTap{
			a: clampIndex(int(x0), srcLen),
			b: clampIndex(int(x0)+1, srcLen),
			f: x - x0,
		}
	}
	return taps
}
