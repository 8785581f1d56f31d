package raster

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrMisalignedGrid is returned when two grids cannot be related by an
// axis-aligned affine map in a shared CRS.
var ErrMisalignedGrid = errors.New("misaligned grid")

// Affine maps pixel-edge coordinates (col, row) to CRS coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// The six terms are stored as [A, B, C, D, E, F], i.e. xScale, xShear,
// xTranslation, yShear, yScale, yTranslation.
type Affine [6]float64

// Apply transforms (u, v) through the affine map.
func (a Affine) Apply(u, v float64) (float64, float64) {
	return a[0]*u + a[1]*v + a[2], a[3]*u + a[4]*v + a[5]
}

// Then returns the map that applies a first and b second.
func (a Affine) Then(b Affine) Affine {
	return Affine{
		b[0]*a[0] + b[1]*a[3],
		b[0]*a[1] + b[1]*a[4],
		b[0]*a[2] + b[1]*a[5] + b[2],
		b[3]*a[0] + b[4]*a[3],
		b[3]*a[1] + b[4]*a[4],
		b[3]*a[2] + b[4]*a[5] + b[5],
	}
}

// Invert returns the inverse map.
func (a Affine) Invert() (Affine, error) {
	det := a[0]*a[4] - a[1]*a[3]
	if det == 0 || math.IsNaN(det) {
		return Affine{}, errors.Wrap(ErrMisalignedGrid, "singular transform")
	}
	i0 := a[4] / det
	i1 := -a[1] / det
	i3 := -a[3] / det
	i4 := a[0] / det
	return Affine{
		i0, i1, -(i0*a[2] + i1*a[5]),
		i3, i4, -(i3*a[2] + i4*a[5]),
	}, nil
}

// AxisAligned reports whether the transform has no rotation or shear.
func (a Affine) AxisAligned() bool { return a[1] == 0 && a[3] == 0 }

func translate(dx, dy float64) Affine { return Affine{1, 0, dx, 0, 1, dy} }

// Grid is the geolocation of a raster: CRS, affine transform and size.
type Grid struct {
	CRS       string
	Transform Affine
	Width     int
	Height    int
}

func (g Grid) String() string {
	return fmt.Sprintf("%s %dx%d %v", g.CRS, g.Width, g.Height, [6]float64(g.Transform))
}

// Len is the number of pixels in the grid.
func (g Grid) Len() int { return g.Width * g.Height }

// Resolution returns the absolute pixel size along x and y.
func (g Grid) Resolution() (float64, float64) {
	return math.Hypot(g.Transform[0], g.Transform[3]), math.Hypot(g.Transform[1], g.Transform[4])
}

// Validate checks that the grid has a positive size and invertible transform.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return errors.Errorf("invalid grid size %dx%d", g.Width, g.Height)
	}
	if _, err := g.Transform.Invert(); err != nil {
		return err
	}
	return nil
}

// WithResolution derives a grid with the same CRS and origin whose pixel size
// is res. The scale terms are replaced, keeping their sign, and the size is
// rounded up so the new grid covers the original extent.
func (g Grid) WithResolution(res float64) (Grid, error) {
	if res <= 0 || math.IsNaN(res) {
		return Grid{}, errors.Errorf("invalid resolution %v", res)
	}
	if !g.Transform.AxisAligned() {
		return Grid{}, errors.Wrap(ErrMisalignedGrid, "rotated or sheared transform")
	}
	t := g.Transform
	sx, sy := math.Abs(t[0]), math.Abs(t[4])
	out := Grid{
		CRS:       g.CRS,
		Transform: Affine{math.Copysign(res, t[0]), 0, t[2], 0, math.Copysign(res, t[4]), t[5]},
		Width:     ceilTolerant(float64(g.Width) * sx / res),
		Height:    ceilTolerant(float64(g.Height) * sy / res),
	}
	return out, nil
}

// ceilTolerant rounds up, ignoring floating point noise just above an integer.
func ceilTolerant(v float64) int {
	n := int(math.Ceil(v - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// PixelMap returns the affine map from pixel-centre coordinates of g to
// pixel-centre coordinates of dst, where pixel (col, row) has its centre at
// (col, row). Both grids must share a CRS.
func (g Grid) PixelMap(dst Grid) (Affine, error) {
	if g.CRS != dst.CRS {
		return Affine{}, errors.Wrapf(ErrMisalignedGrid, "crs %q vs %q", g.CRS, dst.CRS)
	}
	inv, err := dst.Transform.Invert()
	if err != nil {
		return Affine{}, err
	}
	return translate(0.5, 0.5).Then(g.Transform).Then(inv).Then(translate(-0.5, -0.5)), nil
}

// edgeMap maps pixel-edge coordinates of g to pixel-edge coordinates of dst.
// Both grids must be axis-aligned in the same CRS.
func (g Grid) edgeMap(dst Grid) (Affine, error) {
	if g.CRS != dst.CRS {
		return Affine{}, errors.Wrapf(ErrMisalignedGrid, "crs %q vs %q", g.CRS, dst.CRS)
	}
	if !g.Transform.AxisAligned() || !dst.Transform.AxisAligned() {
		return Affine{}, errors.Wrap(ErrMisalignedGrid, "rotated or sheared transform")
	}
	inv, err := dst.Transform.Invert()
	if err != nil {
		return Affine{}, err
	}
	return g.Transform.Then(inv), nil
}
