// Package quicklook renders a temperature band as a colour-ramped preview
// image with a legend.
package quicklook

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tirsharpen/pkg/raster"
)

// Options controls the rendered preview.
type Options struct {
	// Width is the preview width in pixels. Larger bands are downscaled; zero
	// keeps the band's width.
	Width int
	Title string
	// Min and Max fix the colour range. When both are zero the 2nd and 98th
	// percentiles of the band are used.
	Min, Max float64
}

// DefaultOptions returns an 800 px wide preview stretched to the band's
// percentiles.
func DefaultOptions() Options { return Options{Width: 800} }

const legendHeight = 60

var maskedColor = color.RGBA{40, 40, 40, 255}

// Render draws b, laid out on grid, as an RGBA preview.
func Render(b raster.Band, grid raster.Grid, opts Options) (*image.RGBA, error) {
	if len(b.Data) != grid.Len() {
		return nil, errors.Errorf("band %q has %d pixels, grid has %d", b.Name, len(b.Data), grid.Len())
	}
	lo, hi := opts.Min, opts.Max
	if lo == 0 && hi == 0 {
		s := raster.CalculateStatistics(b)
		if s.Count == 0 {
			return nil, errors.Errorf("band %q is fully masked", b.Name)
		}
		lo, hi = s.P2, s.P98
	}
	if !(hi > lo) {
		hi = lo + 1
	}

	full := image.NewRGBA(image.Rect(0, 0, grid.Width, grid.Height))
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			v := b.Data[y*grid.Width+x]
			if math.IsNaN(v) {
				full.SetRGBA(x, y, maskedColor)
				continue
			}
			full.SetRGBA(x, y, ramp((v-lo)/(hi-lo)))
		}
	}

	imgW := opts.Width
	if imgW <= 0 || imgW > grid.Width {
		imgW = grid.Width
	}
	imgH := int(math.Round(float64(grid.Height) * float64(imgW) / float64(grid.Width)))
	if imgH < 1 {
		imgH = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, imgW, imgH+legendHeight))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.RGBA{0, 0, 0, 255}), image.Point{}, draw.Src)
	if imgW == grid.Width {
		draw.Draw(out, full.Bounds(), full, image.Point{}, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(out, image.Rect(0, 0, imgW, imgH), full, full.Bounds(), draw.Src, nil)
	}

	drawLegend(out, imgH, lo, hi, opts.Title)
	return out, nil
}

// ramp maps t in [0, 1] onto blue, cyan, green, yellow and red.
func ramp(t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	stops := [...]color.RGBA{
		{20, 30, 160, 255},
		{0, 170, 220, 255},
		{40, 180, 60, 255},
		{240, 220, 40, 255},
		{210, 30, 30, 255},
	}
	pos := t * float64(len(stops)-1)
	i := int(pos)
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	f := pos - float64(i)
	a, b := stops[i], stops[i+1]
	mix := func(x, y uint8) uint8 { return uint8(math.Round(float64(x)*(1-f) + float64(y)*f)) }
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

func drawLegend(img *image.RGBA, top int, lo, hi float64, title string) {
	w := img.Bounds().Dx()
	barX0, barX1 := 10, w-10
	barY0, barY1 := top+8, top+22
	if barX1 <= barX0 {
		barX1 = barX0 + 1
	}
	for x := barX0; x < barX1; x++ {
		c := ramp(float64(x-barX0) / float64(barX1-barX0))
		for y := barY0; y < barY1 && y < img.Bounds().Dy(); y++ {
			img.SetRGBA(x, y, c)
		}
	}

	face := basicfont.Face7x13
	textColor := color.RGBA{220, 220, 220, 255}
	drawText(img, face, fmt.Sprintf("%.1f K", lo), barX0, barY1+14, textColor)
	hiLabel := fmt.Sprintf("%.1f K", hi)
	drawText(img, face, hiLabel, barX1-font.MeasureString(face, hiLabel).Round(), barY1+14, textColor)
	if title != "" {
		drawCenteredText(img, face, title, w/2, barY1+30, textColor)
	}
}

// drawText draws a string at (x, y) using the given font face.
func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// drawCenteredText draws a string centered at (cx, cy).
func drawCenteredText(img *image.RGBA, face font.Face, s string, cx, cy int, c color.RGBA) {
	advance := font.MeasureString(face, s)
	drawText(img, face, s, cx-advance.Round()/2, cy, c)
}

// Encode writes img as PNG, or JPEG when format is "jpeg" or "jpg".
func Encode(w io.Writer, img image.Image, format string) error {
	switch strings.ToLower(format) {
	case "", "png":
		return png.Encode(w, img)
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	default:
		return errors.Errorf("unsupported quicklook format %q", format)
	}
}

// RenderBytes renders b and returns the encoded image.
func RenderBytes(b raster.Band, grid raster.Grid, opts Options, format string) ([]byte, error) {
	img, err := Render(b, grid, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile renders b to path, choosing the encoding from the extension.
func WriteFile(path string, b raster.Band, grid raster.Grid, opts Options) error {
	img, err := Render(b, grid, opts)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create quicklook file")
	}
	defer f.Close()
	if err := Encode(f, img, strings.TrimPrefix(filepath.Ext(path), ".")); err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return f.Close()
}
