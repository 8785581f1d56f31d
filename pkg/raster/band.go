package raster

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// ErrMissingBand is returned when a named band is not present in an image.
var ErrMissingBand = errors.New("missing band")

// Band is a named row-major raster plane. NaN marks masked pixels.
type Band struct {
	Name string
	Data []float64
}

// NewBand allocates a band of n pixels, all masked.
func NewBand(name string, n int) Band {
	data := make([]float64, n)
	for i := range data {
		data[i] = math.NaN()
	}
	return Band{Name: name, Data: data}
}

// Renamed returns the same pixels under a new name.
func (b Band) Renamed(name string) Band { return Band{Name: name, Data: b.Data} }

// Copy returns the pixels in a new slice under a new name.
func (b Band) Copy(name string) Band {
	return Band{Name: name, Data: append([]float64(nil), b.Data...)}
}

// Map applies fn to every valid pixel. Masked pixels stay masked.
func (b Band) Map(name string, fn func(float64) float64) Band {
	out := make([]float64, len(b.Data))
	for i, v := range b.Data {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(v)
	}
	return Band{Name: name, Data: out}
}

// ValidCount returns the number of unmasked pixels.
func (b Band) ValidCount() int {
	n := 0
	for _, v := range b.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Metadata carries scene-level properties through the pipeline.
type Metadata struct {
	SceneID    string
	Satellite  string
	TimeStart  time.Time
	Properties map[string]string
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	out.Properties = make(map[string]string, len(m.Properties))
	for k, v := range m.Properties {
		out.Properties[k] = v
	}
	return out
}

// With returns a copy with one property set.
func (m Metadata) With(key, value string) Metadata {
	out := m.Clone()
	out.Properties[key] = value
	return out
}

// PropertyKeys returns the property names in sorted order.
func (m Metadata) PropertyKeys() []string {
	keys := make([]string, 0, len(m.Properties))
	for k := range m.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Image is an ordered set of bands sharing one grid.
type Image struct {
	Grid     Grid
	Bands    []Band
	Metadata Metadata
}

// NewImage validates band sizes and names against the grid.
func NewImage(grid Grid, md Metadata, bands ...Band) (*Image, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(bands))
	for _, b := range bands {
		if b.Name == "" {
			return nil, errors.New("band without name")
		}
		if seen[b.Name] {
			return nil, errors.Errorf("duplicate band %q", b.Name)
		}
		seen[b.Name] = true
		if len(b.Data) != grid.Len() {
			return nil, errors.Errorf("band %q has %d pixels, grid has %d", b.Name, len(b.Data), grid.Len())
		}
	}
	if md.Properties == nil {
		md.Properties = map[string]string{}
	}
	return &Image{Grid: grid, Bands: bands, Metadata: md}, nil
}

// Band looks up a band by name.
func (img *Image) Band(name string) (Band, bool) {
	for _, b := range img.Bands {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}

// BandNames returns the band names in order.
func (img *Image) BandNames() []string {
	names := make([]string, len(img.Bands))
	for i, b := range img.Bands {
		names[i] = b.Name
	}
	return names
}

// Select returns the named bands in the order requested.
func (img *Image) Select(names ...string) ([]Band, error) {
	out := make([]Band, len(names))
	for i, name := range names {
		b, ok := img.Band(name)
		if !ok {
			return nil, errors.Wrapf(ErrMissingBand, "%q", name)
		}
		out[i] = b
	}
	return out, nil
}
