package raster

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Manifest describes a scene stored as one image file per band.
type Manifest struct {
	SceneID    string            `json:"scene_id"`
	Satellite  string            `json:"satellite"`
	TimeStart  time.Time         `json:"time_start"`
	Collection string            `json:"collection,omitempty"`
	CRS        string            `json:"crs"`
	Transform  [6]float64        `json:"transform"`
	NoData     *float64          `json:"nodata,omitempty"`
	Bands      []ManifestBand    `json:"bands"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ManifestBand names one band file. Relative paths resolve against the
// manifest's directory.
type ManifestBand struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	NoData *float64 `json:"nodata,omitempty"`
}

// DecodeManifest parses and validates a manifest.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	if len(m.Bands) == 0 {
		return nil, errors.New("manifest lists no bands")
	}
	if m.Transform == [6]float64{} {
		return nil, errors.New("manifest has no transform")
	}
	return &m, nil
}

// LoadManifest reads the manifest at path and decodes every band file.
func LoadManifest(path string) (*Manifest, *Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening manifest")
	}
	defer f.Close()
	m, err := DecodeManifest(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, path)
	}
	img, err := m.Load(filepath.Dir(path))
	if err != nil {
		return nil, nil, err
	}
	return m, img, nil
}

// Load decodes the band files, resolving relative paths against dir, and
// masks nodata values.
func (m *Manifest) Load(dir string) (*Image, error) {
	var width, height int
	bands := make([]Band, 0, len(m.Bands))
	for _, mb := range m.Bands {
		p := mb.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		data, w, h, err := DecodeBandFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "band %q", mb.Name)
		}
		if width == 0 {
			width, height = w, h
		} else if w != width || h != height {
			return nil, errors.Errorf("band %q is %dx%d, expected %dx%d", mb.Name, w, h, width, height)
		}
		nodata := m.NoData
		if mb.NoData != nil {
			nodata = mb.NoData
		}
		if nodata != nil {
			for i, v := range data {
				if v == *nodata {
					data[i] = math.NaN()
				}
			}
		}
		bands = append(bands, Band{Name: mb.Name, Data: data})
	}
	grid := Grid{CRS: m.CRS, Transform: Affine(m.Transform), Width: width, Height: height}
	md := Metadata{SceneID: m.SceneID, Satellite: m.Satellite, TimeStart: m.TimeStart, Properties: map[string]string{}}
	for k, v := range m.Properties {
		md.Properties[k] = v
	}
	return NewImage(grid, md, bands...)
}
