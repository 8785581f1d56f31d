// Package sensor holds the per-satellite thermal geometry used by the
// sharpener: native thermal footprint and energy-conservation window.
package sensor

import (
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownSensor is returned for a satellite missing from the table.
var ErrUnknownSensor = errors.New("unknown sensor")

// Profile is the thermal geometry of one satellite, in CRS units.
type Profile struct {
	Satellite     string  `json:"satellite"`
	TIRResolution float64 `json:"tir_res"`
	ECWindow      float64 `json:"ec_window"`
}

// Validate checks that both sizes are positive and the energy-conservation
// window is no finer than the thermal footprint.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Satellite) == "" {
		return errors.New("profile without satellite")
	}
	if !(p.TIRResolution > 0) {
		return errors.Errorf("%s: tir_res must be positive, got %v", p.Satellite, p.TIRResolution)
	}
	if !(p.ECWindow > 0) {
		return errors.Errorf("%s: ec_window must be positive, got %v", p.Satellite, p.ECWindow)
	}
	if p.ECWindow < p.TIRResolution {
		return errors.Errorf("%s: ec_window %v is finer than tir_res %v", p.Satellite, p.ECWindow, p.TIRResolution)
	}
	return nil
}

// Table is an immutable lookup of profiles keyed by upper-case satellite.
type Table struct {
	profiles map[string]Profile
}

// NewTable validates the profiles and rejects duplicate satellites.
func NewTable(profiles ...Profile) (*Table, error) {
	t := &Table{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		key := normalize(p.Satellite)
		if _, dup := t.profiles[key]; dup {
			return nil, errors.Errorf("duplicate profile for %s", key)
		}
		p.Satellite = key
		t.profiles[key] = p
	}
	return t, nil
}

// DefaultTable returns the Landsat thermal geometry.
func DefaultTable() *Table {
	t, err := NewTable(
		Profile{Satellite: "LANDSAT_4", TIRResolution: 120, ECWindow: 120},
		Profile{Satellite: "LANDSAT_5", TIRResolution: 120, ECWindow: 120},
		Profile{Satellite: "LANDSAT_7", TIRResolution: 60, ECWindow: 90},
		Profile{Satellite: "LANDSAT_8", TIRResolution: 100, ECWindow: 120},
		Profile{Satellite: "LANDSAT_9", TIRResolution: 100, ECWindow: 120},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable reads a JSON array of profiles.
func LoadTable(r io.Reader) (*Table, error) {
	var profiles []Profile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&profiles); err != nil {
		return nil, errors.Wrap(err, "decoding sensor table")
	}
	if len(profiles) == 0 {
		return nil, errors.New("sensor table is empty")
	}
	return NewTable(profiles...)
}

// Lookup returns the profile for a satellite identifier.
func (t *Table) Lookup(satellite string) (Profile, error) {
	p, ok := t.profiles[normalize(satellite)]
	if !ok {
		return Profile{}, errors.Wrapf(ErrUnknownSensor, "%q", satellite)
	}
	return p, nil
}

// Profiles lists the table sorted by satellite.
func (t *Table) Profiles() []Profile {
	out := make([]Profile, 0, len(t.profiles))
	for _, p := range t.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Satellite < out[j].Satellite })
	return out
}

func normalize(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
