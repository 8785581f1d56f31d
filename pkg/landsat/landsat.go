// Package landsat turns Landsat collection products into the band layout
// expected by the sharpener: scaled reflectance in blue, green, red, nir,
// swir1, swir2 and surface temperature in lst.
package landsat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tirsharpen/pkg/raster"
)

// Collection identifies a Landsat product family.
type Collection int

const (
	Unknown Collection = iota
	C02L2
	C01SR
	C01TOA
)

func (c Collection) String() string {
	switch c {
	case C02L2:
		return "C02/T1_L2"
	case C01SR:
		return "C01/T1_SR"
	case C01TOA:
		return "C01/T1_TOA"
	}
	return "unknown"
}

var collectionPatterns = []struct {
	re *regexp.Regexp
	c  Collection
}{
	{regexp.MustCompile(`LANDSAT/L[TEC]0[45789]/C02/T1_L2`), C02L2},
	{regexp.MustCompile(`LANDSAT/L[TEC]0[45789]/C01/T1_SR`), C01SR},
	{regexp.MustCompile(`LANDSAT/L[TEC]0[45789]/C01/T1_TOA`), C01TOA},
}

// OutputBands is the band order produced by Prepare.
var OutputBands = []string{"blue", "green", "red", "nir", "swir1", "swir2", "lst"}

// DetectCollection matches a collection or image ID against the supported
// product families.
func DetectCollection(id string) (Collection, error) {
	for _, p := range collectionPatterns {
		if p.re.MatchString(id) {
			return p.c, nil
		}
	}
	return Unknown, errors.Errorf("unsupported collection %q", id)
}

// bandMap returns the source bands, in OutputBands order, for a spacecraft.
func bandMap(c Collection, spacecraft string) ([]string, error) {
	older := []string{"B1", "B2", "B3", "B4", "B5", "B7"}
	newer := []string{"B2", "B3", "B4", "B5", "B6", "B7"}
	var refl []string
	var thermal string
	switch spacecraft {
	case "LANDSAT_4", "LANDSAT_5", "LANDSAT_7":
		refl, thermal = older, "B6"
		if c == C01TOA && spacecraft == "LANDSAT_7" {
			thermal = "B6_VCID_1"
		}
	case "LANDSAT_8", "LANDSAT_9":
		refl, thermal = newer, "B10"
	default:
		return nil, errors.Errorf("unsupported spacecraft %q", spacecraft)
	}
	out := make([]string, 0, len(OutputBands))
	for _, b := range refl {
		if c == C02L2 {
			b = "SR_" + b
		}
		out = append(out, b)
	}
	if c == C02L2 {
		thermal = "ST_" + thermal
	}
	return append(out, thermal), nil
}

// scaling returns the multiplicative and additive factors applied to the
// reflectance and thermal digital numbers.
func scaling(c Collection) (reflScale, reflOffset, tirScale, tirOffset float64) {
	switch c {
	case C02L2:
		return 0.0000275, -0.2, 0.00341802, 149.0
	case C01SR:
		return 0.0001, 0, 0.1, 0
	}
	return 1, 0, 1, 0
}

// Prepare selects, renames and scales the collection bands of img. The
// spacecraft is read from img.Metadata.Satellite.
func Prepare(img *raster.Image, c Collection) (*raster.Image, error) {
	spacecraft := strings.ToUpper(img.Metadata.Satellite)
	src, err := bandMap(c, spacecraft)
	if err != nil {
		return nil, err
	}
	bands, err := img.Select(src...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", spacecraft, c)
	}
	rs, ro, ts, to := scaling(c)
	out := make([]raster.Band, len(bands))
	for i, b := range bands {
		scale, offset := rs, ro
		if i == len(bands)-1 {
			scale, offset = ts, to
		}
		out[i] = b.Map(OutputBands[i], func(v float64) float64 { return v*scale + offset })
	}
	md := img.Metadata.With("collection", c.String())
	md.Satellite = spacecraft
	return raster.NewImage(img.Grid, md, out...)
}

// SceneID is the parsed form of a Landsat image ID such as
// LANDSAT/LC08/C02/T1_L2/LC08_044033_20170716.
type SceneID struct {
	Collection Collection
	Spacecraft string
	Path       int
	Row        int
	Date       time.Time
	Index      string
}

var indexPattern = regexp.MustCompile(`^L[TEC]0([45789])_(\d{3})(\d{3})_(\d{8})$`)

// ParseImageID splits an image ID into collection, spacecraft, WRS-2
// path/row and acquisition date.
func ParseImageID(id string) (SceneID, error) {
	c, err := DetectCollection(id)
	if err != nil {
		return SceneID{}, err
	}
	index := id[strings.LastIndex(id, "/")+1:]
	m := indexPattern.FindStringSubmatch(index)
	if m == nil {
		return SceneID{}, errors.Errorf("malformed scene index %q", index)
	}
	path, _ := strconv.Atoi(m[2])
	row, _ := strconv.Atoi(m[3])
	date, err := time.Parse("20060102", m[4])
	if err != nil {
		return SceneID{}, errors.Wrapf(err, "scene date in %q", index)
	}
	return SceneID{
		Collection: c,
		Spacecraft: fmt.Sprintf("LANDSAT_%s", m[1]),
		Path:       path,
		Row:        row,
		Date:       date,
		Index:      index,
	}, nil
}
