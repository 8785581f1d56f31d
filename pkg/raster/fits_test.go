package raster

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleImage(t *testing.T) *Image {
	t.Helper()
	grid := utmGrid(30, 3, 2)
	md := Metadata{
		SceneID:    "LANDSAT/LC08/C02/T1_L2/LC08_044033_20170716",
		Satellite:  "LANDSAT_8",
		TimeStart:  time.Date(2017, 7, 16, 18, 41, 0, 0, time.UTC),
		Properties: map[string]string{"energy_conservation": "true", "cloud_cover": "12.5", "note": "it's"},
	}
	img, err := NewImage(grid, md,
		Band{Name: "lst_sharpened", Data: []float64{300.3, 301.5, math.NaN(), 299, 310.75, 288.1}},
		Band{Name: "local_weights", Data: []float64{0.5, 1, 0, 0.25, math.NaN(), 0.75}},
	)
	require.NoError(t, err)
	return img
}

func TestFitsRoundTripFloat32(t *testing.T) {
	img := sampleImage(t)
	var buf bytes.Buffer
	require.NoError(t, WriteFits(&buf, img, EncodingFloat32))
	assert.Zero(t, buf.Len()%fitsBlockSize)

	got, err := ReadFitsFromBytes(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, img.Grid, got.Grid)
	assert.Equal(t, []string{"lst_sharpened", "local_weights"}, got.BandNames())
	assert.Equal(t, img.Metadata.SceneID, got.Metadata.SceneID)
	assert.Equal(t, "LANDSAT_8", got.Metadata.Satellite)
	assert.True(t, img.Metadata.TimeStart.Equal(got.Metadata.TimeStart))
	assert.Equal(t, img.Metadata.Properties, got.Metadata.Properties)

	for bi, b := range img.Bands {
		for i, v := range b.Data {
			g := got.Bands[bi].Data[i]
			if math.IsNaN(v) {
				assert.True(t, math.IsNaN(g))
				continue
			}
			assert.InDelta(t, v, g, 1e-4)
		}
	}
}

func TestFitsFixedPointEncoding(t *testing.T) {
	img := sampleImage(t)
	var buf bytes.Buffer
	require.NoError(t, WriteFits(&buf, img, EncodingFixedPoint))

	got, err := ReadFitsFromBytes(buf.Bytes())
	require.NoError(t, err)
	lst, ok := got.Band("lst_sharpened")
	require.True(t, ok)

	assert.InDelta(t, 300.3, lst.Data[0], 1e-9)
	assert.InDelta(t, 301.5, lst.Data[1], 1e-9)
	assert.True(t, math.IsNaN(lst.Data[2]))
	assert.InDelta(t, 288.1, lst.Data[5], 1e-9)
}

func TestParseFitsValue(t *testing.T) {
	hdr := NewFitsHeader()
	v, ok := parseFitsValue("'a/b''c'   / comment")
	require.True(t, ok)
	assert.Equal(t, "a/b'c", v)

	v, ok = parseFitsValue("                 -32 / bits")
	require.True(t, ok)
	assert.Equal(t, "-32", v)

	hdr.set("xform1", "3.0E+01")
	d, ok := hdr.GetDouble("XFORM1")
	require.True(t, ok)
	assert.Equal(t, 30.0, d)
}

func TestReadFitsRejectsUnsupportedBitpix(t *testing.T) {
	var buf bytes.Buffer
	hw := &headerWriter{w: &buf}
	hw.boolCard("SIMPLE", true)
	hw.intCard("BITPIX", 24)
	hw.intCard("NAXIS", 2)
	hw.intCard("NAXIS1", 2)
	hw.intCard("NAXIS2", 2)
	hw.card("END")
	hw.pad(' ')
	buf.Write(make([]byte, fitsBlockSize))

	_, err := ReadFitsFromBytes(buf.Bytes())
	assert.Error(t, err)
}

func TestReadFitsRejectsOversizedDataUnit(t *testing.T) {
	header := func(w, h, planes int64) []byte {
		var buf bytes.Buffer
		hw := &headerWriter{w: &buf}
		hw.boolCard("SIMPLE", true)
		hw.intCard("BITPIX", -64)
		hw.intCard("NAXIS", 3)
		hw.intCard("NAXIS1", w)
		hw.intCard("NAXIS2", h)
		hw.intCard("NAXIS3", planes)
		hw.card("END")
		hw.pad(' ')
		return buf.Bytes()
	}

	cases := map[string][]byte{
		"truncated": append(header(2, 2, 1), make([]byte, 8)...),
		"huge":      header(1000000000, 1000000000, 1),
		"overflow":  header(1<<40, 1<<40, 1),
		"planes":    header(1<<30, 1<<30, 1<<30),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadFitsFromBytes(data)
			assert.Error(t, err)
		})
	}

	ok := append(header(2, 2, 1), make([]byte, fitsBlockSize)...)
	img, err := ReadFitsFromBytes(ok)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Grid.Len())
}
