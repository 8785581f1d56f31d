package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tirsharpen/internal/logging"
	"tirsharpen/internal/observability"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
	"tirsharpen/pkg/sharpen"
)

func testGrid(w, h int) raster.Grid {
	return raster.Grid{CRS: "EPSG:32611", Transform: raster.Affine{10, 0, 500000, 0, -10, 4200000}, Width: w, Height: h}
}

// writeScene writes a FITS scene with predictors uniform in 4x4 blocks.
func writeScene(t *testing.T, dir, name, satellite string) string {
	t.Helper()
	grid := testGrid(32, 32)
	rng := rand.New(rand.NewSource(1))
	bands := make([]raster.Band, 0, 7)
	blocks := make([][]float64, 64)
	for i := range blocks {
		blocks[i] = make([]float64, 6)
		for k := range blocks[i] {
			blocks[i][k] = 0.05 + 0.4*rng.Float64()
		}
	}
	for k, n := range sharpen.PredictorBands {
		b := raster.NewBand(n, grid.Len())
		for i := range b.Data {
			r, c := i/32, i%32
			b.Data[i] = blocks[(r/4)*8+c/4][k]
		}
		bands = append(bands, b)
	}
	lst := raster.NewBand(sharpen.ThermalBand, grid.Len())
	for i := range lst.Data {
		r, c := i/32, i%32
		x := blocks[(r/4)*8+c/4]
		lst.Data[i] = 290 + 20*x[3] - 10*x[4]
	}
	bands = append(bands, lst)

	img, err := raster.NewImage(grid, raster.Metadata{SceneID: name, Satellite: satellite}, bands...)
	require.NoError(t, err)
	path := filepath.Join(dir, name+".fits")
	require.NoError(t, raster.WriteFitsFile(path, img, raster.EncodingFloat32))
	return path
}

func testRunner(t *testing.T, out string, quick bool) (*Runner, *observability.Collector) {
	t.Helper()
	sensors, err := sensor.NewTable(sensor.Profile{Satellite: "TESTSAT", TIRResolution: 40, ECWindow: 80})
	require.NoError(t, err)
	p := sharpen.NewParams()
	p.KernelRadius = 2
	p.SampleRate = 1
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	r, err := NewRunner(Config{
		Params:    p,
		Sensors:   sensors,
		OutputDir: out,
		Quicklook: quick,
	}, logging.Noop(), metrics)
	require.NoError(t, err)
	return r, metrics
}

func TestRunWritesProducts(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	path := writeScene(t, in, "scene_a", "TESTSAT")
	r, metrics := testRunner(t, out, true)

	res, err := r.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "scene_a_lst_sharpened.fits"), res.FITS)
	assert.FileExists(t, res.FITS)
	assert.FileExists(t, res.Quicklook)
	assert.FileExists(t, res.Sidecar)

	img, err := raster.ReadFits(res.FITS)
	require.NoError(t, err)
	assert.Equal(t, []string{sharpen.OutputBand}, img.BandNames())
	assert.Equal(t, "true", img.Metadata.Properties["energy_conservation"])

	data, err := os.ReadFile(res.Sidecar)
	require.NoError(t, err)
	var sc sidecar
	require.NoError(t, json.Unmarshal(data, &sc))
	assert.Equal(t, "scene_a", sc.SceneID)
	assert.Equal(t, "float32", sc.Encoding)
	assert.NotEmpty(t, sc.RunID)
	assert.Empty(t, sc.BatchID)
	assert.Equal(t, 64, sc.Stats.TrainingSamples)
	require.NotNil(t, sc.Stats.Temperature)
	assert.InDelta(t, 295, sc.Stats.Temperature.Mean, 10)
	assert.Contains(t, sc.Stats.StageSeconds, sharpen.StageEnergy)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Scenes.WithLabelValues("TESTSAT", observability.OutcomeOK)))
	assert.Equal(t, 64.0, testutil.ToFloat64(metrics.TrainingSamples))
}

func TestRunBatchContinuesAfterFailure(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	good := writeScene(t, in, "good", "TESTSAT")
	bad := writeScene(t, in, "bad", "LANDSAT_8")
	r, metrics := testRunner(t, out, false)

	outputs, err := r.RunBatch(context.Background(), []string{bad, good})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 scenes failed")
	require.Len(t, outputs, 2)
	assert.True(t, errors.Is(outputs[0].Err, sharpen.ErrUnknownSensor))
	assert.NoError(t, outputs[1].Err)
	assert.Empty(t, outputs[1].Quicklook)

	data, err := os.ReadFile(outputs[1].Sidecar)
	require.NoError(t, err)
	var sc sidecar
	require.NoError(t, json.Unmarshal(data, &sc))
	assert.NotEmpty(t, sc.BatchID)
	assert.NotEqual(t, sc.BatchID, sc.RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Scenes.WithLabelValues("LANDSAT_8", observability.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Scenes.WithLabelValues("TESTSAT", observability.OutcomeOK)))
}

func TestDiscoverScenes(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.fits", "a.json", "notes.txt", "a_lst_sharpened.fits", "a_lst_sharpened.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.fits"), 0o755))

	got, err := DiscoverScenes(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.fits")}, got)
}

func TestOutputStem(t *testing.T) {
	assert.Equal(t, "LC08_044033_20170716", outputStem("LANDSAT/LC08/C02/T1_L2/LC08_044033_20170716", "x.fits"))
	assert.Equal(t, "input", outputStem("", "/data/input.fits"))
	assert.Equal(t, "a_b", outputStem("a b", ""))
	assert.Equal(t, "scene", outputStem("", "/"))
}

func writeGray16(t *testing.T, path string, w, h int, fn func(x, y int) uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: fn(x, y)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLoadSceneFromLandsatManifest(t *testing.T) {
	dir := t.TempDir()
	src := []string{"SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7", "ST_B10"}
	var bands []string
	for k, name := range src {
		file := name + ".png"
		writeGray16(t, filepath.Join(dir, file), 4, 3, func(x, y int) uint16 {
			if x == 0 && y == 0 {
				return 0
			}
			return uint16(10000 + 1000*k + x)
		})
		bands = append(bands, fmt.Sprintf(`{"name": %q, "path": %q}`, name, file))
	}
	manifest := fmt.Sprintf(`{
  "scene_id": "LANDSAT/LC08/C02/T1_L2/LC08_044033_20170716",
  "satellite": "landsat_8",
  "collection": "LANDSAT/LC08/C02/T1_L2",
  "crs": "EPSG:32610",
  "transform": [30, 0, 600000, 0, -30, 4200000],
  "nodata": 0,
  "bands": [%s]
}`, strings.Join(bands, ", "))
	path := filepath.Join(dir, "scene.json")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	img, err := LoadScene(path, "")
	require.NoError(t, err)
	assert.Equal(t, append(append([]string{}, sharpen.PredictorBands...), sharpen.ThermalBand), img.BandNames())
	assert.Equal(t, "LANDSAT_8", img.Metadata.Satellite)
	assert.Equal(t, 4, img.Grid.Width)

	blue, _ := img.Band("blue")
	assert.True(t, math.IsNaN(blue.Data[0]))
	assert.InDelta(t, 10001*0.0000275-0.2, blue.Data[1], 1e-12)
	lst, _ := img.Band(sharpen.ThermalBand)
	assert.InDelta(t, 16001*0.00341802+149, lst.Data[1], 1e-9)
}

func TestLoadSceneRejectsUnknownInputs(t *testing.T) {
	_, err := LoadScene("scene.tif", "")
	assert.Error(t, err)

	dir := t.TempDir()
	grid := testGrid(2, 2)
	img, err := raster.NewImage(grid, raster.Metadata{SceneID: "plain"}, raster.NewBand("B1", 4))
	require.NoError(t, err)
	path := filepath.Join(dir, "plain.fits")
	require.NoError(t, raster.WriteFitsFile(path, img, raster.EncodingFloat32))
	_, err = LoadScene(path, "")
	assert.Error(t, err)
}
