package main

import (
	"bytes"
	"flag"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "gopkg.in/urfave/cli.v1"

	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sharpen"
)

const testSensors = `[{"satellite": "TESTSAT", "tir_res": 40, "ec_window": 80}]`

func testContext(t *testing.T, flags []cli.Flag, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(nil, set, nil)
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })
	return &buf
}

func writeSensors(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sensors.json")
	require.NoError(t, os.WriteFile(path, []byte(testSensors), 0o644))
	return path
}

// writeScene writes a 32x32 FITS scene whose predictors are uniform in 4x4
// pixel blocks.
func writeScene(t *testing.T, dir, name string) string {
	t.Helper()
	grid := raster.Grid{CRS: "EPSG:32611", Transform: raster.Affine{10, 0, 500000, 0, -10, 4200000}, Width: 32, Height: 32}
	rng := rand.New(rand.NewSource(3))
	blocks := make([][6]float64, 64)
	for i := range blocks {
		for k := range blocks[i] {
			blocks[i][k] = 0.05 + 0.4*rng.Float64()
		}
	}
	block := func(i int) [6]float64 { return blocks[(i/32/4)*8+(i%32)/4] }

	var bands []raster.Band
	for k, n := range sharpen.PredictorBands {
		b := raster.NewBand(n, grid.Len())
		for i := range b.Data {
			b.Data[i] = block(i)[k]
		}
		bands = append(bands, b)
	}
	lst := raster.NewBand(sharpen.ThermalBand, grid.Len())
	for i := range lst.Data {
		x := block(i)
		lst.Data[i] = 290 + 20*x[3] - 10*x[4]
	}
	bands = append(bands, lst)

	img, err := raster.NewImage(grid, raster.Metadata{SceneID: name, Satellite: "TESTSAT"}, bands...)
	require.NoError(t, err)
	path := filepath.Join(dir, name+".fits")
	require.NoError(t, raster.WriteFitsFile(path, img, raster.EncodingFloat32))
	return path
}

func TestParamsFromFlagDefaults(t *testing.T) {
	p, err := paramsFromContext(testContext(t, sceneFlags))
	require.NoError(t, err)
	want := sharpen.NewParams()
	assert.Equal(t, want.KernelRadius, p.KernelRadius)
	assert.Equal(t, want.CVThreshold, p.CVThreshold)
	assert.Equal(t, want.SampleRate, p.SampleRate)
	assert.True(t, p.EnergyConservation)
	assert.False(t, p.Diagnostics)
}

func TestParamsFromFlags(t *testing.T) {
	c := testContext(t, sceneFlags,
		"--radius", "3", "--cv", "0.2", "--sample-rate", "0.5", "--min-samples", "4",
		"--seed", "7", "--workers", "2", "--no-ec", "--diagnostics")
	p, err := paramsFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, 3, p.KernelRadius)
	assert.Equal(t, 0.2, p.CVThreshold)
	assert.Equal(t, 0.5, p.SampleRate)
	assert.Equal(t, 4, p.MinTrainingSamples)
	assert.Equal(t, int64(7), p.Seed)
	assert.Equal(t, 2, p.Workers)
	assert.False(t, p.EnergyConservation)
	assert.True(t, p.Diagnostics)

	_, err = paramsFromContext(testContext(t, sceneFlags, "--sample-rate", "1.5"))
	assert.Error(t, err)
}

func TestConfigFromFlags(t *testing.T) {
	dir := t.TempDir()
	c := testContext(t, sceneFlags,
		"--sensors", writeSensors(t, dir), "--encoding", "int16", "-o", dir,
		"--quicklook-format", "jpeg", "--quicklook-width", "300")
	cfg, err := configFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, raster.EncodingFixedPoint, cfg.Encoding)
	assert.Equal(t, dir, cfg.OutputDir)
	assert.Equal(t, 300, cfg.QuicklookOptions.Width)
	_, err = cfg.Sensors.Lookup("testsat")
	assert.NoError(t, err)

	_, err = configFromContext(testContext(t, sceneFlags, "--quicklook-format", "gif"))
	assert.Error(t, err)
	_, err = configFromContext(testContext(t, sceneFlags, "--encoding", "int8"))
	assert.Error(t, err)
	_, err = configFromContext(testContext(t, sceneFlags, "--sensors", filepath.Join(dir, "missing.json")))
	assert.Error(t, err)
}

func TestCollectInputs(t *testing.T) {
	dir := t.TempDir()
	a := writeScene(t, dir, "a")
	b := writeScene(t, dir, "b")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_lst_sharpened.fits"), []byte("x"), 0o644))

	got, err := collectInputs([]string{dir, a})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, a}, got)

	_, err = collectInputs([]string{filepath.Join(dir, "nope")})
	assert.Error(t, err)
}

func TestSharpenCommand(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	scene := writeScene(t, in, "scene_a")
	textfile := filepath.Join(out, "metrics.prom")
	buf := captureStdout(t)

	err := createCliApp().Run([]string{"tirsharpen", "sharpen",
		"--sensors", writeSensors(t, in), "--radius", "2", "--sample-rate", "1",
		"-o", out, "--quicklook", "--metrics-textfile", textfile, scene})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, "scene_a_lst_sharpened.fits"))
	assert.FileExists(t, filepath.Join(out, "scene_a_lst_sharpened.png"))
	assert.FileExists(t, filepath.Join(out, "scene_a_lst_sharpened.json"))
	assert.Contains(t, buf.String(), "Training samples:  64")

	prom, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `tirsharpen_scenes_total{outcome="ok",satellite="TESTSAT"} 1`)
}

func TestSharpenCommandNeedsOneScene(t *testing.T) {
	captureStdout(t)
	err := createCliApp().Run([]string{"tirsharpen", "sharpen"})
	assert.Error(t, err)
}

func TestBatchCommandReportsFailures(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeScene(t, in, "good")
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.fits"), []byte("not a fits file"), 0o644))
	buf := captureStdout(t)

	err := createCliApp().Run([]string{"tirsharpen", "batch",
		"--sensors", writeSensors(t, in), "--radius", "2", "--sample-rate", "1", "-o", out, in})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 scenes failed")
	assert.Contains(t, buf.String(), "FAIL "+filepath.Join(in, "broken.fits"))
	assert.FileExists(t, filepath.Join(out, "good_lst_sharpened.fits"))
}

func TestProfilesCommand(t *testing.T) {
	buf := captureStdout(t)
	require.NoError(t, createCliApp().Run([]string{"tirsharpen", "profiles"}))
	assert.Contains(t, buf.String(), "LANDSAT_8")
	assert.Contains(t, buf.String(), "LANDSAT_7")

	dir := t.TempDir()
	buf.Reset()
	require.NoError(t, createCliApp().Run([]string{"tirsharpen", "profiles", "--sensors", writeSensors(t, dir)}))
	assert.Contains(t, buf.String(), "TESTSAT")
	assert.NotContains(t, buf.String(), "LANDSAT_8")
}

func TestInspectCommand(t *testing.T) {
	scene := writeScene(t, t.TempDir(), "scene_b")
	buf := captureStdout(t)
	require.NoError(t, createCliApp().Run([]string{"tirsharpen", "inspect", scene}))
	out := buf.String()
	assert.Contains(t, out, "BITPIX")
	assert.Contains(t, out, "Scene:     scene_b")
	for _, name := range append(append([]string{}, sharpen.PredictorBands...), sharpen.ThermalBand) {
		assert.Contains(t, out, name)
	}
}

func TestVersionCommand(t *testing.T) {
	buf := captureStdout(t)
	require.NoError(t, createCliApp().Run([]string{"tirsharpen", "version"}))
	assert.Equal(t, version+"\n", buf.String())
}
