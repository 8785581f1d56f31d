// Package pipeline drives scenes from disk through the sharpener and writes
// the products: a FITS cube, an optional quicklook and a JSON sidecar.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tirsharpen/internal/logging"
	"tirsharpen/internal/observability"
	"tirsharpen/pkg/landsat"
	"tirsharpen/pkg/quicklook"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
	"tirsharpen/pkg/sharpen"
)

// Config controls a Runner.
type Config struct {
	Params    *sharpen.Params
	Sensors   *sensor.Table
	Encoding  raster.Encoding
	OutputDir string
	// Collection forces the Landsat product family of raw inputs. Empty
	// detects it from the scene.
	Collection string
	Quicklook  bool
	// QuicklookFormat is "png" or "jpeg".
	QuicklookFormat  string
	QuicklookOptions quicklook.Options
}

// Output lists the products of one scene.
type Output struct {
	Input     string        `json:"input"`
	SceneID   string        `json:"scene_id"`
	Satellite string        `json:"satellite"`
	FITS      string        `json:"fits,omitempty"`
	Quicklook string        `json:"quicklook,omitempty"`
	Sidecar   string        `json:"sidecar,omitempty"`
	Stats     sharpen.Stats `json:"-"`
	Err       error         `json:"-"`
}

// Runner processes scenes one after another.
type Runner struct {
	cfg       Config
	sharpener *sharpen.Sharpener
	metrics   *observability.Collector
	log       logging.Logger
	tracer    trace.Tracer
}

// NewRunner builds the sharpener for cfg. metrics may be nil.
func NewRunner(cfg Config, log logging.Logger, metrics *observability.Collector) (*Runner, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Encoding.BitPix == 0 {
		cfg.Encoding = raster.EncodingFloat32
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.QuicklookFormat == "" {
		cfg.QuicklookFormat = "png"
	}
	if cfg.QuicklookOptions.Width == 0 {
		cfg.QuicklookOptions = quicklook.DefaultOptions()
	}
	opts := []sharpen.Option{sharpen.WithLogger(log)}
	if metrics != nil {
		opts = append(opts, sharpen.WithRecorder(metrics))
	}
	s, err := sharpen.New(cfg.Params, cfg.Sensors, opts...)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		sharpener: s,
		metrics:   metrics,
		log:       log,
		tracer:    otel.Tracer("tirsharpen/internal/pipeline"),
	}, nil
}

// LoadScene reads a FITS cube or a JSON band manifest. Scenes that do not yet
// carry the sharpener's band layout are prepared as Landsat products, using
// collection when set or the collection recorded with the scene.
func LoadScene(path, collection string) (*raster.Image, error) {
	var img *raster.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		var err error
		if img, err = raster.ReadFits(path); err != nil {
			return nil, errors.Wrap(err, path)
		}
	case ".json":
		m, loaded, err := raster.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		img = loaded
		if collection == "" {
			collection = m.Collection
		}
	default:
		return nil, errors.Errorf("%s: unsupported scene format", path)
	}
	if _, ok := img.Band(sharpen.ThermalBand); ok {
		return img, nil
	}

	if collection == "" {
		collection = img.Metadata.Properties["collection"]
	}
	if collection == "" {
		collection = img.Metadata.SceneID
	}
	c, err := landsat.DetectCollection(collection)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: scene has no %q band", path, sharpen.ThermalBand)
	}
	prepared, err := landsat.Prepare(img, c)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return prepared, nil
}

// Run sharpens the scene at path and writes its products.
func (r *Runner) Run(ctx context.Context, path string) (*Output, error) {
	ctx, log := logging.ForScene(ctx, r.log, path)
	ctx, span := r.tracer.Start(ctx, "pipeline.scene", trace.WithAttributes(
		attribute.String("scene.input", path),
		attribute.String("scene.run_id", logging.RunID(ctx))))
	defer span.End()

	out, err := r.run(ctx, log, path)
	satellite := "unknown"
	if out.Satellite != "" {
		satellite = out.Satellite
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ObserveScene(satellite, observability.OutcomeError, 0)
		log.Error(ctx, "scene failed", logging.Err(err))
		out.Err = err
		return out, err
	}
	r.metrics.ObserveScene(satellite, observability.OutcomeOK, out.Stats.MaskedFraction)
	log.Info(ctx, "scene written",
		logging.String("fits", out.FITS),
		logging.Float64("masked_fraction", out.Stats.MaskedFraction))
	return out, nil
}

func (r *Runner) run(ctx context.Context, log logging.Logger, path string) (*Output, error) {
	out := &Output{Input: path}
	start := time.Now()

	img, err := LoadScene(path, r.cfg.Collection)
	if err != nil {
		return out, err
	}
	out.SceneID, out.Satellite = img.Metadata.SceneID, img.Metadata.Satellite
	log.Debug(ctx, "scene loaded",
		logging.String("scene", out.SceneID),
		logging.String("satellite", out.Satellite),
		logging.String("grid", img.Grid.String()))

	res, err := r.sharpener.Sharpen(ctx, img)
	if err != nil {
		return out, errors.Wrapf(err, "sharpen %s", path)
	}
	out.Stats = res.Stats

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return out, errors.Wrap(err, "create output directory")
	}
	base := filepath.Join(r.cfg.OutputDir, outputStem(out.SceneID, path)+"_"+sharpen.OutputBand)

	out.FITS = base + ".fits"
	if err := raster.WriteFitsFile(out.FITS, res.Image, r.cfg.Encoding); err != nil {
		return out, errors.Wrapf(err, "write %s", out.FITS)
	}
	if r.cfg.Quicklook {
		opts := r.cfg.QuicklookOptions
		if opts.Title == "" {
			opts.Title = out.SceneID
		}
		out.Quicklook = base + "." + quicklookExt(r.cfg.QuicklookFormat)
		if err := quicklook.WriteFile(out.Quicklook, res.Sharpened(), res.Image.Grid, opts); err != nil {
			return out, errors.Wrapf(err, "write %s", out.Quicklook)
		}
	}
	out.Sidecar = base + ".json"
	sc := newSidecar(ctx, out, res, r.cfg.Encoding, time.Since(start))
	if err := writeJSON(out.Sidecar, sc); err != nil {
		return out, errors.Wrapf(err, "write %s", out.Sidecar)
	}
	return out, nil
}

// RunBatch processes every path in order. A failed scene does not stop the
// batch; the returned error counts the failures.
func (r *Runner) RunBatch(ctx context.Context, paths []string) ([]*Output, error) {
	ctx, log := logging.ForBatch(ctx, r.log)
	ctx, span := r.tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
		attribute.Int("batch.size", len(paths)),
		attribute.String("batch.id", logging.BatchID(ctx))))
	defer span.End()

	outputs := make([]*Output, 0, len(paths))
	failed := 0
	for _, p := range paths {
		out, err := r.Run(ctx, p)
		if err != nil {
			failed++
		}
		outputs = append(outputs, out)
	}
	log.Info(ctx, "batch finished",
		logging.Int("scenes", len(paths)),
		logging.Int("failed", failed))
	if failed > 0 {
		err := errors.Errorf("%d of %d scenes failed", failed, len(paths))
		span.SetStatus(codes.Error, err.Error())
		return outputs, err
	}
	return outputs, nil
}

// DiscoverScenes lists the FITS cubes and band manifests directly inside dir,
// sorted by name. Products of earlier runs are skipped.
func DiscoverScenes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read scene directory")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), "_"+sharpen.OutputBand) {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".fits", ".fit", ".fts", ".json":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// outputStem derives a file-name-safe stem from the scene ID, falling back to
// the input file name.
func outputStem(sceneID, input string) string {
	stem := sceneID
	if stem == "" {
		stem = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}
	if i := strings.LastIndex(stem, "/"); i >= 0 {
		stem = stem[i+1:]
	}
	stem = strings.Trim(unsafeChars.ReplaceAllString(stem, "_"), "_")
	if stem == "" {
		stem = "scene"
	}
	return stem
}

func quicklookExt(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "jpg"
	}
	return "png"
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
