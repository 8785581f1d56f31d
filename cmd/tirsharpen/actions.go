package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	cli "gopkg.in/urfave/cli.v1"

	"tirsharpen/internal/logging"
	"tirsharpen/internal/observability"
	"tirsharpen/internal/pipeline"
	"tirsharpen/pkg/landsat"
	"tirsharpen/pkg/quicklook"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
	"tirsharpen/pkg/sharpen"
)

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

func paramsFromContext(c *cli.Context) (*sharpen.Params, error) {
	p := sharpen.NewParams()
	p.KernelRadius = c.Int("radius")
	p.CVThreshold = c.Float64("cv")
	p.SampleRate = c.Float64("sample-rate")
	p.MinTrainingSamples = c.Int("min-samples")
	p.Seed = c.Int64("seed")
	p.EnergyConservation = !c.Bool("no-ec")
	p.Diagnostics = c.Bool("diagnostics")
	if w := c.Int("workers"); w > 0 {
		p.Workers = w
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func sensorsFromContext(c *cli.Context) (*sensor.Table, error) {
	path := c.String("sensors")
	if path == "" {
		return sensor.DefaultTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open sensor table")
	}
	defer f.Close()
	t, err := sensor.LoadTable(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return t, nil
}

func configFromContext(c *cli.Context) (pipeline.Config, error) {
	var cfg pipeline.Config
	params, err := paramsFromContext(c)
	if err != nil {
		return cfg, err
	}
	sensors, err := sensorsFromContext(c)
	if err != nil {
		return cfg, err
	}
	enc, err := raster.ParseEncoding(c.String("encoding"))
	if err != nil {
		return cfg, err
	}
	format := strings.ToLower(c.String("quicklook-format"))
	switch format {
	case "png", "jpeg", "jpg":
	default:
		return cfg, errors.Errorf("unsupported quicklook format %q", format)
	}
	opts := quicklook.DefaultOptions()
	if w := c.Int("quicklook-width"); w > 0 {
		opts.Width = w
	}
	return pipeline.Config{
		Params:           params,
		Sensors:          sensors,
		Encoding:         enc,
		OutputDir:        c.String("output"),
		Collection:       c.String("collection"),
		Quicklook:        c.Bool("quicklook"),
		QuicklookFormat:  format,
		QuicklookOptions: opts,
	}, nil
}

// session holds what every scene command sets up and tears down.
type session struct {
	ctx      context.Context
	log      logging.Logger
	metrics  *observability.Collector
	runner   *pipeline.Runner
	textfile string
	stop     func()
}

func newSession(c *cli.Context) (*session, error) {
	cfg, err := configFromContext(c)
	if err != nil {
		return nil, err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	log := logging.NewFromEnv()

	tcfg := observability.TracingConfigFromEnv()
	tcfg.Version = version
	shutdown, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "init tracing")
	}
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		cancel()
		return nil, err
	}
	runner, err := pipeline.NewRunner(cfg, log, metrics)
	if err != nil {
		cancel()
		return nil, err
	}
	return &session{
		ctx:      ctx,
		log:      log,
		metrics:  metrics,
		runner:   runner,
		textfile: c.String("metrics-textfile"),
		stop: func() {
			observability.ShutdownWithTimeout(context.Background(), shutdown, log)
			cancel()
		},
	}, nil
}

// close flushes spans and writes the metrics textfile when one was asked for.
func (s *session) close() error {
	defer s.stop()
	if s.textfile == "" {
		return nil
	}
	return s.metrics.WriteTextfile(s.textfile)
}

func sharpenAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: tirsharpen sharpen [flags] <scene>")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}

	start := time.Now()
	out, runErr := s.runner.Run(s.ctx, c.Args().First())
	if err := s.close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	printOutput(stdout, out, time.Since(start))
	return nil
}

func batchAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("usage: tirsharpen batch [flags] <dir|scene>...")
	}
	paths, err := collectInputs(c.Args())
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no scenes found")
	}
	s, err := newSession(c)
	if err != nil {
		return err
	}

	start := time.Now()
	outputs, runErr := s.runner.RunBatch(s.ctx, paths)
	if err := s.close(); err != nil && runErr == nil {
		runErr = err
	}
	printBatch(stdout, outputs, time.Since(start))
	return runErr
}

// collectInputs expands directories into the scenes they hold.
func collectInputs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrap(err, "stat input")
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		found, err := pipeline.DiscoverScenes(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	return paths, nil
}

func profilesAction(c *cli.Context) error {
	t, err := sensorsFromContext(c)
	if err != nil {
		return err
	}
	printProfiles(stdout, t.Profiles())
	return nil
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: tirsharpen inspect [flags] <scene>")
	}
	path := c.Args().First()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		hdr, err := raster.ReadFitsHeaderOnly(path)
		if err != nil {
			return errors.Wrap(err, path)
		}
		printHeader(stdout, hdr)
	}
	img, err := pipeline.LoadScene(path, c.String("collection"))
	if err != nil {
		return err
	}
	printImage(stdout, img)
	return nil
}

func versionAction(*cli.Context) error {
	fmt.Fprintln(stdout, version)
	return nil
}

func printOutput(w io.Writer, out *pipeline.Output, elapsed time.Duration) {
	st := out.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "=== Sharpening Results (%.1fs) ===\n", elapsed.Seconds())
	fmt.Fprintf(w, "  Scene:             %s (%s)\n", out.SceneID, out.Satellite)
	fmt.Fprintf(w, "  Coarse cells:      %d (%d valid)\n", st.CoarseCells, st.ValidCoarseCells)
	fmt.Fprintf(w, "  Homogeneous cells: %d\n", st.HomogeneousCells)
	fmt.Fprintf(w, "  Training samples:  %d\n", st.TrainingSamples)
	fmt.Fprintf(w, "  Local fits:        %d\n", st.LocalValidCells)
	if st.ECCells > 0 {
		fmt.Fprintf(w, "  EC windows:        %d\n", st.ECCells)
	}
	fmt.Fprintf(w, "  Masked fraction:   %.2f%%\n", 100*st.MaskedFraction)
	for _, stage := range []string{sharpen.StageAggregate, sharpen.StageLocal, sharpen.StageGlobal, sharpen.StageFusion, sharpen.StageEnergy} {
		if d, ok := st.StageDurations[stage]; ok {
			fmt.Fprintf(w, "  %-18s %.3fs\n", stage+":", d.Seconds())
		}
	}
	fmt.Fprintln(w, "==================================")
	fmt.Fprintf(w, "  FITS:      %s\n", out.FITS)
	if out.Quicklook != "" {
		fmt.Fprintf(w, "  Quicklook: %s\n", out.Quicklook)
	}
	fmt.Fprintf(w, "  Sidecar:   %s\n", out.Sidecar)
}

func printBatch(w io.Writer, outputs []*pipeline.Output, elapsed time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "=== Batch Results (%.1fs) ===\n", elapsed.Seconds())
	for _, out := range outputs {
		if out.Err != nil {
			fmt.Fprintf(w, "  FAIL %s: %v\n", out.Input, out.Err)
			continue
		}
		fmt.Fprintf(w, "  ok   %s -> %s (%d samples)\n", out.Input, out.FITS, out.Stats.TrainingSamples)
	}
}

func printProfiles(w io.Writer, profiles []sensor.Profile) {
	fmt.Fprintf(w, "%-12s %10s %10s\n", "SATELLITE", "TIR_RES", "EC_WINDOW")
	for _, p := range profiles {
		fmt.Fprintf(w, "%-12s %10g %10g\n", p.Satellite, p.TIRResolution, p.ECWindow)
	}
}

func printHeader(w io.Writer, hdr *raster.FitsData) {
	fmt.Fprintf(w, "FITS %d x %d x %d, BITPIX %d\n", hdr.Width, hdr.Height, hdr.Planes, hdr.BitPix)
	for _, k := range hdr.Header.Keys {
		fmt.Fprintf(w, "  %-8s = %s\n", k, hdr.Header.Headers[k])
	}
}

func printImage(w io.Writer, img *raster.Image) {
	md := img.Metadata
	fmt.Fprintf(w, "Scene:     %s\n", md.SceneID)
	fmt.Fprintf(w, "Satellite: %s\n", md.Satellite)
	if !md.TimeStart.IsZero() {
		fmt.Fprintf(w, "Acquired:  %s\n", md.TimeStart.UTC().Format(time.RFC3339))
	}
	if id, err := landsat.ParseImageID(md.SceneID); err == nil {
		fmt.Fprintf(w, "WRS-2:     path %03d row %03d (%s)\n", id.Path, id.Row, id.Collection)
	}
	fmt.Fprintf(w, "Grid:      %s\n", img.Grid)
	for _, k := range md.PropertyKeys() {
		fmt.Fprintf(w, "  %s = %s\n", k, md.Properties[k])
	}
	fmt.Fprintf(w, "%-22s %8s %10s %10s %10s %10s\n", "BAND", "MASKED", "MIN", "MAX", "MEAN", "STDDEV")
	for _, b := range img.Bands {
		s := raster.CalculateStatistics(b)
		fmt.Fprintf(w, "%-22s %7.2f%% %10.4f %10.4f %10.4f %10.4f\n",
			b.Name, 100*s.MaskedFraction(), s.Min, s.Max, s.Mean, s.StdDev)
	}
}
