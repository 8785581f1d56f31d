// Package sharpen downscales a coarse land-surface-temperature band to the
// resolution of the reflectance bands of the same scene.
//
// Two estimates are computed from the aggregated reflectance: a moving-window
// linear regression and a scene-wide random forest. They are blended per
// coarse cell by how well each reproduces the observed thermal radiance, and
// the result is optionally corrected so that it conserves radiance over
// windows of the sensor's energy-conservation size.
package sharpen

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tirsharpen/internal/logging"
	"tirsharpen/pkg/forest"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sensor"
)

const tracerName = "tirsharpen/pkg/sharpen"

// Sharpener runs the sharpening stages for one scene at a time. It is safe
// for concurrent use as long as its trainer is.
type Sharpener struct {
	params   *Params
	sensors  *sensor.Table
	trainer  forest.Trainer
	log      logging.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// Option customises a Sharpener.
type Option func(*Sharpener)

// WithTrainer replaces the default random forest.
func WithTrainer(t forest.Trainer) Option {
	return func(s *Sharpener) { s.trainer = t }
}

// WithLogger sets the logger used for stage progress.
func WithLogger(l logging.Logger) Option {
	return func(s *Sharpener) { s.log = l }
}

// WithRecorder sets the sink for stage timings.
func WithRecorder(r Recorder) Option {
	return func(s *Sharpener) { s.recorder = r }
}

// New validates params and builds a Sharpener. Nil params and sensors select
// the defaults.
func New(params *Params, sensors *sensor.Table, opts ...Option) (*Sharpener, error) {
	if params == nil {
		params = NewParams()
	}
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid parameters")
	}
	if sensors == nil {
		sensors = sensor.DefaultTable()
	}
	s := &Sharpener{
		params:   params,
		sensors:  sensors,
		log:      logging.Noop(),
		recorder: noopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trainer == nil {
		rf := forest.NewRandomForest()
		rf.Seed = params.Seed
		rf.Workers = params.workers()
		s.trainer = rf
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	return s, nil
}

// Params returns the parameters in use.
func (s *Sharpener) Params() Params { return *s.params }

// run tracks stage timings for one scene.
type run struct {
	s     *Sharpener
	mu    sync.Mutex
	stats Stats
}

// stage runs fn inside a span and records its duration.
func (r *run) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := r.s.tracer.Start(ctx, "sharpen."+name)
	defer span.End()
	r.s.log.Debug(ctx, "stage started", logging.Stage(name))

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)

	r.mu.Lock()
	r.stats.StageDurations[name] = d
	r.mu.Unlock()
	r.s.recorder.ObserveStage(name, d)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.s.log.Debug(ctx, "stage failed", logging.Stage(name), logging.Err(err))
		return err
	}
	r.s.log.Debug(ctx, "stage finished", logging.Stage(name), logging.Duration("elapsed", d))
	return nil
}

// Sharpen produces the sharpened temperature band for img, which must carry
// the predictor bands, the thermal band and a satellite known to the sensor
// table. Scene-wide failures are returned as *SceneError.
func (s *Sharpener) Sharpen(ctx context.Context, img *raster.Image) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "sharpen.scene", trace.WithAttributes(
		attribute.String("scene.id", img.Metadata.SceneID),
		attribute.String("scene.satellite", img.Metadata.Satellite),
	))
	defer span.End()

	res, err := s.sharpen(ctx, img)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (s *Sharpener) sharpen(ctx context.Context, img *raster.Image) (*Result, error) {
	p := s.params
	profile, err := s.sensors.Lookup(img.Metadata.Satellite)
	if err != nil {
		return nil, err
	}
	predictors, err := img.Select(PredictorBands...)
	if err != nil {
		return nil, err
	}
	lst, ok := img.Band(ThermalBand)
	if !ok {
		return nil, errors.Wrapf(ErrMissingBand, "%q", ThermalBand)
	}
	native := img.Grid
	coarse, err := native.WithResolution(profile.TIRResolution)
	if err != nil {
		return nil, errors.Wrap(err, "thermal grid")
	}

	r := &run{s: s, stats: Stats{CoarseCells: coarse.Len(), StageDurations: map[string]time.Duration{}}}
	s.log.Debug(ctx, "sharpening scene",
		logging.String("satellite", profile.Satellite),
		logging.String("native", native.String()),
		logging.String("thermal", coarse.String()))

	var cs *coarseScene
	err = r.stage(ctx, StageAggregate, func(context.Context) error {
		var err error
		cs, err = aggregateScene(native, coarse, predictors, lst)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.stats.ValidCoarseCells = cs.validCells()

	var (
		wg                  sync.WaitGroup
		local, global       raster.Band
		model               *localModel
		localErr, globalErr error
		training            *trainingSet
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		localErr = r.stage(ctx, StageLocal, func(context.Context) error {
			model = fitLocal(cs, p.KernelRadius, p.workers())
			var err error
			local, err = applyLocal(model, cs, p.workers())
			return err
		})
	}()
	go func() {
		defer wg.Done()
		globalErr = r.stage(ctx, StageGlobal, func(ctx context.Context) error {
			training = sampleTraining(cs, p.CVThreshold, p.SampleRate, p.Seed)
			s.recorder.ObserveTraining(len(training.target))
			s.log.Info(ctx, "global training sample",
				logging.Int("homogeneous_cells", training.homogeneous),
				logging.Int("samples", len(training.target)))
			m, err := fitGlobal(training, s.trainer, p.MinTrainingSamples)
			if err != nil {
				return err
			}
			global = applyGlobal(m, predictors, native, p.workers())
			return nil
		})
	}()
	wg.Wait()
	if localErr != nil {
		return nil, localErr
	}
	if globalErr != nil {
		return nil, globalErr
	}
	r.stats.HomogeneousCells = training.homogeneous
	r.stats.TrainingSamples = len(training.target)
	for _, v := range model.rmse {
		if !math.IsNaN(v) {
			r.stats.LocalValidCells++
		}
	}

	var (
		fz    *fusion
		fused raster.Band
	)
	err = r.stage(ctx, StageFusion, func(context.Context) error {
		var err error
		if fz, err = compareResiduals(local, global, cs); err != nil {
			return err
		}
		fused, err = fuse(local, global, fz, cs, p.workers())
		return err
	})
	if err != nil {
		return nil, err
	}

	out := fused.Renamed(OutputBand)
	if p.EnergyConservation {
		err = r.stage(ctx, StageEnergy, func(context.Context) error {
			ec, err := native.WithResolution(profile.ECWindow)
			if err != nil {
				return errors.Wrap(err, "energy conservation grid")
			}
			out, r.stats.ECCells, err = conserveEnergy(fused, lst, native, ec)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	bands := []raster.Band{out}
	if p.Diagnostics {
		diag, err := diagnostics(cs, model, local, global, fz, fused)
		if err != nil {
			return nil, err
		}
		bands = append(bands, diag...)
	}
	md := img.Metadata.With("energy_conservation", strconv.FormatBool(p.EnergyConservation))
	result, err := raster.NewImage(native, md, bands...)
	if err != nil {
		return nil, err
	}

	r.stats.MaskedFraction = 1 - float64(out.ValidCount())/float64(native.Len())
	s.log.Info(ctx, "scene sharpened",
		logging.String("scene", img.Metadata.SceneID),
		logging.Int("training_samples", r.stats.TrainingSamples),
		logging.Int("local_cells", r.stats.LocalValidCells),
		logging.Float64("masked_fraction", r.stats.MaskedFraction))
	return &Result{Image: result, Stats: r.stats}, nil
}

// diagnostics maps the intermediate products onto the native grid.
func diagnostics(cs *coarseScene, model *localModel, local, global raster.Band, fz *fusion, fused raster.Band) ([]raster.Band, error) {
	rmse := make([]float64, len(model.rmse))
	for i, v := range model.rmse {
		rmse[i] = raster.Root4(v)
	}
	coarseBands := []raster.Band{
		raster.Root4Band(raster.Band{Data: cs.radiance}, "lst_agg"),
		fz.localAgg,
		fz.globalAgg,
		fz.weights,
		{Name: "slr_rmse", Data: rmse},
	}
	out := []raster.Band{
		cs.thermal.Copy("lst_original"),
		local,
		global,
		fused,
	}
	for _, b := range coarseBands {
		nb, err := raster.ResampleNearest(b, cs.grid, cs.native)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, nil
}
