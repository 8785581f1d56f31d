package sharpen

import (
	"runtime"
	"time"

	"github.com/pkg/errors"

	"tirsharpen/pkg/raster"
)

// Band names shared by every stage.
const (
	ThermalBand = "lst"
	OutputBand  = "lst_sharpened"
)

// PredictorBands are the reflectance bands the regressions use, in order.
var PredictorBands = []string{"blue", "green", "red", "nir", "swir1", "swir2"}

// Stage names used for errors, spans, logs and metrics.
const (
	StageAggregate = "aggregate"
	StageLocal     = "local"
	StageGlobal    = "global"
	StageFusion    = "fusion"
	StageEnergy    = "energy"
)

// Params contains all parameters for thermal sharpening.
type Params struct {
	KernelRadius       int
	CVThreshold        float64
	SampleRate         float64
	MinTrainingSamples int
	Seed               int64
	EnergyConservation bool
	Diagnostics        bool
	Workers            int
}

// NewParams creates Params with default values.
func NewParams() *Params {
	return &Params{
		KernelRadius:       20,
		CVThreshold:        0.15,
		SampleRate:         5e-3,
		MinTrainingSamples: 10,
		Seed:               0,
		EnergyConservation: true,
		Diagnostics:        false,
		Workers:            runtime.NumCPU(),
	}
}

// Validate rejects parameter combinations the stages cannot run with.
func (p *Params) Validate() error {
	if p.KernelRadius < 1 {
		return errors.Errorf("kernel radius must be >= 1, got %d", p.KernelRadius)
	}
	if !(p.CVThreshold > 0) {
		return errors.Errorf("cv threshold must be positive, got %v", p.CVThreshold)
	}
	if !(p.SampleRate > 0 && p.SampleRate <= 1) {
		return errors.Errorf("sample rate must be in (0, 1], got %v", p.SampleRate)
	}
	if p.MinTrainingSamples < 1 {
		return errors.Errorf("min training samples must be >= 1, got %d", p.MinTrainingSamples)
	}
	return nil
}

func (p *Params) workers() int {
	if p.Workers < 1 {
		return 1
	}
	return p.Workers
}

// Recorder receives stage timings and training sizes.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	ObserveTraining(samples int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStage(string, time.Duration) {}
func (noopRecorder) ObserveTraining(int)                {}

// Stats summarises one sharpening run.
type Stats struct {
	CoarseCells      int
	ValidCoarseCells int
	HomogeneousCells int
	TrainingSamples  int
	LocalValidCells  int
	ECCells          int
	MaskedFraction   float64
	StageDurations   map[string]time.Duration
}

// Result is the output of Sharpen.
type Result struct {
	// Image holds the sharpened band, plus diagnostics bands when requested.
	Image *raster.Image
	Stats Stats
}

// Sharpened returns the sharpened band.
func (r *Result) Sharpened() raster.Band {
	b, _ := r.Image.Band(OutputBand)
	return b
}
