package observability

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles Prometheus metrics for sharpening runs. It satisfies the
// sharpener's Recorder interface.
type Collector struct {
	gatherer prometheus.Gatherer

	Scenes          *prometheus.CounterVec
	StageDurations  *prometheus.HistogramVec
	TrainingSamples prometheus.Gauge
	MaskedFraction  prometheus.Gauge
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	scenes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tirsharpen_scenes_total",
		Help: "Scenes processed, labeled by satellite and outcome.",
	}, []string{"satellite", "outcome"}), "tirsharpen_scenes_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tirsharpen_stage_duration_seconds",
		Help:    "Wall time of each sharpening stage in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"}), "tirsharpen_stage_duration_seconds")
	if err != nil {
		return nil, err
	}

	samples, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tirsharpen_training_samples",
		Help: "Training samples drawn for the last global model.",
	}), "tirsharpen_training_samples")
	if err != nil {
		return nil, err
	}
	masked, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tirsharpen_masked_fraction",
		Help: "Share of masked pixels in the last sharpened output.",
	}), "tirsharpen_masked_fraction")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Scenes:          scenes,
		StageDurations:  durations,
		TrainingSamples: samples,
		MaskedFraction:  masked,
	}, nil
}

// ObserveStage records the duration of one stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil || c.StageDurations == nil {
		return
	}
	c.StageDurations.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTraining records the size of the global training set.
func (c *Collector) ObserveTraining(samples int) {
	if c == nil || c.TrainingSamples == nil {
		return
	}
	c.TrainingSamples.Set(float64(samples))
}

// ObserveScene counts a finished scene.
func (c *Collector) ObserveScene(satellite, outcome string, maskedFraction float64) {
	if c == nil {
		return
	}
	if c.Scenes != nil {
		c.Scenes.WithLabelValues(satellite, outcome).Inc()
	}
	if c.MaskedFraction != nil && outcome == OutcomeOK {
		c.MaskedFraction.Set(maskedFraction)
	}
}

// Scene outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return errors.Wrap(prometheus.WriteToTextfile(path, gatherer), "writing metrics textfile")
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, errors.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
