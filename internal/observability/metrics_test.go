package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsScenes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveScene("LANDSAT_8", OutcomeOK, 0.125)
	c.ObserveScene("LANDSAT_8", OutcomeError, 0)
	c.ObserveScene("LANDSAT_8", OutcomeOK, 0.25)

	if got := testutil.ToFloat64(c.Scenes.WithLabelValues("LANDSAT_8", OutcomeOK)); got != 2 {
		t.Fatalf("tirsharpen_scenes_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.MaskedFraction); got != 0.25 {
		t.Fatalf("tirsharpen_masked_fraction = %v, want 0.25", got)
	}
}

func TestCollectorRecordsStages(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveStage("local", 120*time.Millisecond)
	c.ObserveStage("local", 80*time.Millisecond)
	c.ObserveTraining(37)

	if count := histogramSampleCount(t, reg, "tirsharpen_stage_duration_seconds", "local"); count != 2 {
		t.Fatalf("stage sample_count = %d, want 2", count)
	}
	if got := testutil.ToFloat64(c.TrainingSamples); got != 37 {
		t.Fatalf("tirsharpen_training_samples = %v, want 37", got)
	}
}

func TestNewCollectorReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	a.ObserveScene("LANDSAT_7", OutcomeOK, 0)
	if got := testutil.ToFloat64(b.Scenes.WithLabelValues("LANDSAT_7", OutcomeOK)); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObserveScene("LANDSAT_9", OutcomeOK, 0)

	path := filepath.Join(t.TempDir(), "tirsharpen.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `tirsharpen_scenes_total{outcome="ok",satellite="LANDSAT_9"} 1`) {
		t.Fatalf("textfile missing scene counter:\n%s", data)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveStage("global", time.Second)
	c.ObserveTraining(1)
	c.ObserveScene("X", OutcomeOK, 0)
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name, stage string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "stage") == stage {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
