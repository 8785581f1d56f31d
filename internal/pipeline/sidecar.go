package pipeline

import (
	"context"
	"time"

	"tirsharpen/internal/logging"
	"tirsharpen/pkg/raster"
	"tirsharpen/pkg/sharpen"
)

// sidecar is the JSON record written next to each sharpened scene.
type sidecar struct {
	RunID      string            `json:"run_id"`
	BatchID    string            `json:"batch_id,omitempty"`
	SceneID    string            `json:"scene_id"`
	Satellite  string            `json:"satellite"`
	TimeStart  *time.Time        `json:"time_start,omitempty"`
	Input      string            `json:"input"`
	FITS       string            `json:"fits"`
	Quicklook  string            `json:"quicklook,omitempty"`
	Encoding   string            `json:"encoding"`
	Bands      []string          `json:"bands"`
	Properties map[string]string `json:"properties"`
	Stats      sidecarStats      `json:"stats"`
	Elapsed    float64           `json:"elapsed_seconds"`
}

type sidecarStats struct {
	CoarseCells      int                `json:"coarse_cells"`
	ValidCoarseCells int                `json:"valid_coarse_cells"`
	HomogeneousCells int                `json:"homogeneous_cells"`
	TrainingSamples  int                `json:"training_samples"`
	LocalValidCells  int                `json:"local_valid_cells"`
	ECCells          int                `json:"ec_cells"`
	MaskedFraction   float64            `json:"masked_fraction"`
	Temperature      *temperatureStats  `json:"temperature,omitempty"`
	StageSeconds     map[string]float64 `json:"stage_seconds"`
}

type temperatureStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P2     float64 `json:"p2"`
	P98    float64 `json:"p98"`
}

func newSidecar(ctx context.Context, out *Output, res *sharpen.Result, enc raster.Encoding, elapsed time.Duration) sidecar {
	md := res.Image.Metadata
	sc := sidecar{
		RunID:      logging.RunID(ctx),
		BatchID:    logging.BatchID(ctx),
		SceneID:    md.SceneID,
		Satellite:  md.Satellite,
		Input:      out.Input,
		FITS:       out.FITS,
		Quicklook:  out.Quicklook,
		Encoding:   encodingName(enc),
		Bands:      res.Image.BandNames(),
		Properties: md.Properties,
		Elapsed:    elapsed.Seconds(),
	}
	if !md.TimeStart.IsZero() {
		t := md.TimeStart
		sc.TimeStart = &t
	}

	st := res.Stats
	sc.Stats = sidecarStats{
		CoarseCells:      st.CoarseCells,
		ValidCoarseCells: st.ValidCoarseCells,
		HomogeneousCells: st.HomogeneousCells,
		TrainingSamples:  st.TrainingSamples,
		LocalValidCells:  st.LocalValidCells,
		ECCells:          st.ECCells,
		MaskedFraction:   st.MaskedFraction,
		StageSeconds:     make(map[string]float64, len(st.StageDurations)),
	}
	for stage, d := range st.StageDurations {
		sc.Stats.StageSeconds[stage] = d.Seconds()
	}
	if s := raster.CalculateStatistics(res.Sharpened()); s.Count > 0 {
		sc.Stats.Temperature = &temperatureStats{
			Min: s.Min, Max: s.Max, Mean: s.Mean, StdDev: s.StdDev, P2: s.P2, P98: s.P98,
		}
	}
	return sc
}

func encodingName(enc raster.Encoding) string {
	if enc.BitPix > 0 {
		return "int16"
	}
	return "float32"
}
