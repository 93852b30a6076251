package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// WindowStats summarizes the plume over a window of steps.
type WindowStats struct {
	WindowStart int     `csv:"-"`
	WindowEnd   int     `csv:"window_end"`
	SimTimeSec  float64 `csv:"sim_time"`

	// Filament population at window end
	Active int `csv:"active"`

	// Events during the window
	Spawned    int `csv:"spawned"`
	Removed    int `csv:"removed"`
	WallSlides int `csv:"wall_slides"`
	Stalls     int `csv:"stalls"`
	Saved      int `csv:"saved"`

	WindIndex int `csv:"wind_index"`

	// Puff width [cm] at window end
	SigmaMean float64 `csv:"sigma_mean"`
	SigmaP10  float64 `csv:"sigma_p10"`
	SigmaP50  float64 `csv:"sigma_p50"`
	SigmaP90  float64 `csv:"sigma_p90"`

	// Plume height [m] at window end
	HeightMean float64 `csv:"height_mean"`
	HeightP90  float64 `csv:"height_p90"`
}

// Percentile returns the p-th percentile of a sorted slice with linear
// interpolation. p is in [0, 1]; an empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lo := int(idx)
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// Distribution returns the mean and the 10th, 50th and 90th percentiles.
// values is sorted in place.
func Distribution(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	mean = floats.Sum(values) / float64(len(values))
	sort.Float64s(values)
	return mean, Percentile(values, 0.10), Percentile(values, 0.50), Percentile(values, 0.90)
}

// LogValue implements slog.LogValuer.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("iteration", s.WindowEnd),
		slog.Float64("time", s.SimTimeSec),
		slog.Int("active", s.Active),
		slog.Int("spawned", s.Spawned),
		slog.Int("removed", s.Removed),
		slog.Int("wall_slides", s.WallSlides),
		slog.Int("stalls", s.Stalls),
		slog.Int("wind_index", s.WindIndex),
		slog.Float64("sigma_p50", s.SigmaP50),
		slog.Float64("height_mean", s.HeightMean),
	)
}
