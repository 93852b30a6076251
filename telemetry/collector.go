// Package telemetry collects step timings and plume statistics and writes
// them as CSV.
package telemetry

// StepCounts are the per-step event counts fed to a Collector.
type StepCounts struct {
	Spawned    int
	Removed    int
	WallSlides int
	Stalls     int
	Saved      bool
}

// Collector accumulates step events over fixed windows of simulated time.
type Collector struct {
	windowSteps int
	dt          float64

	windowStart int

	spawned    int
	removed    int
	wallSlides int
	stalls     int
	saved      int

	// scratch for distributions
	sigmas  []float64
	heights []float64
}

// NewCollector creates a collector flushing every windowSec seconds of
// simulated time, given dt seconds per step.
func NewCollector(windowSec, dt float64) *Collector {
	steps := 1
	if dt > 0 {
		steps = max(int(windowSec/dt), 1)
	}
	return &Collector{windowSteps: steps, dt: dt}
}

// Record adds one step's events.
func (c *Collector) Record(s StepCounts) {
	c.spawned += s.Spawned
	c.removed += s.Removed
	c.wallSlides += s.WallSlides
	c.stalls += s.Stalls
	if s.Saved {
		c.saved++
	}
}

// ShouldFlush reports whether the window ending at iteration is complete.
func (c *Collector) ShouldFlush(iteration int) bool {
	return iteration-c.windowStart >= c.windowSteps
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int { return c.windowSteps }

// Flush builds the window stats from the counters and the current filament
// sigmas [cm] and heights [m], then starts a new window. The slices are
// copied, not retained.
func (c *Collector) Flush(iteration, windIndex int, sigmas, heights []float64) WindowStats {
	c.sigmas = append(c.sigmas[:0], sigmas...)
	c.heights = append(c.heights[:0], heights...)
	sigmaMean, sigmaP10, sigmaP50, sigmaP90 := Distribution(c.sigmas)
	heightMean, _, _, heightP90 := Distribution(c.heights)

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   iteration,
		SimTimeSec:  float64(iteration) * c.dt,
		Active:      len(sigmas),
		Spawned:     c.spawned,
		Removed:     c.removed,
		WallSlides:  c.wallSlides,
		Stalls:      c.stalls,
		Saved:       c.saved,
		WindIndex:   windIndex,
		SigmaMean:   sigmaMean,
		SigmaP10:    sigmaP10,
		SigmaP50:    sigmaP50,
		SigmaP90:    sigmaP90,
		HeightMean:  heightMean,
		HeightP90:   heightP90,
	}

	c.windowStart = iteration
	c.spawned, c.removed, c.wallSlides, c.stalls, c.saved = 0, 0, 0, 0, 0
	return stats
}
