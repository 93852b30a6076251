package simulation

import (
	"github.com/pthm-cable/gaden/config"
)

// ParamsFromConfig maps the simulation and source sections onto engine params.
func ParamsFromConfig(cfg *config.Config) Params {
	s := cfg.Simulation
	return Params{
		DeltaTime:                s.DeltaTime,
		WindDeltaTime:            s.WindDeltaTime,
		Temperature:              s.Temperature,
		Pressure:                 s.Pressure,
		GrowthGamma:              s.GrowthGamma,
		NoiseStd:                 s.NoiseStd,
		Source:                   cfg.Source,
		PrecomputeConcentrations: s.PrecomputeConcentrations,
		SaveResults:              s.SaveResults,
		SaveDeltaTime:            s.SaveDeltaTime,
		ResultsDir:               s.ResultsDir,
		ExpectedFilaments:        s.ExpectedFilaments,
		Seed:                     s.Seed,
		Workers:                  s.Workers,
	}
}

// PlaybackParamsFromConfig maps the playback section.
func PlaybackParamsFromConfig(cfg *config.Config) PlaybackParams {
	p := cfg.Playback
	return PlaybackParams{
		ResultsDir:     p.ResultsDir,
		StartIteration: p.StartIteration,
		Loop:           p.Loop,
	}
}
