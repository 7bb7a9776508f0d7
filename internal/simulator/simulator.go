// Package simulator dispatches a run to exactly one of the two
// accelerator drivers based on the config file's `arch` key, and owns
// the shared preprocessing/checking steps common to both.
package simulator

import (
	"fmt"
	"log"

	"github.com/RuiPMaia/mergeforest-sim/internal/baseline"
	"github.com/RuiPMaia/mergeforest-sim/internal/config"
	"github.com/RuiPMaia/mergeforest-sim/internal/forest"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
)

// Simulator owns exactly one of {Baseline, Forest} for the run's
// lifetime, selected by the config file's arch key.
type Simulator struct {
	cfg  *config.File
	data *matrix.Data

	baseline *baseline.Baseline
	forest   *forest.Forest
}

// New preprocesses A and B and constructs the selected accelerator.
func New(cfg *config.File, a, b *matrix.CSR, computeResult bool) (*Simulator, error) {
	data := &matrix.Data{A: a, B: b, ComputeResult: computeResult}
	if err := data.PreprocessMats(); err != nil {
		return nil, fmt.Errorf("simulator: preprocess: %w", err)
	}

	s := &Simulator{cfg: cfg, data: data}
	switch cfg.Arch {
	case config.ArchGamma:
		bcfg := cfg.BaselineConfig()
		data.SetPhysicalAddrs(bcfg.NumCPartialSlots, bcfg.CPartialSlotSize)
		s.baseline = baseline.New(bcfg, cfg.MainMemConfig(), cfg.ClockPeriodNs, data)
	case config.ArchMyArch:
		fcfg := cfg.ForestConfig()
		data.SetPhysicalAddrs(fcfg.NumCPartialSlots, 0)
		s.forest = forest.New(fcfg, cfg.MainMemConfig(), cfg.ClockPeriodNs, data)
	default:
		return nil, fmt.Errorf("simulator: unknown arch %q", cfg.Arch)
	}
	return s, nil
}

// Run drives the selected accelerator to completion, runs the
// consistency checks, and (if requested) the independent functional
// checker, returning the rendered stats report.
func (s *Simulator) Run() (string, error) {
	switch {
	case s.baseline != nil:
		s.baseline.Run()
		s.baseline.CheckValidSimulation()
		if s.data.ComputeResult {
			if err := s.data.SpGEMMCheckResult(); err != nil {
				log.Printf("simulator: result check failed: %v", err)
			}
		}
		return s.baseline.Stats().String(), nil
	case s.forest != nil:
		s.forest.Run()
		s.forest.CheckValidSimulation()
		if s.data.ComputeResult {
			if err := s.data.SpGEMMCheckResult(); err != nil {
				log.Printf("simulator: result check failed: %v", err)
			}
		}
		return s.forest.Stats().String(), nil
	default:
		return "", fmt.Errorf("simulator: not initialized")
	}
}

// Data exposes the preprocessed matrix data, e.g. for the stats
// subcommand which reports preprocessor statistics without running a
// cycle simulation.
func (s *Simulator) Data() *matrix.Data { return s.data }
