package runner

import (
	"context"
	"fmt"
	"log/slog"
)

// Direction selects which cap endpoints a campaign's test matrix sweeps
// between (spec §4.4.2).
type Direction string

// Supported directions. "both" expands to running each test twice, once per
// direction (spec §6.2 --cap_direction).
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionBoth Direction = "both"
)

// CampaignParams is the matrix definition enumerated by RunCampaign (spec
// §4.4.2, §6.2).
type CampaignParams struct {
	MinLoad, MaxLoad, LoadDelta int
	CapMin, CapMax, CapDelta   int
	Direction                  Direction
	PauseModes                 []bool // defaults to {true, false} when nil
	NThreads                   int
}

// validate checks the preconditions asserted before a campaign starts (spec
// §4.4.2).
func (p CampaignParams) validate() error {
	if p.MinLoad > p.MaxLoad {
		return fmt.Errorf("runner: min_load (%d) must be <= max_load (%d)", p.MinLoad, p.MaxLoad)
	}

	if p.CapMin >= p.CapMax {
		return fmt.Errorf("runner: cap_min (%d) must be < cap_max (%d)", p.CapMin, p.CapMax)
	}

	if p.CapDelta <= 0 {
		return fmt.Errorf("runner: cap_delta must be > 0, got %d", p.CapDelta)
	}

	if p.LoadDelta <= 0 && p.MinLoad != p.MaxLoad {
		return fmt.Errorf("runner: load_delta must be > 0 unless min_load == max_load")
	}

	return nil
}

func (p CampaignParams) loads() []int {
	if p.MinLoad == p.MaxLoad {
		return []int{p.MinLoad}
	}

	var loads []int

	for l := p.MinLoad; l <= p.MaxLoad; l += p.LoadDelta {
		loads = append(loads, l)
	}

	return loads
}

func (p CampaignParams) directions() []Direction {
	if p.Direction == DirectionBoth {
		return []Direction{DirectionUp, DirectionDown}
	}

	return []Direction{p.Direction}
}

func (p CampaignParams) pauseModes() []bool {
	if p.PauseModes != nil {
		return p.PauseModes
	}

	return []bool{true, false}
}

// RunCampaign enumerates the full load x pause x direction matrix (spec
// §4.4.2) and runs each combination as one RunTest invocation, preceded by
// collector orchestration (spec §4.4.3, implemented in orchestrate.go's Orchestrate).
func (r *Runner) RunCampaign(ctx context.Context, p CampaignParams, logger *slog.Logger) error {
	if err := p.validate(); err != nil {
		return err
	}

	nSteps := (p.CapMax - p.CapMin) / p.CapDelta

	for _, load := range p.loads() {
		for _, pause := range p.pauseModes() {
			for _, direction := range p.directions() {
				var capFrom, capTo int
				if direction == DirectionUp {
					capFrom, capTo = p.CapMin, p.CapMax
				} else {
					capFrom, capTo = p.CapMax, p.CapMin
				}

				logger.Info("running trajectory",
					"load_pct", load, "pause_between", pause, "direction", direction,
					"cap_from", capFrom, "cap_to", capTo, "n_steps", nSteps,
				)

				if err := r.RunTest(ctx, TestParams{
					CapFrom: capFrom, CapTo: capTo, NSteps: nSteps, LoadPct: load,
					NThreads: p.NThreads, PauseLoadBetweenCapSettings: pause,
				}); err != nil {
					return fmt.Errorf("runner: campaign step (load=%d pause=%v direction=%s): %w",
						load, pause, direction, err)
				}
			}
		}
	}

	return nil
}
