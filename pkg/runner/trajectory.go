// Package runner implements the cap-trajectory test driver: one run_test
// invocation drives the SUT through a sequence of power caps under load,
// logging every cap change; a campaign enumerates the full test matrix
// (spec §4.4).
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ceems-dev/pcapbench/pkg/bmc"
	"github.com/ceems-dev/pcapbench/pkg/store"
)

// Timing constants governing one run_test invocation (spec §4.4.1).
type Timing struct {
	Warmup         time.Duration
	PerStep        time.Duration
	InterStepPause time.Duration
	UncappedPower  int
}

// TestParams are the inputs to one run_test invocation (spec §4.4.1).
type TestParams struct {
	CapFrom, CapTo              int
	NSteps                      int
	LoadPct                     int
	NThreads                    int
	PauseLoadBetweenCapSettings bool
}

// Runner drives trajectories and campaigns against a single BMC endpoint and
// a single SUT agent.
type Runner struct {
	bmc    bmc.Client
	agent  *agentClient
	store  *store.Store
	timing Timing
	clock  func() time.Time
	sleep  func(context.Context, time.Duration) error
}

// New constructs a Runner.
func New(bmcClient bmc.Client, agent *agentClient, st *store.Store, timing Timing) *Runner {
	return &Runner{
		bmc:    bmcClient,
		agent:  agent,
		store:  st,
		timing: timing,
		clock:  func() time.Time { return time.Now().UTC() },
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capLog remembers the previously applied cap across a trajectory so it can
// emit the "shadow" row that renders a plotting staircase (spec §4.4.1 cap-
// change logging).
type capLog struct {
	r        *Runner
	previous *int
}

func (c *capLog) apply(ctx context.Context, level int) error {
	now := c.r.clock()

	if c.previous != nil {
		if err := c.r.store.InsertCappingCommand(ctx, store.CappingCommand{
			Timestamp:     now.Add(-time.Millisecond),
			CapLevelWatts: *c.previous,
		}); err != nil {
			return err
		}
	}

	if err := c.r.store.InsertCappingCommand(ctx, store.CappingCommand{Timestamp: now, CapLevelWatts: level}); err != nil {
		return err
	}

	if err := c.r.bmc.SetCapLevel(ctx, level); err != nil {
		return fmt.Errorf("runner: applying cap level %d: %w", level, err)
	}

	c.previous = &level

	return nil
}

// RunTest executes one trajectory (pause-between or continuous-load) and
// records a tests row spanning its wall-clock start/end (spec §4.4.1).
func (r *Runner) RunTest(ctx context.Context, p TestParams) error {
	if p.NSteps <= 0 {
		return fmt.Errorf("runner: n_steps must be > 0, got %d", p.NSteps)
	}

	step := (p.CapFrom - p.CapTo) / p.NSteps

	start := r.clock()

	var err error
	if p.PauseLoadBetweenCapSettings {
		err = r.runPauseBetween(ctx, p, step)
	} else {
		err = r.runContinuousLoad(ctx, p, step)
	}

	if err != nil {
		return err
	}

	end := r.clock()

	_, err = r.store.InsertTestRecord(ctx, store.TestRecord{
		Start: start, End: end,
		CapFrom: p.CapFrom, CapTo: p.CapTo, NSteps: p.NSteps, LoadPct: p.LoadPct,
		PauseLoadBetweenCapSettings: p.PauseLoadBetweenCapSettings,
	})
	if err != nil {
		return fmt.Errorf("runner: recording test run: %w", err)
	}

	return nil
}

// runPauseBetween implements spec §4.4.1's "pause-between mode": load
// restarts at the start of each step.
func (r *Runner) runPauseBetween(ctx context.Context, p TestParams, step int) error {
	log := &capLog{r: r}

	if err := log.apply(ctx, p.CapFrom); err != nil {
		return err
	}

	if err := r.sleep(ctx, r.timing.InterStepPause); err != nil {
		return err
	}

	capLevel := p.CapFrom

	for i := 0; i < p.NSteps; i++ {
		runtime := r.timing.PerStep

		if err := r.agent.launchFirestarter(ctx, p.LoadPct, p.NThreads, int(runtime.Seconds())); err != nil {
			return err
		}

		if err := r.sleep(ctx, r.timing.PerStep+r.timing.InterStepPause); err != nil {
			return err
		}

		capLevel -= step

		if err := log.apply(ctx, capLevel); err != nil {
			return err
		}
	}

	return nil
}

// runContinuousLoad implements spec §4.4.1's "continuous-load mode": one
// firestarter job spans the whole trajectory while the cap steps from
// cap_from toward cap_to underneath it.
func (r *Runner) runContinuousLoad(ctx context.Context, p TestParams, step int) error {
	log := &capLog{r: r}

	if err := log.apply(ctx, r.timing.UncappedPower); err != nil {
		return err
	}

	totalRuntime := r.timing.Warmup + time.Duration(p.NSteps)*r.timing.PerStep

	if err := r.agent.launchFirestarter(ctx, p.LoadPct, p.NThreads, int(totalRuntime.Seconds())); err != nil {
		return err
	}

	if err := r.sleep(ctx, r.timing.Warmup); err != nil {
		return err
	}

	capLevel := p.CapFrom

	for i := 0; i < p.NSteps; i++ {
		if err := log.apply(ctx, capLevel); err != nil {
			return err
		}

		if err := r.sleep(ctx, r.timing.PerStep); err != nil {
			return err
		}

		capLevel -= step
	}

	return r.sleep(ctx, r.timing.InterStepPause)
}
