package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/ceems-dev/pcapbench/pkg/collector"
	"github.com/oklog/run"
)

// postCampaignGrace is how long the collector is left running after the
// campaign finishes, so it captures post-campaign samples (spec §4.4.3).
const postCampaignGrace = 3 * time.Second

// Orchestrate spawns the collector as a concurrent task, activates capping,
// runs the campaign, and signals both tasks to stop once the campaign
// completes and the grace period elapses (spec §4.4.3). It uses
// github.com/oklog/run to run the collector and campaign as two run.Group
// actors sharing one shutdown signal — the idiomatic Go shape for "two
// independent, concurrently-running actors with a single interrupt", rather
// than hand-rolled goroutine/channel bookkeeping.
func Orchestrate(ctx context.Context, r *Runner, coll *collector.Collector, campaign CampaignParams, logger *slog.Logger) error {
	var g run.Group

	stop := make(chan struct{})

	g.Add(func() error {
		coll.Run(ctx, stop)

		return nil
	}, func(error) {
		close(stop)
	})

	g.Add(func() error {
		if err := r.bmc.ActivateCapping(ctx); err != nil {
			return err
		}

		if err := r.RunCampaign(ctx, campaign, logger); err != nil {
			return err
		}

		logger.Info("campaign complete, deactivating capping")

		if err := r.bmc.DeactivateCapping(ctx); err != nil {
			logger.Warn("failed to deactivate capping after campaign", "err", err)
		}

		if err := r.sleep(ctx, postCampaignGrace); err != nil {
			return err
		}

		return nil
	}, func(error) {})

	return g.Run()
}
