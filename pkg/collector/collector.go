// Package collector implements the fixed-rate, drift-free sampling loop that
// interleaves BMC and agent reads into the persistent store (spec §4.3).
package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ceems-dev/pcapbench/pkg/bmc"
	"github.com/ceems-dev/pcapbench/pkg/store"
)

// Config configures a Collector.
type Config struct {
	BMC      bmc.Client
	AgentURL string
	Store    *store.Store
	Freq     float64 // samples/sec; default 1 Hz when zero
	Logger   *slog.Logger
	Client   *http.Client
}

// Collector drives the sampling loop described in spec §4.3.
type Collector struct {
	bmc      bmc.Client
	agentURL string
	store    *store.Store
	period   time.Duration
	logger   *slog.Logger
	client   *http.Client
}

// New constructs a Collector from cfg.
func New(cfg Config) *Collector {
	freq := cfg.Freq
	if freq <= 0 {
		freq = 1
	}

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	return &Collector{
		bmc:      cfg.BMC,
		agentURL: cfg.AgentURL,
		store:    cfg.Store,
		period:   time.Duration(float64(time.Second) / freq),
		logger:   cfg.Logger,
		client:   client,
	}
}

// Run drives the drift-free scheduling loop until ctx is cancelled or stop
// is closed (spec §4.3, §5). It never returns an error on sample failure —
// those are logged and the tick is skipped (spec §7 failure policy); it only
// returns when told to stop.
func (c *Collector) Run(ctx context.Context, stop <-chan struct{}) {
	nextTick := time.Now().UTC()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		now := time.Now().UTC()
		if nextTick.After(now) {
			select {
			case <-time.After(nextTick.Sub(now)):
			case <-ctx.Done():
				return
			case <-stop:
				return
			}

			now = nextTick
		}

		nextTick = now.Add(c.period)

		c.tick(ctx, now)
	}
}

// tick performs one sample-and-store cycle, timestamped as now.
func (c *Collector) tick(ctx context.Context, now time.Time) {
	power, capLevel, err := c.sampleBMC(ctx)
	if err != nil {
		c.logger.Error("bmc sample failed, skipping tick", "err", err)

		return
	}

	raplWatts, err := c.sampleAgent(ctx)
	if err != nil {
		c.logger.Error("agent sample failed, skipping tick", "err", err)

		return
	}

	raplSamples := make([]store.RAPLSample, 0, len(raplWatts))
	for pkg, watts := range raplWatts {
		raplSamples = append(raplSamples, store.RAPLSample{Timestamp: now, Package: pkg, PowerWatts: watts})
	}

	bmcSample := store.BMCSample{Timestamp: now, PowerWatts: power, CapLevelWatts: capLevel}

	if err := c.store.InsertSample(ctx, bmcSample, raplSamples); err != nil {
		c.logger.Error("failed to persist sample, skipping tick", "err", err)
	}
}

// sampleBMC reads current power and cap level. Spec §4.3 describes this as
// "concurrently read" — both calls run on their own goroutine here, joined
// before returning.
func (c *Collector) sampleBMC(ctx context.Context) (int, *int, error) {
	type powerResult struct {
		watts int
		err   error
	}

	type capResult struct {
		level *int
		err   error
	}

	powerCh := make(chan powerResult, 1)
	capCh := make(chan capResult, 1)

	go func() {
		watts, err := c.bmc.CurrentPower(ctx)
		powerCh <- powerResult{watts, err}
	}()

	go func() {
		level, err := c.bmc.CurrentCapLevel(ctx)
		capCh <- capResult{level, err}
	}()

	pr := <-powerCh
	cr := <-capCh

	if pr.err != nil {
		return 0, nil, fmt.Errorf("collector: bmc current power: %w", pr.err)
	}

	if cr.err != nil {
		return 0, nil, fmt.Errorf("collector: bmc current cap level: %w", cr.err)
	}

	return pr.watts, cr.level, nil
}

// sampleAgent GETs /rapl_power from the SUT agent (spec §4.3 step 2, §6.1).
func (c *Collector) sampleAgent(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.agentURL+"/rapl_power", nil)
	if err != nil {
		return nil, fmt.Errorf("collector: building agent request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("collector: requesting /rapl_power: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector: /rapl_power returned status %d", resp.StatusCode)
	}

	var watts map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&watts); err != nil {
		return nil, fmt.Errorf("collector: decoding /rapl_power response: %w", err)
	}

	return watts, nil
}
