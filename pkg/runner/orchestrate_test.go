package runner

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ceems-dev/pcapbench/pkg/collector"
	"github.com/stretchr/testify/require"
)

func TestOrchestrateRunsCollectorAndCampaignThenStops(t *testing.T) {
	agent := newFakeFirestarterServer(t)
	defer agent.Close()

	bmcClient := &fakeBMC{}
	r := newTestRunner(t, bmcClient, agent.URL)

	coll := collector.New(collector.Config{
		BMC:      bmcClient,
		AgentURL: agent.URL,
		Store:    r.store,
		Logger:   slog.Default(),
		Freq:     20,
	})

	campaign := CampaignParams{
		MinLoad: 80, MaxLoad: 80, CapMin: 900, CapMax: 1000, CapDelta: 100,
		Direction: DirectionUp, PauseModes: []bool{true},
	}

	done := make(chan error, 1)

	go func() {
		done <- Orchestrate(context.Background(), r, coll, campaign, slog.Default())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrate did not complete")
	}

	n, err := r.store.CountTestRecords(context.Background(), 900, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
