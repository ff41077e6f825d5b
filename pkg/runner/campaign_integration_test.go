package runner

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCampaignEnumeratesMatrixAndRecordsEachTest(t *testing.T) {
	agent := newFakeFirestarterServer(t)
	defer agent.Close()

	r := newTestRunner(t, &fakeBMC{}, agent.URL)

	params := CampaignParams{
		MinLoad: 80, MaxLoad: 80, LoadDelta: 0,
		CapMin: 600, CapMax: 1000, CapDelta: 200,
		Direction: DirectionBoth,
	}

	require.NoError(t, r.RunCampaign(context.Background(), params, slog.Default()))

	// 1 load x 2 pause modes x 2 directions = 4 runs, evenly split between
	// (cap_from=600,cap_to=1000) "up" and (cap_from=1000,cap_to=600) "down".
	upCount, err := r.store.CountTestRecords(context.Background(), 600, 1000)
	require.NoError(t, err)
	require.Equal(t, 2, upCount)

	downCount, err := r.store.CountTestRecords(context.Background(), 1000, 600)
	require.NoError(t, err)
	require.Equal(t, 2, downCount)
}

func TestRunCampaignRejectsInvalidParams(t *testing.T) {
	agent := newFakeFirestarterServer(t)
	defer agent.Close()

	r := newTestRunner(t, &fakeBMC{}, agent.URL)

	err := r.RunCampaign(context.Background(), CampaignParams{
		MinLoad: 80, MaxLoad: 80, CapMin: 1000, CapMax: 600, CapDelta: 100,
	}, slog.Default())
	require.Error(t, err)
}
