package runner

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalibrateReportsObservedPowerRange(t *testing.T) {
	agent := newFakeFirestarterServer(t)
	defer agent.Close()

	f := &fakeBMC{}
	r := newTestRunner(t, f, agent.URL)

	result, err := r.Calibrate(context.Background(), 0, slog.Default())
	require.NoError(t, err)
	require.Equal(t, 100, result.MinPowerWatts)
	require.Equal(t, 100, result.MaxPowerWatts)
}
