package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ceems-dev/pcapbench/pkg/bmc"
	"github.com/ceems-dev/pcapbench/pkg/store"
	"github.com/stretchr/testify/require"
)

// fakeBMC is an in-memory bmc.Client double for collector tests.
type fakeBMC struct {
	power int
	cap   *int
	err   error
}

func (f *fakeBMC) Connect(context.Context) error    { return nil }
func (f *fakeBMC) Disconnect(context.Context) error { return nil }

func (f *fakeBMC) CurrentPower(context.Context) (int, error) {
	return f.power, f.err
}

func (f *fakeBMC) CurrentCapLevel(context.Context) (*int, error) {
	return f.cap, f.err
}

func (f *fakeBMC) SetCapLevel(context.Context, int) error  { return nil }
func (f *fakeBMC) ActivateCapping(context.Context) error   { return nil }
func (f *fakeBMC) DeactivateCapping(context.Context) error { return nil }

var _ bmc.Client = (*fakeBMC)(nil)

func newFakeAgent(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"package-0": 42.5, "package-1": 10.2}) //nolint:errcheck
	}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() }) //nolint:errcheck

	return s
}

func TestCollectorTickPersistsBMCAndRAPLSamples(t *testing.T) {
	agent := newFakeAgent(t)
	defer agent.Close()

	st := newTestStore(t)
	cap := 500

	c := New(Config{
		BMC:      &fakeBMC{power: 300, cap: &cap},
		AgentURL: agent.URL,
		Store:    st,
		Logger:   slog.Default(),
	})

	now := time.Now().UTC()
	c.tick(context.Background(), now)

	n, err := st.CountBMCSamplesBetween(context.Background(), now.Add(-time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCollectorTickSkipsOnBMCFailure(t *testing.T) {
	agent := newFakeAgent(t)
	defer agent.Close()

	st := newTestStore(t)

	c := New(Config{
		BMC:      &fakeBMC{err: context.DeadlineExceeded},
		AgentURL: agent.URL,
		Store:    st,
		Logger:   slog.Default(),
	})

	now := time.Now().UTC()
	c.tick(context.Background(), now)

	n, err := st.CountBMCSamplesBetween(context.Background(), now.Add(-time.Second), now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCollectorRunStopsOnStopChannel(t *testing.T) {
	agent := newFakeAgent(t)
	defer agent.Close()

	st := newTestStore(t)
	cap := 500

	c := New(Config{
		BMC:      &fakeBMC{power: 300, cap: &cap},
		AgentURL: agent.URL,
		Store:    st,
		Logger:   slog.Default(),
		Freq:     10,
	})

	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), stop)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop after stop signal")
	}

	n, err := st.CountBMCSamplesBetween(context.Background(), time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Greater(t, n, 0)
}
