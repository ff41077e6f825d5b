package agent

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, firestarterSleepSecs string) *Server {
	t.Helper()

	path := newFakeFirestarter(t, firestarterSleepSecs)

	return &Server{
		logger:      slog.Default(),
		firestarter: newFirestarterLauncher(path),
		bmcType:     "redfish",
	}
}

func TestHandleFirestarterAcceptsThenRejects(t *testing.T) {
	s := newTestServer(t, "1")

	body, err := json.Marshal(map[string]int{"runtime_secs": 1, "pct_load": 80, "n_threads": 4})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/firestarter", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleFirestarter(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/firestarter", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	s.handleFirestarter(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)

	var errBody map[string]string
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&errBody))
	require.Equal(t, "Firestarter already running", errBody["error"])
}

func TestHandleFirestarterRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, "0")

	req := httptest.NewRequest(http.MethodPost, "/firestarter", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.handleFirestarter(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSystemInfoReturnsFlatJSON(t *testing.T) {
	s := newTestServer(t, "0")

	req := httptest.NewRequest(http.MethodGet, "/system_info", nil)
	rec := httptest.NewRecorder()
	s.handleSystemInfo(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "redfish", body["bmc_type"])
}

func TestHandleRAPLPowerReadsSyntheticZone(t *testing.T) {
	root := t.TempDir()
	zoneDir := filepath.Join(root, "class", "powercap", "intel-rapl:0")
	require.NoError(t, os.MkdirAll(zoneDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(zoneDir, "name"), []byte("package-0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(zoneDir, "energy_uj"), []byte("1000000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(zoneDir, "max_energy_range_uj"), []byte("262143328850\n"), 0o644))

	rapl, err := newRAPLReader(root, slog.Default())
	require.NoError(t, err)

	s := &Server{logger: slog.Default(), rapl: rapl, bmcType: "ipmi"}

	req := httptest.NewRequest(http.MethodGet, "/rapl_power", nil)
	rec := httptest.NewRecorder()
	s.handleRAPLPower(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var watts map[string]float64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&watts))
	require.Contains(t, watts, "package-0")
	require.GreaterOrEqual(t, watts["package-0"], float64(0))
}
