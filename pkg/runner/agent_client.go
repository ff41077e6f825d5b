package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ceems-dev/pcapbench/pkg/store"
)

// agentClient is the runner's thin HTTP client for the SUT agent's
// /firestarter endpoint (spec §4.4.1, §6.1).
type agentClient struct {
	baseURL string
	client  *http.Client
}

// newAgentClient normalises url to carry an http(s) scheme, matching the
// original Python driver's `agent_url if agent_url.startswith('http') else
// f'http://{agent_url}'` convenience (original_source/runner/src/Runner.py).
func newAgentClient(url string, client *http.Client) *agentClient {
	if client == nil {
		client = http.DefaultClient
	}

	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}

	return &agentClient{baseURL: url, client: client}
}

// launchFirestarter POSTs a load-generator job to the agent. A 409 response
// (a previous job still running) is returned as success, exactly like a 202,
// so the trajectory continues on its own schedule; it is not logged — the
// original driver likewise tolerates a missed launch.
func (a *agentClient) launchFirestarter(ctx context.Context, pctLoad, nThreads, runtimeSecs int) error {
	body, err := json.Marshal(map[string]int{
		"runtime_secs": runtimeSecs,
		"pct_load":     pctLoad,
		"n_threads":    nThreads,
	})
	if err != nil {
		return fmt.Errorf("runner: encoding firestarter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/firestarter", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("runner: building firestarter request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("runner: posting firestarter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("runner: firestarter request returned status %d", resp.StatusCode)
	}

	return nil
}

// fetchSystemInfo GETs /system_info from the agent (spec §4.2.3, §6.1),
// called once at runner startup to populate the store's single system_info
// row (spec §3).
func (a *agentClient) fetchSystemInfo(ctx context.Context) (store.SystemInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/system_info", nil)
	if err != nil {
		return store.SystemInfo{}, fmt.Errorf("runner: building system_info request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return store.SystemInfo{}, fmt.Errorf("runner: requesting /system_info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.SystemInfo{}, fmt.Errorf("runner: /system_info returned status %d", resp.StatusCode)
	}

	var info store.SystemInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return store.SystemInfo{}, fmt.Errorf("runner: decoding /system_info response: %w", err)
	}

	return info, nil
}
