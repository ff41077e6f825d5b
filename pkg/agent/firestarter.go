package agent

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ceems-dev/pcapbench/internal/osexec"
)

// ErrFirestarterRunning is returned by launch when a prior load-generator job
// is still alive (spec §4.2.2, §6.1 409 response).
var ErrFirestarterRunning = errors.New("agent: firestarter already running")

// firestarterLauncher enforces the "at most one subprocess alive" rule. done
// is nil whenever no job has ever been launched; once non-nil it is closed
// by the reaper goroutine on process exit, so a closed-channel check (never
// a direct read of cmd.ProcessState, which the reaper goroutine mutates
// concurrently) is the liveness test — matching the Design Note in spec §9
// ("pointer non-null and handle not yet reaped" is the actual check, not
// just a nil check).
type firestarterLauncher struct {
	path string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func newFirestarterLauncher(path string) *firestarterLauncher {
	return &firestarterLauncher{path: path}
}

// Launch starts the load generator with the given parameters, or returns
// ErrFirestarterRunning if a previous job hasn't finished yet.
func (f *firestarterLauncher) Launch(runtimeSecs, pctLoad, nThreads int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil && !f.reaped() {
		return ErrFirestarterRunning
	}

	args := []string{
		"--quiet",
		"--timeout", strconv.Itoa(runtimeSecs),
		"--load", strconv.Itoa(pctLoad),
		"--threads", strconv.Itoa(nThreads),
	}

	cmd, err := osexec.StartDetached(f.path, args)
	if err != nil {
		return fmt.Errorf("agent: launching firestarter: %w", err)
	}

	done := make(chan struct{})
	f.cmd = cmd
	f.done = done

	go f.reap(cmd, done)

	return nil
}

// reaped reports whether the current job's process has already exited. Must
// be called with mu held.
func (f *firestarterLauncher) reaped() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// reap waits for the process to exit so it never becomes a zombie, then
// signals completion. It does not hold mu while waiting, since Wait can
// block for the full job runtime.
func (f *firestarterLauncher) reap(cmd *exec.Cmd, done chan struct{}) {
	cmd.Wait() //nolint:errcheck // exit status is irrelevant to the singleton contract
	close(done)
}
