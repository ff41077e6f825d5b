// Package osexec implements subprocess execution helpers shared by the
// IPMI BMC driver, the agent's system-info collector and its load-generator
// launcher.
package osexec

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

// Run executes cmd with args and waits for it to exit, returning its stdout
// and stderr as separate byte slices. env, if non-nil, is appended to the current process
// environment (callers use this to force LANG=en_US.UTF-8 for deterministic
// tool output).
func Run(ctx context.Context, name string, args []string, env []string) (stdout, stderr []byte, err error) {
	c := exec.CommandContext(ctx, name, args...)
	if env != nil {
		c.Env = append(os.Environ(), env...)
	}

	var outBuf, errBuf pipeBuffer

	c.Stdout = &outBuf
	c.Stderr = &errBuf
	// Run the child in its own process group so that an interrupt delivered
	// to the parent's terminal doesn't also kill it directly; c.Run below
	// waits for it, so it is always reaped before Run returns.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = c.Run()

	return outBuf.Bytes(), errBuf.Bytes(), err
}

// StartDetached starts name with args as a child process whose stdout and
// stderr are redirected to a null sink. It returns immediately without
// waiting for completion; the returned *exec.Cmd can be waited on by the
// caller to observe termination (singleton load-generator launcher, §4.2.2).
func StartDetached(name string, args []string) (*exec.Cmd, error) {
	c := exec.Command(name, args...)

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}

	c.Stdout = devNull
	c.Stderr = devNull
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		devNull.Close()

		return nil, err
	}

	devNull.Close()

	return c, nil
}

// pipeBuffer is a tiny io.Writer that avoids pulling in bytes.Buffer just for
// capturing subprocess output, keeping this package dependency-free.
type pipeBuffer struct {
	data []byte
}

func (b *pipeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)

	return len(p), nil
}

func (b *pipeBuffer) Bytes() []byte {
	return b.data
}
