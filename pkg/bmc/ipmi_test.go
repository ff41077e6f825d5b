package bmc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyedOutput(t *testing.T) {
	raw := []byte("Current Limit State : No Active Power Limit\n" +
		"Exception actions   : Hard Power Off\n" +
		"Power Limit         : 400 Watts\n" +
		"garbage line with no colon\n" +
		"Sampling period      : 1 seconds\n" +
		"Repeated Key: first\n" +
		"Repeated Key: second\n")

	fields := parseKeyedOutput(raw)

	assert.Equal(t, "No Active Power Limit", fields["Current Limit State"])
	assert.Equal(t, "Hard Power Off", fields["Exception actions"])
	assert.Equal(t, "400 Watts", fields["Power Limit"])
	assert.Equal(t, "1 seconds", fields["Sampling period"])
	assert.Equal(t, "second", fields["Repeated Key"]) // last value wins
	assert.NotContains(t, fields, "garbage line with no colon")
}

// newFakeIPMITool writes a tiny shell script standing in for ipmitool, whose
// behavior is driven entirely by the verb it is invoked with. This exercises
// the real subprocess path (internal/osexec.Run) rather than mocking it.
func newFakeIPMITool(t *testing.T, script string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "ipmitool")

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)) //nolint:gosec

	return path
}

func TestIPMICurrentPower(t *testing.T) {
	tool := newFakeIPMITool(t, `
case "$*" in
  *"power reading"*)
    echo "Instantaneous power reading:        305 Watts"
    ;;
esac
`)

	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: tool}

	watts, err := c.CurrentPower(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 305, watts)
}

func TestIPMICurrentCapLevelNotSet(t *testing.T) {
	tool := newFakeIPMITool(t, `
case "$*" in
  *"get_limit"*)
    echo "Current Limit State          : No Active Power Limit"
    echo "Exception actions            : Hard Power Off"
    ;;
esac
`)

	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: tool}

	cap, err := c.CurrentCapLevel(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cap)
}

func TestIPMICurrentCapLevelSet(t *testing.T) {
	tool := newFakeIPMITool(t, `
case "$*" in
  *"get_limit"*)
    echo "Current Limit State          : Power Limit Active"
    echo "Power Limit                  : 450 Watts"
    ;;
esac
`)

	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: tool}

	cap, err := c.CurrentCapLevel(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cap)
	assert.Equal(t, 450, *cap)
}

func TestIPMISetCapLevelRejectsNonPositive(t *testing.T) {
	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: "/bin/true"}

	err := c.SetCapLevel(context.Background(), 0)
	assert.ErrorIs(t, err, ErrParse)
}

func TestIPMIStderrIsTreatedAsFailure(t *testing.T) {
	tool := newFakeIPMITool(t, `echo "warning: something noisy" 1>&2`)

	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: tool}

	_, err := c.CurrentPower(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestIPMIActivateDeactivateCapping(t *testing.T) {
	tool := newFakeIPMITool(t, `exit 0`)

	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: tool}

	assert.NoError(t, c.ActivateCapping(context.Background()))
	assert.NoError(t, c.DeactivateCapping(context.Background()))
}

func TestIPMIConnectDisconnectAreNoops(t *testing.T) {
	c := &ipmiClient{host: "bmc0", user: "admin", password: "secret", toolPath: "/bin/true"}

	assert.NoError(t, c.Connect(context.Background()))
	assert.NoError(t, c.Disconnect(context.Background()))
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestNewRequiresIPMIToolPathForIPMIKind(t *testing.T) {
	_, err := New(Config{Kind: IPMI, Host: "bmc0"})
	assert.ErrorIs(t, err, ErrAuth)
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Config{Kind: "bogus"})
	assert.Error(t, err)
}
