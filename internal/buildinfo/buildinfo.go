// Package buildinfo reports host and runtime facts alongside version info at
// process startup, adapted from ceems' internal/runtime.
package buildinfo

import (
	"fmt"
	"math"
	"syscall"

	"golang.org/x/sys/unix"
)

var unlimited uint64 = syscall.RLIM_INFINITY & math.MaxUint64

// Uname returns the uname of the host machine.
func Uname() string {
	buf := unix.Utsname{}

	if err := unix.Uname(&buf); err != nil {
		return "(unknown)"
	}

	return "(" + unix.ByteSliceToString(buf.Sysname[:]) +
		" " + unix.ByteSliceToString(buf.Release[:]) +
		" " + unix.ByteSliceToString(buf.Version[:]) +
		" " + unix.ByteSliceToString(buf.Machine[:]) +
		" " + unix.ByteSliceToString(buf.Nodename[:]) + ")"
}

func limitToString(v uint64, unit string) string {
	if v == unlimited {
		return "unlimited"
	}

	return fmt.Sprintf("%d%s", v, unit)
}

// FdLimits returns the soft and hard limits for open file descriptors,
// relevant here because the collector and runner share one SQLite
// connection and each hold their own BMC client for the lifetime of a
// campaign.
func FdLimits() string {
	rlimit := syscall.Rlimit{}

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return "(unknown)"
	}

	return fmt.Sprintf("(soft=%s, hard=%s)", limitToString(rlimit.Cur, ""), limitToString(rlimit.Max, ""))
}
