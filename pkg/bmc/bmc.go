// Package bmc implements a uniform contract over the two baseboard
// management controller back-ends this harness drives: a local ipmitool
// subprocess speaking DCMI, and a session-authenticated Redfish HTTPS API.
package bmc

import (
	"context"
	"errors"
	"fmt"
)

// Kind selects which back-end New constructs.
type Kind string

// Supported BMC kinds.
const (
	IPMI    Kind = "ipmi"
	Redfish Kind = "redfish"
)

// Error kinds per spec §7. Callers use errors.Is against these sentinels;
// concrete errors returned by the drivers wrap one of them.
var (
	// ErrAuth indicates the BMC refused authentication/session establishment. Fatal.
	ErrAuth = errors.New("bmc: authentication failed")
	// ErrTransport indicates a subprocess or HTTP I/O failure. Fatal during
	// runner campaign execution; skipped-and-logged in the collector loop.
	ErrTransport = errors.New("bmc: transport failure")
	// ErrParse indicates the BMC returned output in an unexpected shape. Fatal
	// during runner campaign execution; skipped-and-logged in the collector loop.
	ErrParse = errors.New("bmc: unexpected response shape")
	// ErrUnsupported indicates an optional action (Redfish LimitTrigger) is not
	// implemented by this BMC. Non-fatal: callers treat it as success.
	ErrUnsupported = errors.New("bmc: action not supported by this bmc")
)

// Config is the immutable 4-tuple identifying a BMC endpoint (spec §3).
type Config struct {
	Host     string
	User     string
	Password string
	Kind     Kind

	// IPMIToolPath is the absolute path to the ipmitool binary. Required only
	// when Kind == IPMI.
	IPMIToolPath string

	// Insecure disables TLS certificate verification for the Redfish
	// back-end. This is a lab tool talking to appliance BMCs (spec §4.1.2);
	// it is never appropriate outside that context.
	Insecure bool
}

// Client is the uniform BMC contract (spec §4.1). Every operation performs
// I/O and is exposed as a plain method returning a value and a possible
// error — never as a property/getter that hides the network or subprocess
// call (spec §9 design note).
type Client interface {
	// Connect establishes a session if the back-end requires one. A no-op
	// for IPMI. Fatal on auth/transport failure.
	Connect(ctx context.Context) error

	// Disconnect releases any session. Best-effort, idempotent: calling it
	// twice never returns an error.
	Disconnect(ctx context.Context) error

	// CurrentPower returns the instantaneous power draw in watts (> 0).
	CurrentPower(ctx context.Context) (int, error)

	// CurrentCapLevel returns the active power cap in watts, or nil if no
	// cap is currently set. Note: the IPMI and Redfish back-ends diverge
	// here (spec §9 open question) — IPMI distinguishes "not set" (nil)
	// from "0 W", while Redfish returns 0 for "not set". This
	// implementation preserves that divergence rather than normalising it.
	CurrentCapLevel(ctx context.Context) (*int, error)

	// SetCapLevel sets the power cap to watts W (> 0).
	SetCapLevel(ctx context.Context, watts int) error

	// ActivateCapping enables enforcement of the configured cap. Returns nil
	// (not ErrUnsupported) when the BMC doesn't implement the action — the
	// caller cannot and need not distinguish the two.
	ActivateCapping(ctx context.Context) error

	// DeactivateCapping disables enforcement of the configured cap. Same
	// not-supported-is-success contract as ActivateCapping.
	DeactivateCapping(ctx context.Context) error
}

// New dispatches to the requested back-end by Kind. No inheritance
// hierarchy is used (spec §9) — Kind selects a constructor.
func New(cfg Config) (Client, error) {
	switch cfg.Kind {
	case IPMI:
		return newIPMIClient(cfg)
	case Redfish:
		return newRedfishClient(cfg)
	default:
		return nil, fmt.Errorf("bmc: unknown kind %q", cfg.Kind)
	}
}
