// Package commsutil provides COMMS (NATS) connection helpers and subject names
// for the IPC transport and event publishing.
package commsutil

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// Role selects connection defaults.
type Role int

const (
	// RoleHost is a long-lived endpoint host. It reconnects indefinitely.
	RoleHost Role = iota
	// RoleCaller is a one-shot caller such as a CLI. It fails fast.
	RoleCaller
)

// ErrDrainTimeout is returned by Drain when in-flight messages did not finish in time.
var ErrDrainTimeout = errors.New("commsutil: drain timed out")

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleCaller:
		return "caller"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// options returns the nats options for a role, without handlers.
func (r Role) options(name string) []comms.Option {
	opts := []comms.Option{comms.Name(name)}
	if r == RoleCaller {
		return append(opts,
			comms.Timeout(5*time.Second),
			comms.NoReconnect(),
		)
	}
	return append(opts,
		comms.Timeout(10*time.Second),
		comms.ReconnectWait(2*time.Second),
		comms.MaxReconnects(-1),
		comms.RetryOnFailedConnect(false),
	)
}

// Connect creates a COMMS connection to the given URL with the defaults for role.
func Connect(url, name string, role Role) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s (%s)", logPrefix, url, name, role))

	opts := append(role.options(name),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Debug(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	)

	nc, err := comms.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS at %s: %w", logPrefix, url, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// Drain lets in-flight requests finish, then closes nc. The connection is
// closed even when draining fails or times out.
func Drain(nc *comms.Conn, timeout time.Duration) error {
	if nc == nil || nc.IsClosed() {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("%s - failed to drain COMMS connection: %w", logPrefix, err)
	}

	deadline := time.Now().Add(timeout)
	for !nc.IsClosed() {
		if time.Now().After(deadline) {
			nc.Close()
			return fmt.Errorf("%s - %w after %s", logPrefix, ErrDrainTimeout, timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}
