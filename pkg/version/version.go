// Package version provides IPC protocol version negotiation between client and server.
package version

import (
	"fmt"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "version:version"

// Protocol is the IPC wire protocol version spoken by this module.
const Protocol = "1.0.0"

// Compatible checks whether a peer advertising remote can talk to this side.
// An empty remote is accepted for peers that predate version negotiation.
// Versions are compatible when they share the same major.
func Compatible(remote string) error {
	if remote == "" {
		return nil
	}
	v, err := masterminds.NewVersion(remote)
	if err != nil {
		return fmt.Errorf("%s - invalid protocol version %q: %w", logPrefix, remote, err)
	}
	c, err := Constraint()
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%s - protocol version %s does not satisfy %s", logPrefix, v, c)
	}
	return nil
}

// Constraint returns the range of versions this side accepts.
func Constraint() (*masterminds.Constraints, error) {
	local := masterminds.MustParse(Protocol)
	c, err := masterminds.NewConstraint(fmt.Sprintf("^%d.0.0-0", local.Major()))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build constraint: %w", logPrefix, err)
	}
	return c, nil
}
