package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrIncompatibleHost is returned when the host version does not satisfy the
// configured constraint.
var ErrIncompatibleHost = errors.New("incompatible host version")

// CheckVersion verifies version against constraint. An empty constraint
// accepts anything.
func CheckVersion(version, constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("failed to parse version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion("v" + strings.TrimPrefix(strings.TrimSpace(version), "v"))
	if err != nil {
		return fmt.Errorf("%w: cannot parse host version %q", ErrIncompatibleHost, version)
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleHost, v, constraint)
	}
	return nil
}
