package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// IsCompatible reports whether a configuration written against
// userVersion can be loaded by this schema. Compatibility follows the
// caret constraint, so for a 0.x schema only patch differences are
// accepted.
func IsCompatible(userVersion string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + SchemaVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version: %w", err)
	}

	v, err := semver.NewVersion(userVersion)
	if err != nil {
		return false, fmt.Errorf("invalid configuration version %q: %w", userVersion, err)
	}

	return constraint.Check(v), nil
}
