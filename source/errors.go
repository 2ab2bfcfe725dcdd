// Package source provides sentinel errors for repository operations.
// All errors can be checked using errors.Is() for programmatic handling.
package source

import (
	"errors"
	"fmt"
)

// ErrTagMissing is returned when a referenced tag does not exist.
var ErrTagMissing = errors.New("tag does not exist")

// ErrInvalidRef is returned when a reference name or revision specification
// is malformed.
var ErrInvalidRef = errors.New("invalid reference")

// ErrResolveFailed is returned when a revision cannot be resolved to a commit.
var ErrResolveFailed = errors.New("cannot resolve revision")

// ErrNoReleases is returned when no prior release tag exists in the repository.
var ErrNoReleases = errors.New("no release tags")

// wrapError wraps an error with context while preserving errors.Is checks.
func wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
