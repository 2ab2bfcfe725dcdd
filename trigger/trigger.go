// Package trigger evaluates the events that may start a release run.
// A run starts on a manual dispatch or on a tag push whose tag matches the
// three-part numeric version pattern. Everything else is a silent no-op.
package trigger

import (
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/forgekit/relay/errors"
)

// versionTagPattern admits tags of the form v<major>.<minor>.<patch> with
// purely numeric segments. Pre-release and build metadata are not release
// tags and do not start a run.
var versionTagPattern = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

// Kind discriminates the supported event kinds.
type Kind string

const (
	// KindDispatch is a manual invocation by an operator. It carries no tag
	// and releases the current source state.
	KindDispatch Kind = "dispatch"

	// KindTagPush is a source-control push event carrying a tag name.
	KindTagPush Kind = "tag-push"
)

// Event is an external signal presented to the evaluator.
type Event struct {
	Kind Kind

	// Tag is the pushed tag name. Only meaningful for KindTagPush.
	Tag string
}

// Admission is the evaluator's verdict on an event.
type Admission struct {
	// Admitted reports whether the event starts a pipeline run.
	Admitted bool

	// Kind echoes the kind of the evaluated event.
	Kind Kind

	// Reason explains a rejection in operator terms. Empty when admitted.
	Reason string

	// Version is the parsed release version for admitted tag pushes.
	// Nil for manual dispatches.
	Version *semver.Version

	// Tag echoes the admitted tag, empty for dispatches.
	Tag string
}

// Evaluate decides whether an event qualifies to start exactly one run.
// Rejection is not an error condition (the pipeline simply does not run);
// errors are reserved for malformed events.
func Evaluate(event Event) (Admission, error) {
	switch event.Kind {
	case KindDispatch:
		// Manual dispatch always runs, using the current source state.
		return Admission{Admitted: true, Kind: KindDispatch}, nil

	case KindTagPush:
		if event.Tag == "" {
			return Admission{}, errors.New(errors.CodeInvalidInput, "tag push event without a tag")
		}
		if !versionTagPattern.MatchString(event.Tag) {
			return Admission{
				Kind:   KindTagPush,
				Reason: "tag does not match the release version pattern vX.Y.Z",
			}, nil
		}
		version, err := semver.NewVersion(event.Tag)
		if err != nil {
			// Pattern match guarantees parseability; treat a failure as internal.
			return Admission{}, errors.Wrapf(err, errors.CodeInternal, "parse version from tag %q", event.Tag)
		}
		return Admission{Admitted: true, Kind: KindTagPush, Version: version, Tag: event.Tag}, nil

	default:
		return Admission{}, errors.Newf(errors.CodeInvalidInput, "unknown event kind %q", event.Kind)
	}
}

// IsReleaseTag reports whether name matches the release version pattern.
// Used when scanning repository tags for prior releases.
func IsReleaseTag(name string) bool {
	return versionTagPattern.MatchString(name)
}
