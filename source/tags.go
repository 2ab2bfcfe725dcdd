package source

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/forgekit/relay/trigger"
)

// TagFilter is a predicate for filtering tags. A tag must pass all filters
// to be included.
type TagFilter func(name string, ref *plumbing.Reference) bool

// Tags returns the tags that pass all provided filters, sorted alphabetically.
func (r *Repo) Tags(filters ...TagFilter) ([]string, error) {
	refs, err := r.repo.References()
	if err != nil {
		return nil, wrapError(err, "list references")
	}

	var tags []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsTag() {
			return nil
		}
		name := ref.Name().Short()
		for _, filter := range filters {
			if !filter(name, ref) {
				return nil
			}
		}
		tags = append(tags, name)
		return nil
	})
	if err != nil {
		return nil, wrapError(err, "iterate references")
	}

	sort.Strings(tags)
	return tags, nil
}

// ReleaseTags returns the repository's release tags (vX.Y.Z) in ascending
// version order.
func (r *Repo) ReleaseTags() ([]string, error) {
	tags, err := r.Tags(func(name string, _ *plumbing.Reference) bool {
		return trigger.IsReleaseTag(name)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tags, func(i, j int) bool {
		vi := semver.MustParse(tags[i])
		vj := semver.MustParse(tags[j])
		return vi.LessThan(vj)
	})
	return tags, nil
}

// PreviousRelease returns the highest release tag strictly below current.
// Returns ErrNoReleases when no earlier release exists.
func (r *Repo) PreviousRelease(current string) (string, error) {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return "", wrapError(ErrInvalidRef, "parse current version "+current)
	}

	tags, err := r.ReleaseTags()
	if err != nil {
		return "", err
	}

	previous := ""
	for _, tag := range tags {
		v := semver.MustParse(tag)
		if v.LessThan(cur) {
			previous = tag
		}
	}
	if previous == "" {
		return "", ErrNoReleases
	}
	return previous, nil
}
