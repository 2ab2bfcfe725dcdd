package source

import (
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Add stages the named path.
func (r *Repo) Add(path string) error {
	if _, err := r.worktree.Add(path); err != nil {
		return wrapError(err, "stage "+path)
	}
	return nil
}

// Commit records the staged changes and returns the new commit hash.
func (r *Repo) Commit(message string) (plumbing.Hash, error) {
	hash, err := r.worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "relay",
			Email: "relay@forgekit",
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, wrapError(err, "commit")
	}
	return hash, nil
}

// CreateTag creates a tag at the given target revision. An annotated tag is
// created when message is non-empty, a lightweight tag otherwise.
func (r *Repo) CreateTag(name, target, message string) error {
	if name == "" {
		return wrapError(ErrInvalidRef, "tag name cannot be empty")
	}
	if target == "" {
		target = "HEAD"
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(target))
	if err != nil {
		return wrapError(ErrResolveFailed, "resolve target revision")
	}

	if message != "" {
		_, err = r.repo.CreateTag(name, *hash, &git.CreateTagOptions{
			Tagger: &object.Signature{
				Name:  "relay",
				Email: "relay@forgekit",
				When:  time.Now(),
			},
			Message: message,
		})
		if err != nil {
			return wrapError(err, "create annotated tag")
		}
		return nil
	}

	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), *hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return wrapError(err, "create lightweight tag")
	}
	return nil
}
