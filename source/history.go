package source

import (
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Commit is one entry of repository history.
type Commit struct {
	Hash    string
	Message string
	Author  string
	When    time.Time
}

// CommitsSince returns the commits reachable from HEAD, newest first,
// stopping before the commit the given tag points at. An empty tag returns
// the full history.
func (r *Repo) CommitsSince(tag string) ([]Commit, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, wrapError(err, "read HEAD")
	}

	stop := plumbing.ZeroHash
	if tag != "" {
		stop, err = r.ResolveTag(tag)
		if err != nil {
			return nil, err
		}
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, wrapError(err, "read log")
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if stop != plumbing.ZeroHash && c.Hash == stop {
			return storer.ErrStop
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: c.Message,
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, wrapError(err, "iterate log")
	}
	return commits, nil
}
