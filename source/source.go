// Package source wraps go-git behind the task-oriented operations the
// pipeline needs: open or clone a repository, check out the released tag,
// and read tag and commit history. All repository state lives within the
// relay filesystem abstraction so tests run against in-memory repos.
package source

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gogitcache "github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"

	fsbilly "github.com/forgekit/relay/fs/billy"
	"github.com/forgekit/relay/secrets"
)

// Repo is an open repository with a worktree.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
}

// CloneOptions configures Clone.
type CloneOptions struct {
	// URL is the remote repository URL.
	URL string

	// Depth, when > 0, makes the clone shallow. Ephemeral release workers
	// rarely need full history.
	Depth int

	// Token optionally authenticates HTTPS remotes.
	Token secrets.Value
}

// Open opens an existing repository whose worktree is rooted at workdir
// within the given filesystem.
func Open(fsys *fsbilly.FS, workdir string) (*Repo, error) {
	wt, err := fsys.Raw().Chroot(workdir)
	if err != nil {
		return nil, wrapError(err, "chroot worktree")
	}
	dot, err := wt.Chroot(git.GitDirName)
	if err != nil {
		return nil, wrapError(err, "chroot git directory")
	}

	storer := filesystem.NewStorage(dot, gogitcache.NewObjectLRUDefault())
	repo, err := git.Open(storer, wt)
	if err != nil {
		return nil, wrapError(err, "open repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, wrapError(err, "open worktree")
	}
	return &Repo{repo: repo, worktree: worktree}, nil
}

// Init creates a new repository at workdir. Used by tests and fixtures.
func Init(fsys *fsbilly.FS, workdir string) (*Repo, error) {
	if err := fsys.MkdirAll(workdir, 0o755); err != nil {
		return nil, wrapError(err, "create worktree directory")
	}
	wt, err := fsys.Raw().Chroot(workdir)
	if err != nil {
		return nil, wrapError(err, "chroot worktree")
	}
	dot, err := wt.Chroot(git.GitDirName)
	if err != nil {
		return nil, wrapError(err, "chroot git directory")
	}

	storer := filesystem.NewStorage(dot, gogitcache.NewObjectLRUDefault())
	repo, err := git.Init(storer, wt)
	if err != nil {
		return nil, wrapError(err, "init repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, wrapError(err, "open worktree")
	}
	return &Repo{repo: repo, worktree: worktree}, nil
}

// Clone clones a remote repository into workdir within the given filesystem.
// Context timeout/cancellation is honored during the transfer.
func Clone(ctx context.Context, fsys *fsbilly.FS, workdir string, opts CloneOptions) (*Repo, error) {
	if opts.URL == "" {
		return nil, wrapError(ErrInvalidRef, "clone URL cannot be empty")
	}
	if err := fsys.MkdirAll(workdir, 0o755); err != nil {
		return nil, wrapError(err, "create worktree directory")
	}
	wt, err := fsys.Raw().Chroot(workdir)
	if err != nil {
		return nil, wrapError(err, "chroot worktree")
	}
	dot, err := wt.Chroot(git.GitDirName)
	if err != nil {
		return nil, wrapError(err, "chroot git directory")
	}

	cloneOpts := &git.CloneOptions{
		URL:   opts.URL,
		Depth: opts.Depth,
	}
	if !opts.Token.IsZero() {
		cloneOpts.Auth = &http.BasicAuth{Username: "token", Password: opts.Token.Reveal()}
	}

	storer := filesystem.NewStorage(dot, gogitcache.NewObjectLRUDefault())
	repo, err := git.CloneContext(ctx, storer, wt, cloneOpts)
	if err != nil {
		return nil, wrapError(err, "clone repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, wrapError(err, "open worktree")
	}
	return &Repo{repo: repo, worktree: worktree}, nil
}

// Checkout moves the worktree to the commit the tag points at.
func (r *Repo) Checkout(ctx context.Context, tag string) error {
	hash, err := r.ResolveTag(tag)
	if err != nil {
		return err
	}
	if err := r.worktree.Checkout(&git.CheckoutOptions{Hash: hash}); err != nil {
		return wrapError(err, "checkout tag commit")
	}
	return nil
}

// ResolveTag resolves a tag name to the commit hash it points at.
// Returns ErrTagMissing when the tag does not exist.
func (r *Repo) ResolveTag(tag string) (plumbing.Hash, error) {
	if tag == "" {
		return plumbing.ZeroHash, wrapError(ErrInvalidRef, "tag name cannot be empty")
	}
	if _, err := r.repo.Reference(plumbing.NewTagReferenceName(tag), true); err != nil {
		return plumbing.ZeroHash, wrapError(ErrTagMissing, "resolve tag "+tag)
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(tag))
	if err != nil {
		return plumbing.ZeroHash, wrapError(ErrResolveFailed, "resolve tag "+tag)
	}
	return *hash, nil
}

// Head returns the commit hash the worktree currently points at.
func (r *Repo) Head() (plumbing.Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, wrapError(err, "read HEAD")
	}
	return ref.Hash(), nil
}
