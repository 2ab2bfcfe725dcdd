package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/file"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fsbilly "github.com/forgekit/relay/fs/billy"
)

// fixtureRepo creates an in-memory repository with an initial commit.
func fixtureRepo(t *testing.T) (*Repo, *fsbilly.FS) {
	t.Helper()
	fsys := fsbilly.NewInMemoryFS()

	repo, err := Init(fsys, "project")
	require.NoError(t, err)

	require.NoError(t, fsys.WriteFile("project/pyproject.toml", []byte("[project]\nname = \"pkg\"\n"), 0o644))
	require.NoError(t, repo.Add("pyproject.toml"))
	_, err = repo.Commit("chore: initial scaffolding")
	require.NoError(t, err)

	return repo, fsys
}

func commitFile(t *testing.T, repo *Repo, fsys *fsbilly.FS, name, contents, message string) {
	t.Helper()
	require.NoError(t, fsys.WriteFile("project/"+name, []byte(contents), 0o644))
	require.NoError(t, repo.Add(name))
	_, err := repo.Commit(message)
	require.NoError(t, err)
}

func TestInitAndOpen(t *testing.T) {
	_, fsys := fixtureRepo(t)

	reopened, err := Open(fsys, "project")
	require.NoError(t, err)

	head, err := reopened.Head()
	require.NoError(t, err)
	assert.False(t, head.IsZero())
}

func TestResolveTag(t *testing.T) {
	repo, _ := fixtureRepo(t)
	require.NoError(t, repo.CreateTag("v1.0.0", "HEAD", ""))

	hash, err := repo.ResolveTag("v1.0.0")
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, head, hash)
}

func TestResolveMissingTag(t *testing.T) {
	repo, _ := fixtureRepo(t)

	_, err := repo.ResolveTag("v9.9.9")
	assert.ErrorIs(t, err, ErrTagMissing)

	_, err = repo.ResolveTag("")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestCheckoutTag(t *testing.T) {
	repo, fsys := fixtureRepo(t)
	require.NoError(t, repo.CreateTag("v1.0.0", "HEAD", ""))

	commitFile(t, repo, fsys, "new.py", "# added after release", "feat: post-release work")

	require.NoError(t, repo.Checkout(context.Background(), "v1.0.0"))

	exists, err := fsys.Exists("project/new.py")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAnnotatedTag(t *testing.T) {
	repo, _ := fixtureRepo(t)
	require.NoError(t, repo.CreateTag("v1.0.0", "HEAD", "release 1.0.0"))

	hash, err := repo.ResolveTag("v1.0.0")
	require.NoError(t, err)
	assert.False(t, hash.IsZero())
}

func TestReleaseTagsOrderingAndFiltering(t *testing.T) {
	repo, fsys := fixtureRepo(t)
	require.NoError(t, repo.CreateTag("v0.9.0", "HEAD", ""))

	commitFile(t, repo, fsys, "a.py", "# a", "feat: add a")
	require.NoError(t, repo.CreateTag("v0.10.0", "HEAD", ""))
	require.NoError(t, repo.CreateTag("nightly", "HEAD", ""))
	require.NoError(t, repo.CreateTag("v0.10", "HEAD", ""))

	commitFile(t, repo, fsys, "b.py", "# b", "feat: add b")
	require.NoError(t, repo.CreateTag("v1.0.0", "HEAD", ""))

	tags, err := repo.ReleaseTags()
	require.NoError(t, err)
	// Semver ordering, not lexical: v0.9.0 < v0.10.0 < v1.0.0.
	assert.Equal(t, []string{"v0.9.0", "v0.10.0", "v1.0.0"}, tags)
}

func TestPreviousRelease(t *testing.T) {
	repo, fsys := fixtureRepo(t)
	require.NoError(t, repo.CreateTag("v1.0.0", "HEAD", ""))
	commitFile(t, repo, fsys, "a.py", "# a", "feat: add a")
	require.NoError(t, repo.CreateTag("v1.1.0", "HEAD", ""))

	prev, err := repo.PreviousRelease("v1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", prev)

	_, err = repo.PreviousRelease("v1.0.0")
	assert.ErrorIs(t, err, ErrNoReleases)
}

func TestCommitsSince(t *testing.T) {
	repo, fsys := fixtureRepo(t)
	require.NoError(t, repo.CreateTag("v1.0.0", "HEAD", ""))

	commitFile(t, repo, fsys, "a.py", "# a", "feat: add parser")
	commitFile(t, repo, fsys, "b.py", "# b", "fix: handle empty input")

	commits, err := repo.CommitsSince("v1.0.0")
	require.NoError(t, err)
	require.Len(t, commits, 2)

	// Newest first.
	assert.Contains(t, commits[0].Message, "fix: handle empty input")
	assert.Contains(t, commits[1].Message, "feat: add parser")
}

func TestCommitsSinceFullHistory(t *testing.T) {
	repo, fsys := fixtureRepo(t)
	commitFile(t, repo, fsys, "a.py", "# a", "feat: add parser")

	commits, err := repo.CommitsSince("")
	require.NoError(t, err)
	assert.Len(t, commits, 2)
}

func TestCloneFromLocalFixture(t *testing.T) {
	// Serve file:// URLs in process so the clone needs no git binaries.
	client.InstallProtocol("file", server.NewClient(server.NewFilesystemLoader(osfs.New("/"))))
	t.Cleanup(func() { client.InstallProtocol("file", file.DefaultClient) })

	dir := t.TempDir()
	fsys := fsbilly.NewOSFS(dir)

	origin, err := Init(fsys, "origin")
	require.NoError(t, err)
	require.NoError(t, fsys.WriteFile("origin/pyproject.toml", []byte("[project]\nname = \"pkg\"\n"), 0o644))
	require.NoError(t, origin.Add("pyproject.toml"))
	_, err = origin.Commit("chore: initial scaffolding")
	require.NoError(t, err)
	require.NoError(t, origin.CreateTag("v1.0.0", "HEAD", ""))

	// Init never persists a config file, but the in-process file server
	// requires one in the served .git directory to recognize the repo.
	cfg, err := origin.repo.Config()
	require.NoError(t, err)
	require.NoError(t, origin.repo.SetConfig(cfg))

	cloned, err := Clone(context.Background(), fsys, "clone", CloneOptions{
		URL: "file://" + filepath.Join(dir, "origin", ".git"),
	})
	require.NoError(t, err)

	hash, err := cloned.ResolveTag("v1.0.0")
	require.NoError(t, err)
	head, err := origin.Head()
	require.NoError(t, err)
	assert.Equal(t, head, hash)

	data, err := fsys.ReadFile("clone/pyproject.toml")
	require.NoError(t, err)
	assert.Contains(t, string(data), `name = "pkg"`)
}

func TestCloneEmptyURL(t *testing.T) {
	_, err := Clone(context.Background(), fsbilly.NewInMemoryFS(), "clone", CloneOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRef)
}
