package archive_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/relay/archive"
	"github.com/forgekit/relay/fs/billy"
)

func TestArchiveExtractRoundTrip(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.MkdirAll("venv/lib/python3.12", 0o755))
	require.NoError(t, fsys.WriteFile("venv/pyvenv.cfg", []byte("home = /usr/bin"), 0o644))
	require.NoError(t, fsys.WriteFile("venv/lib/python3.12/site.py", []byte("# site module"), 0o644))

	targz := archive.New(fsys)

	var buf bytes.Buffer
	require.NoError(t, targz.Archive(context.Background(), "venv", &buf))

	require.NoError(t, targz.Extract(context.Background(), &buf, "restored", archive.ExtractOptions{}))

	cfg, err := fsys.ReadFile("restored/pyvenv.cfg")
	require.NoError(t, err)
	assert.Equal(t, []byte("home = /usr/bin"), cfg)

	site, err := fsys.ReadFile("restored/lib/python3.12/site.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("# site module"), site)
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../escape.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     4,
	}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	fsys := billy.NewInMemoryFS()
	err = archive.New(fsys).Extract(context.Background(), &buf, "target", archive.ExtractOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestExtractEnforcesFileLimit(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.MkdirAll("src", 0o755))
	require.NoError(t, fsys.WriteFile("src/a.txt", []byte("a"), 0o644))
	require.NoError(t, fsys.WriteFile("src/b.txt", []byte("b"), 0o644))

	targz := archive.New(fsys)
	var buf bytes.Buffer
	require.NoError(t, targz.Archive(context.Background(), "src", &buf))

	err := targz.Extract(context.Background(), &buf, "out", archive.ExtractOptions{MaxFiles: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file limit")
}

func TestExtractEnforcesSizeLimit(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.MkdirAll("src", 0o755))
	require.NoError(t, fsys.WriteFile("src/big.bin", bytes.Repeat([]byte("x"), 1024), 0o644))

	targz := archive.New(fsys)
	var buf bytes.Buffer
	require.NoError(t, targz.Archive(context.Background(), "src", &buf))

	err := targz.Extract(context.Background(), &buf, "out", archive.ExtractOptions{MaxSize: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size limit")
}

func TestExtractInvalidStream(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	err := archive.New(fsys).Extract(context.Background(), bytes.NewReader([]byte("not gzip")), "out", archive.ExtractOptions{})
	assert.Error(t, err)
}
