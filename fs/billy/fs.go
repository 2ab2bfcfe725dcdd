// Package billy implements the relay filesystem abstraction on top of go-billy.
// It provides OS-rooted and in-memory variants; the latter backs most tests.
package billy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	relayfs "github.com/forgekit/relay/fs"
)

// FS implements fs.Filesystem using go-billy.
type FS struct {
	fs billy.Filesystem
}

// NewFS wraps an existing go-billy filesystem.
func NewFS(fsys billy.Filesystem) *FS {
	return &FS{fs: fsys}
}

// NewInMemoryFS creates a new in-memory filesystem.
func NewInMemoryFS() *FS {
	return &FS{fs: memfs.New()}
}

// NewOSFS creates a filesystem rooted at the given OS path.
func NewOSFS(path string) *FS {
	return &FS{fs: osfs.New(path)}
}

// Raw returns the underlying go-billy filesystem for adapters that need it.
//
//nolint:ireturn // exposing the adapter target is the point of this accessor.
func (b *FS) Raw() billy.Filesystem {
	return b.fs
}

// Create implements fs.Filesystem.
//
//nolint:ireturn // API returns the fs.File interface for flexibility.
func (b *FS) Create(name string) (relayfs.File, error) {
	f, err := b.fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("billy: create %q: %w", name, err)
	}
	return &File{file: f, fs: b}, nil
}

// Open implements fs.Filesystem.
//
//nolint:ireturn // API returns the fs.File interface for flexibility.
func (b *FS) Open(name string) (relayfs.File, error) {
	f, err := b.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("billy: open %q: %w", name, err)
	}
	return &File{file: f, fs: b}, nil
}

// OpenFile implements fs.Filesystem.
//
//nolint:ireturn // API returns the fs.File interface for flexibility.
func (b *FS) OpenFile(name string, flag int, perm os.FileMode) (relayfs.File, error) {
	f, err := b.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("billy: openfile %q: %w", name, err)
	}
	return &File{file: f, fs: b}, nil
}

// Exists implements fs.Filesystem.
func (b *FS) Exists(path string) (bool, error) {
	_, err := b.fs.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("billy: stat %q: %w", path, err)
	}
}

// Stat implements fs.Filesystem.
func (b *FS) Stat(name string) (os.FileInfo, error) {
	info, err := b.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("billy: stat %q: %w", name, err)
	}
	return info, nil
}

// MkdirAll implements fs.Filesystem.
func (b *FS) MkdirAll(path string, perm os.FileMode) error {
	if err := b.fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("billy: mkdirall %q: %w", path, err)
	}
	return nil
}

// ReadDir implements fs.Filesystem.
func (b *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	list, err := b.fs.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("billy: readdir %q: %w", dirname, err)
	}
	return list, nil
}

// ReadFile implements fs.Filesystem.
func (b *FS) ReadFile(path string) ([]byte, error) {
	bts, err := util.ReadFile(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("billy: readfile %q: %w", path, err)
	}
	return bts, nil
}

// WriteFile implements fs.Filesystem.
func (b *FS) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if err := util.WriteFile(b.fs, filename, data, perm); err != nil {
		return fmt.Errorf("billy: writefile %q: %w", filename, err)
	}
	return nil
}

// Remove implements fs.Filesystem.
func (b *FS) Remove(name string) error {
	if err := b.fs.Remove(name); err != nil {
		return fmt.Errorf("billy: remove %q: %w", name, err)
	}
	return nil
}

// Rename implements fs.Filesystem.
func (b *FS) Rename(oldpath, newpath string) error {
	if err := b.fs.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("billy: rename %q -> %q: %w", oldpath, newpath, err)
	}
	return nil
}

// TempDir implements fs.Filesystem.
func (b *FS) TempDir(dir, prefix string) (string, error) {
	name, err := util.TempDir(b.fs, dir, prefix)
	if err != nil {
		return "", fmt.Errorf("billy: tempdir dir=%q prefix=%q: %w", dir, prefix, err)
	}
	return name, nil
}

// Walk implements fs.Filesystem.
func (b *FS) Walk(root string, walkFn filepath.WalkFunc) error {
	if err := util.Walk(b.fs, root, walkFn); err != nil {
		return fmt.Errorf("billy: walk %q: %w", root, err)
	}
	return nil
}
