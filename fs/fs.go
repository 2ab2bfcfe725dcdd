// Package fs defines the native filesystem abstraction used across relay.
// All pipeline components operate through Filesystem so they can run against
// the real OS filesystem or an in-memory one in tests.
package fs

import (
	"io/fs"
	"os"
	"path/filepath"
)

// File represents an open file handle supporting basic I/O operations.
// Implementations should behave consistently with the standard library.
type File interface {
	Close() error
	Name() string
	Read(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Stat() (fs.FileInfo, error)
	Write(p []byte) (n int, err error)
}

// Filesystem is the set of filesystem operations the pipeline needs.
// Paths follow filepath semantics of the backing implementation.
type Filesystem interface {
	// Create creates or truncates the named file for writing.
	Create(name string) (File, error)

	// Open opens the named file for reading.
	Open(name string) (File, error)

	// OpenFile opens the named file with the given flag and permissions.
	OpenFile(name string, flag int, perm os.FileMode) (File, error)

	// Exists reports whether the named path exists.
	Exists(path string) (bool, error)

	// Stat returns file info for the named path.
	Stat(name string) (os.FileInfo, error)

	// MkdirAll creates the named directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error

	// ReadDir lists the entries of the named directory.
	ReadDir(dirname string) ([]os.FileInfo, error)

	// ReadFile reads the entire named file.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(filename string, data []byte, perm os.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Rename renames oldpath to newpath.
	Rename(oldpath, newpath string) error

	// TempDir creates a new unique temporary directory under dir.
	TempDir(dir, prefix string) (string, error)

	// Walk walks the file tree rooted at root.
	Walk(root string, walkFn filepath.WalkFunc) error
}

// RemoveAll removes path and everything below it, best-effort.
// Files are deleted before their parent directories.
func RemoveAll(fsys Filesystem, root string) error {
	var toDelete []string
	_ = fsys.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		toDelete = append(toDelete, path)
		return nil
	})
	// deepest paths first
	for i := len(toDelete) - 1; i >= 0; i-- {
		_ = fsys.Remove(toDelete[i])
	}
	return nil
}
