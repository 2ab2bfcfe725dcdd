// Package archive provides tar.gz packing and unpacking over the relay
// filesystem abstraction. The dependency cache stores environments as
// archives, and the OCI publish target bundles the dist directory with it.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgekit/relay/fs"
)

// MediaType identifies relay tar.gz bundles in OCI manifests.
const MediaType = "application/vnd.relay.bundle.tar+gzip"

// ExtractOptions bounds extraction to protect against hostile archives.
type ExtractOptions struct {
	// MaxFiles caps the number of entries extracted. Zero means DefaultMaxFiles.
	MaxFiles int

	// MaxSize caps the total decompressed size in bytes. Zero means DefaultMaxSize.
	MaxSize int64

	// MaxFileSize caps a single decompressed file. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// Extraction safety defaults. Cached environments can be large but bounded.
const (
	DefaultMaxFiles    = 250_000
	DefaultMaxSize     = 8 << 30 // 8 GiB
	DefaultMaxFileSize = 2 << 30 // 2 GiB
)

// TarGz archives directories to tar.gz streams and extracts them back.
type TarGz struct {
	fs fs.Filesystem
}

// New creates a TarGz operating on the given filesystem.
func New(fsys fs.Filesystem) *TarGz {
	return &TarGz{fs: fsys}
}

// Archive writes sourceDir as a tar.gz stream to w. Entry names are relative
// to sourceDir so extraction reproduces the directory contents in place.
func (a *TarGz) Archive(ctx context.Context, sourceDir string, w io.Writer) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	err := a.fs.Walk(sourceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk %s: %w", path, walkErr)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == sourceDir {
			return nil
		}

		rel, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			return fmt.Errorf("relative path for %s: %w", path, relErr)
		}
		name := filepath.ToSlash(rel)

		header, hdrErr := tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return fmt.Errorf("header for %s: %w", path, hdrErr)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}

		if writeErr := tw.WriteHeader(header); writeErr != nil {
			return fmt.Errorf("write header for %s: %w", name, writeErr)
		}
		if info.IsDir() {
			return nil
		}

		f, openErr := a.fs.Open(path)
		if openErr != nil {
			return fmt.Errorf("open %s: %w", path, openErr)
		}
		defer f.Close()

		if _, copyErr := io.Copy(tw, f); copyErr != nil {
			return fmt.Errorf("copy %s: %w", name, copyErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", sourceDir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return nil
}

// Extract unpacks a tar.gz stream into targetDir, which is created if needed.
// Entries escaping targetDir or exceeding the configured limits abort the
// extraction with an error.
func (a *TarGz) Extract(ctx context.Context, r io.Reader, targetDir string, opts ExtractOptions) error {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	gr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gr.Close()

	if err := a.fs.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	tr := tar.NewReader(gr)
	var fileCount int
	var totalSize int64

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		header, readErr := tr.Next()
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read tar entry: %w", readErr)
		}

		dest, safeErr := safeJoin(targetDir, header.Name)
		if safeErr != nil {
			return safeErr
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := a.fs.MkdirAll(dest, os.FileMode(header.Mode)&os.ModePerm); err != nil {
				return fmt.Errorf("create directory %s: %w", dest, err)
			}

		case tar.TypeReg:
			fileCount++
			if fileCount > opts.MaxFiles {
				return fmt.Errorf("archive exceeds file limit of %d entries", opts.MaxFiles)
			}
			if header.Size > opts.MaxFileSize {
				return fmt.Errorf("entry %s exceeds file size limit", header.Name)
			}
			totalSize += header.Size
			if totalSize > opts.MaxSize {
				return fmt.Errorf("archive exceeds total size limit")
			}

			if err := a.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create parent for %s: %w", dest, err)
			}
			f, openErr := a.fs.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&os.ModePerm)
			if openErr != nil {
				return fmt.Errorf("create %s: %w", dest, openErr)
			}
			// LimitReader guards against a header lying about its size.
			if _, copyErr := io.Copy(f, io.LimitReader(tr, opts.MaxFileSize+1)); copyErr != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", dest, copyErr)
			}
			if closeErr := f.Close(); closeErr != nil {
				return fmt.Errorf("close %s: %w", dest, closeErr)
			}

		default:
			// Symlinks and special files are not expected in cached
			// environments or dist directories; skip them.
			continue
		}
	}
}

// safeJoin joins name under root and rejects path traversal.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the target directory", name)
	}
	return filepath.Join(root, cleaned), nil
}
