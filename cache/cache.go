// Package cache implements the cross-run dependency cache. Entries hold an
// archived dependency environment keyed by the content hash of the project's
// lockfile. An entry is immutable once written: an identical lockfile reuses
// it, a changed lockfile produces a new key and a full reinstall.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/opencontainers/go-digest"

	"github.com/forgekit/relay/archive"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/fs"
)

// Key identifies a cache entry. It is the SHA-256 digest of the lockfile.
type Key = digest.Digest

// KeyFromLockfile computes the cache key for the lockfile at path.
func KeyFromLockfile(fsys fs.Filesystem, path string) (Key, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeCacheUnavailable, "read lockfile %s", path)
	}
	return KeyFromBytes(data), nil
}

// KeyFromBytes computes the cache key for raw lockfile contents.
func KeyFromBytes(data []byte) Key {
	return digest.FromBytes(data)
}

// entry is the persisted metadata for one cache entry.
type entry struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// index is the persisted entry listing, stored as JSON beside the entries.
type index struct {
	Entries map[string]entry `json:"entries"`
}

// Stats summarizes the cache state for operator reporting.
type Stats struct {
	Entries   int   `json:"entries"`
	TotalSize int64 `json:"total_size_bytes"`
}

// Store is a filesystem-backed cache of archived dependency environments.
// Entries are treated as immutable once written, so concurrent runs need no
// locking discipline beyond atomic entry placement.
type Store struct {
	fs     fs.Filesystem
	root   string
	targz  *archive.TarGz
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRoot overrides the cache root directory.
func WithRoot(root string) Option {
	return func(s *Store) { s.root = root }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store. The default root follows the XDG cache home
// convention (e.g. ~/.cache/relay/envs).
func New(fsys fs.Filesystem, opts ...Option) (*Store, error) {
	s := &Store{
		fs:    fsys,
		root:  filepath.Join(xdg.CacheHome, "relay", "envs"),
		targz: archive.New(fsys),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if err := fsys.MkdirAll(s.entriesDir(), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheUnavailable, "create cache root")
	}
	return s, nil
}

func (s *Store) entriesDir() string {
	return filepath.Join(s.root, "entries")
}

func (s *Store) entryPath(key Key) string {
	return filepath.Join(s.entriesDir(), key.Encoded()+".tar.gz")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, "index.json")
}

// Restore extracts the entry for key into targetDir.
// Returns false with a nil error on a cache miss. Any other failure is an
// error the caller is expected to degrade on, not abort.
func (s *Store) Restore(ctx context.Context, key Key, targetDir string) (bool, error) {
	path := s.entryPath(key)

	exists, err := s.fs.Exists(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeCacheUnavailable, "probe cache entry %s", key.Encoded())
	}
	if !exists {
		s.logger.Debug("cache miss", "key", key.Encoded())
		return false, nil
	}

	f, err := s.fs.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeCacheUnavailable, "open cache entry %s", key.Encoded())
	}
	defer f.Close()

	if err := s.targz.Extract(ctx, f, targetDir, archive.ExtractOptions{}); err != nil {
		// A corrupt entry must not poison the run; report it as degradable.
		return false, errors.Wrapf(err, errors.CodeCacheUnavailable, "extract cache entry %s", key.Encoded())
	}

	s.logger.Info("cache hit", "key", key.Encoded(), "target", targetDir)
	return true, nil
}

// Save archives sourceDir as the entry for key. An existing entry is left
// untouched: entries are immutable once written. The archive is staged in a
// temporary file and moved into place so readers never observe a partial
// entry.
func (s *Store) Save(ctx context.Context, key Key, sourceDir string) error {
	path := s.entryPath(key)

	exists, err := s.fs.Exists(path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeCacheUnavailable, "probe cache entry %s", key.Encoded())
	}
	if exists {
		s.logger.Debug("cache entry already present", "key", key.Encoded())
		return nil
	}

	tempDir, err := s.fs.TempDir(s.root, "staging-")
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheUnavailable, "create cache staging directory")
	}
	defer func() { _ = fs.RemoveAll(s.fs, tempDir) }()

	tempPath := filepath.Join(tempDir, "entry.tar.gz")
	f, err := s.fs.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, errors.CodeCacheUnavailable, "create cache staging file")
	}

	if err := s.targz.Archive(ctx, sourceDir, f); err != nil {
		f.Close()
		return errors.Wrapf(err, errors.CodeCacheUnavailable, "archive %s", sourceDir)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeCacheUnavailable, "close cache staging file")
	}

	if err := s.fs.Rename(tempPath, path); err != nil {
		return errors.Wrapf(err, errors.CodeCacheUnavailable, "place cache entry %s", key.Encoded())
	}

	info, err := s.fs.Stat(path)
	var size int64
	if err == nil {
		size = info.Size()
	}
	if err := s.recordEntry(key, size); err != nil {
		// Index maintenance is best-effort; the entry itself is in place.
		s.logger.Warn("cache index update failed", "key", key.Encoded(), "error", err)
	}

	s.logger.Info("cache entry saved", "key", key.Encoded(), "size_bytes", size)
	return nil
}

// Stats reads the index and reports entry count and total size.
func (s *Store) Stats() (Stats, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, e := range idx.Entries {
		stats.Entries++
		stats.TotalSize += e.Size
	}
	return stats, nil
}

func (s *Store) loadIndex() (index, error) {
	idx := index{Entries: map[string]entry{}}

	exists, err := s.fs.Exists(s.indexPath())
	if err != nil {
		return idx, errors.Wrap(err, errors.CodeCacheUnavailable, "probe cache index")
	}
	if !exists {
		return idx, nil
	}

	data, err := s.fs.ReadFile(s.indexPath())
	if err != nil {
		return idx, errors.Wrap(err, errors.CodeCacheUnavailable, "read cache index")
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return index{Entries: map[string]entry{}}, errors.Wrap(err, errors.CodeCacheUnavailable, "decode cache index")
	}
	if idx.Entries == nil {
		idx.Entries = map[string]entry{}
	}
	return idx, nil
}

func (s *Store) recordEntry(key Key, size int64) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	idx.Entries[key.Encoded()] = entry{
		Key:       key.String(),
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := s.fs.WriteFile(s.indexPath(), data, 0o644); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return nil
}
