// Package environment prepares the isolated execution environment for a run:
// a pinned interpreter, a dependency manager, a virtual environment local to
// the workspace, and a dependency cache keyed by the lockfile hash. Cache
// failures degrade to a full reinstall; they never abort the run.
package environment

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/forgekit/relay/cache"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/executor"
	"github.com/forgekit/relay/fs"
)

// Defaults for projects that do not override tool selection.
const (
	DefaultManager  = "uv"
	DefaultLockfile = "uv.lock"
	DefaultVenvDir  = ".venv"
)

// Config describes the environment a run needs.
type Config struct {
	// WorkDir is the project checkout directory.
	WorkDir string

	// PythonVersion pins the interpreter version, e.g. "3.12".
	PythonVersion string

	// Manager is the dependency manager program. Defaults to DefaultManager.
	Manager string

	// Lockfile is the path of the dependency lockfile, relative to WorkDir.
	// Defaults to DefaultLockfile.
	Lockfile string

	// VenvDir is the virtual environment directory, relative to WorkDir.
	// Defaults to DefaultVenvDir.
	VenvDir string
}

func (c *Config) applyDefaults() {
	if c.Manager == "" {
		c.Manager = DefaultManager
	}
	if c.Lockfile == "" {
		c.Lockfile = DefaultLockfile
	}
	if c.VenvDir == "" {
		c.VenvDir = DefaultVenvDir
	}
}

// Environment is the prepared state handed to the build stage.
type Environment struct {
	// WorkDir is the project checkout directory.
	WorkDir string

	// VenvDir is the absolute-within-filesystem venv path.
	VenvDir string

	// Manager is the dependency manager program to invoke.
	Manager string

	// CacheKey is the lockfile-derived cache key. Empty when no lockfile
	// was found and caching is disabled for the run.
	CacheKey cache.Key

	// CacheHit reports whether the venv was restored from the cache.
	// A hit means no dependency reinstall is required.
	CacheHit bool
}

// Preparer provisions run environments.
type Preparer struct {
	runner executor.Runner
	fs     fs.Filesystem
	store  *cache.Store
	logger *slog.Logger
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithCache attaches a dependency cache store. Without one, every run does
// a full install.
func WithCache(store *cache.Store) Option {
	return func(p *Preparer) { p.store = store }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preparer) { p.logger = logger }
}

// New creates a Preparer executing tools through runner and touching the
// workspace through fsys.
func New(runner executor.Runner, fsys fs.Filesystem, opts ...Option) *Preparer {
	p := &Preparer{runner: runner, fs: fsys}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Prepare provisions the interpreter and virtual environment, restoring the
// venv from the cache when the lockfile hash matches a stored entry.
func (p *Preparer) Prepare(ctx context.Context, cfg Config) (*Environment, error) {
	cfg.applyDefaults()

	env := &Environment{
		WorkDir: cfg.WorkDir,
		VenvDir: filepath.Join(cfg.WorkDir, cfg.VenvDir),
		Manager: cfg.Manager,
	}

	if cfg.PythonVersion != "" {
		_, err := p.runner.Run(ctx, cfg.Manager, []string{"python", "install", cfg.PythonVersion},
			executor.WithWorkingDir(cfg.WorkDir))
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeEnvironmentFailed, "install interpreter %s", cfg.PythonVersion)
		}
	}

	env.CacheKey = p.lockfileKey(cfg)
	if env.CacheKey != "" {
		env.CacheHit = p.restore(ctx, env)
	}

	if !env.CacheHit {
		args := []string{"venv", cfg.VenvDir}
		if cfg.PythonVersion != "" {
			args = append(args, "--python", cfg.PythonVersion)
		}
		if _, err := p.runner.Run(ctx, cfg.Manager, args, executor.WithWorkingDir(cfg.WorkDir)); err != nil {
			return nil, errors.Wrap(err, errors.CodeEnvironmentFailed, "create virtual environment")
		}
	}

	return env, nil
}

// Persist saves the venv under the run's cache key after a successful
// dependency install. A cache hit or a run without a lockfile is a no-op.
// Save failures are degraded to a warning: the run already succeeded.
func (p *Preparer) Persist(ctx context.Context, env *Environment) {
	if p.store == nil || env.CacheKey == "" || env.CacheHit {
		return
	}
	if err := p.store.Save(ctx, env.CacheKey, env.VenvDir); err != nil {
		p.logger.Warn("dependency cache save failed", "key", env.CacheKey.Encoded(), "error", err)
	}
}

// lockfileKey computes the cache key, or empty when the lockfile is absent.
func (p *Preparer) lockfileKey(cfg Config) cache.Key {
	path := filepath.Join(cfg.WorkDir, cfg.Lockfile)
	exists, err := p.fs.Exists(path)
	if err != nil || !exists {
		p.logger.Warn("lockfile not found, dependency caching disabled", "lockfile", path)
		return ""
	}
	key, err := cache.KeyFromLockfile(p.fs, path)
	if err != nil {
		p.logger.Warn("lockfile unreadable, dependency caching disabled", "lockfile", path, "error", err)
		return ""
	}
	return key
}

// restore attempts a cache restore. Failures degrade to a full reinstall.
func (p *Preparer) restore(ctx context.Context, env *Environment) bool {
	if p.store == nil {
		return false
	}
	hit, err := p.store.Restore(ctx, env.CacheKey, env.VenvDir)
	if err != nil {
		p.logger.Warn("dependency cache restore failed, reinstalling",
			"key", env.CacheKey.Encoded(), "error", err)
		// Drop any partially restored venv before the full install.
		_ = fs.RemoveAll(p.fs, env.VenvDir)
		return false
	}
	return hit
}
