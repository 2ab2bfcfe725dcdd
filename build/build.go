// Package build turns a prepared environment into distributable artifacts.
// Dependency resolution and packaging are delegated to the project's
// dependency manager; a failure in either is fatal for the run, with no
// retry policy.
package build

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/forgekit/relay/environment"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/executor"
	"github.com/forgekit/relay/fs"
)

// DefaultDistDir is where built distributions land, relative to the workdir.
const DefaultDistDir = "dist"

// Kind classifies a built distribution.
type Kind string

const (
	// KindSdist is a source distribution.
	KindSdist Kind = "sdist"

	// KindWheel is a binary distribution.
	KindWheel Kind = "wheel"

	// KindOther is any other file the build backend produced.
	KindOther Kind = "other"
)

// Artifact is one built distribution, produced once and consumed once by
// the publish stage.
type Artifact struct {
	// Name is the artifact file name.
	Name string `json:"name"`

	// Path is the artifact location within the filesystem.
	Path string `json:"path"`

	// Kind classifies the distribution format.
	Kind Kind `json:"kind"`

	// Size is the artifact size in bytes.
	Size int64 `json:"size_bytes"`

	// Digest is the SHA-256 content digest.
	Digest digest.Digest `json:"digest"`
}

// Builder runs the dependency install and packaging steps.
type Builder struct {
	runner executor.Runner
	fs     fs.Filesystem
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// New creates a Builder.
func New(runner executor.Runner, fsys fs.Filesystem, opts ...Option) *Builder {
	b := &Builder{runner: runner, fs: fsys}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// Build installs declared dependencies into the environment (unless the
// cache already restored them) and produces the distribution artifacts.
func (b *Builder) Build(ctx context.Context, env *environment.Environment) ([]Artifact, error) {
	if !env.CacheHit {
		_, err := b.runner.Run(ctx, env.Manager, []string{"sync", "--frozen"},
			executor.WithWorkingDir(env.WorkDir))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeBuildFailed, "resolve and install dependencies")
		}
	} else {
		b.logger.Info("dependencies restored from cache, skipping install")
	}

	distDir := filepath.Join(env.WorkDir, DefaultDistDir)
	_, err := b.runner.Run(ctx, env.Manager, []string{"build", "--out-dir", DefaultDistDir},
		executor.WithWorkingDir(env.WorkDir))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBuildFailed, "build distributions")
	}

	artifacts, err := b.collect(distDir)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, errors.Newf(errors.CodeBuildFailed, "build produced no artifacts in %s", distDir)
	}

	for _, a := range artifacts {
		b.logger.Info("built artifact", "name", a.Name, "kind", string(a.Kind), "size_bytes", a.Size)
	}
	return artifacts, nil
}

// collect scans the dist directory and describes every produced file.
func (b *Builder) collect(distDir string) ([]Artifact, error) {
	exists, err := b.fs.Exists(distDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBuildFailed, "probe dist directory")
	}
	if !exists {
		return nil, errors.Newf(errors.CodeBuildFailed, "dist directory %s does not exist", distDir)
	}

	entries, err := b.fs.ReadDir(distDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBuildFailed, "read dist directory")
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(distDir, entry.Name())
		data, err := b.fs.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeBuildFailed, "read artifact %s", entry.Name())
		}
		artifacts = append(artifacts, Artifact{
			Name:   entry.Name(),
			Path:   path,
			Kind:   classify(entry.Name()),
			Size:   int64(len(data)),
			Digest: digest.FromBytes(data),
		})
	}
	return artifacts, nil
}

func classify(name string) Kind {
	switch {
	case strings.HasSuffix(name, ".whl"):
		return KindWheel
	case strings.HasSuffix(name, ".tar.gz"):
		return KindSdist
	default:
		return KindOther
	}
}
