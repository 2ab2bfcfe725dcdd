package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"path/filepath"

	"github.com/forgekit/relay/build"
	"github.com/forgekit/relay/environment"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/notes"
	"github.com/forgekit/relay/publish"
	"github.com/forgekit/relay/publish/objectstore"
	"github.com/forgekit/relay/publish/ocibundle"
	"github.com/forgekit/relay/source"
	"github.com/forgekit/relay/trigger"
)

// CheckoutStage checks out the admitted tag. A dispatch run releases
// the current source state and skips the checkout.
type CheckoutStage struct {
	repo *source.Repo
}

// NewCheckoutStage creates a CheckoutStage over an opened repository.
func NewCheckoutStage(repo *source.Repo) *CheckoutStage {
	return &CheckoutStage{repo: repo}
}

func (s *CheckoutStage) Name() string { return "checkout" }

func (s *CheckoutStage) Run(ctx context.Context, state *State) error {
	if state.Admission.Kind == trigger.KindDispatch {
		return nil
	}
	if err := s.repo.Checkout(ctx, state.Admission.Tag); err != nil {
		return errors.Wrapf(err, errors.CodeCheckoutFailed, "checkout tag %s", state.Admission.Tag)
	}
	return nil
}

// EnvironmentStage prepares the build environment.
type EnvironmentStage struct {
	preparer *environment.Preparer
}

// NewEnvironmentStage creates an EnvironmentStage.
func NewEnvironmentStage(preparer *environment.Preparer) *EnvironmentStage {
	return &EnvironmentStage{preparer: preparer}
}

func (s *EnvironmentStage) Name() string { return "environment" }

func (s *EnvironmentStage) Run(ctx context.Context, state *State) error {
	cfg := environment.Config{
		WorkDir:       state.Config.Project.WorkDir,
		PythonVersion: state.Config.Python.Version,
		Manager:       state.Config.Python.Manager,
		Lockfile:      state.Config.Python.Lockfile,
		VenvDir:       state.Config.Python.VenvDir,
	}
	env, err := s.preparer.Prepare(ctx, cfg)
	if err != nil {
		return err
	}
	state.Env = env
	return nil
}

// BuildStage installs dependencies and builds the artifacts. After a
// successful install the environment is persisted to the cache.
type BuildStage struct {
	builder  *build.Builder
	preparer *environment.Preparer
}

// NewBuildStage creates a BuildStage. The preparer may be nil when
// caching is disabled.
func NewBuildStage(builder *build.Builder, preparer *environment.Preparer) *BuildStage {
	return &BuildStage{builder: builder, preparer: preparer}
}

func (s *BuildStage) Name() string { return "build" }

func (s *BuildStage) Run(ctx context.Context, state *State) error {
	if state.Env == nil {
		return errors.New(errors.CodeInternal, "build stage ran without a prepared environment")
	}
	artifacts, err := s.builder.Build(ctx, state.Env)
	if err != nil {
		return err
	}
	state.Artifacts = artifacts
	if s.preparer != nil {
		s.preparer.Persist(ctx, state.Env)
	}
	return nil
}

// PublishStage uploads the built artifacts to the registry.
type PublishStage struct {
	publisher *publish.Publisher
}

// NewPublishStage creates a PublishStage.
func NewPublishStage(publisher *publish.Publisher) *PublishStage {
	return &PublishStage{publisher: publisher}
}

func (s *PublishStage) Name() string { return "publish" }

func (s *PublishStage) Run(ctx context.Context, state *State) error {
	if state.Admission.Version == nil {
		return errors.New(errors.CodeInvalidInput, "no release version to publish")
	}
	receipt, err := s.publisher.Publish(ctx, state.Admission.Version, state.Artifacts)
	if err != nil {
		return err
	}
	state.Receipt = receipt
	return nil
}

// NotesStage generates release notes from the commits since the
// previous release. Note generation never fails a run.
type NotesStage struct {
	generator *notes.Generator
	repo      *source.Repo
	logger    *slog.Logger
}

// NewNotesStage creates a NotesStage.
func NewNotesStage(generator *notes.Generator, repo *source.Repo, logger *slog.Logger) *NotesStage {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NotesStage{generator: generator, repo: repo, logger: logger}
}

func (s *NotesStage) Name() string { return "notes" }

func (s *NotesStage) BestEffort() bool { return true }

func (s *NotesStage) Run(_ context.Context, state *State) error {
	if state.Admission.Version == nil {
		return errors.New(errors.CodeInvalidInput, "no release version for notes")
	}

	previous, err := s.repo.PreviousRelease(state.Admission.Version.String())
	if err != nil && !stderrors.Is(err, source.ErrNoReleases) {
		return err
	}

	commits, err := s.repo.CommitsSince(previous)
	if err != nil {
		return err
	}

	state.Notes = s.generator.Generate(state.Admission.Version, commits)
	s.logger.Info("release notes generated", "commits", len(commits))
	return nil
}

// OCIMirrorStage pushes the release bundle to an OCI registry. Mirror
// failures are reported but do not fail the run.
type OCIMirrorStage struct {
	pusher *ocibundle.Pusher
}

// NewOCIMirrorStage creates an OCIMirrorStage.
func NewOCIMirrorStage(pusher *ocibundle.Pusher) *OCIMirrorStage {
	return &OCIMirrorStage{pusher: pusher}
}

func (s *OCIMirrorStage) Name() string { return "oci-mirror" }

func (s *OCIMirrorStage) BestEffort() bool { return true }

func (s *OCIMirrorStage) Run(ctx context.Context, state *State) error {
	if state.Admission.Version == nil {
		return errors.New(errors.CodeInvalidInput, "no release version to mirror")
	}
	distDir := filepath.Join(state.Config.Project.WorkDir, build.DefaultDistDir)
	digest, err := s.pusher.Push(ctx, state.Config.Mirrors.OCI.Reference, distDir,
		state.Admission.Version, map[string]string{
			ocibundle.AnnotationRunID: state.RunID,
		})
	if err != nil {
		return err
	}
	state.BundleDigest = digest
	return nil
}

// ObjectStoreMirrorStage mirrors artifacts to object storage. Mirror
// failures are reported but do not fail the run.
type ObjectStoreMirrorStage struct {
	mirror *objectstore.Mirror
}

// NewObjectStoreMirrorStage creates an ObjectStoreMirrorStage.
func NewObjectStoreMirrorStage(mirror *objectstore.Mirror) *ObjectStoreMirrorStage {
	return &ObjectStoreMirrorStage{mirror: mirror}
}

func (s *ObjectStoreMirrorStage) Name() string { return "objectstore-mirror" }

func (s *ObjectStoreMirrorStage) BestEffort() bool { return true }

func (s *ObjectStoreMirrorStage) Run(ctx context.Context, state *State) error {
	if state.Admission.Version == nil {
		return errors.New(errors.CodeInvalidInput, "no release version to mirror")
	}
	keys, err := s.mirror.MirrorAll(ctx, state.Admission.Version.String(), state.Artifacts)
	state.MirrorKeys = keys
	return err
}
