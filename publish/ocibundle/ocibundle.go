// Package ocibundle mirrors release bundles to an OCI registry. The
// dist directory is archived and pushed as a single-layer OCI 1.1
// artifact tagged with the release version, so a registry that speaks
// the OCI distribution API can serve as a secondary artifact store.
package ocibundle

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/Masterminds/semver/v3"

	"github.com/forgekit/relay/archive"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/fs"
	"github.com/forgekit/relay/secrets"
)

// ArtifactType identifies relay release bundles in OCI manifests.
const ArtifactType = "application/vnd.relay.release.v1"

// Annotation keys attached to pushed manifests.
const (
	AnnotationVersion = "dev.forgekit.relay.version"
	AnnotationRunID   = "dev.forgekit.relay.run"
)

// Credentials holds static registry credentials. Empty credentials fall
// back to the ambient Docker credential chain.
type Credentials struct {
	Registry string
	Username string
	Password secrets.Value
}

// Pusher archives and pushes release bundles.
type Pusher struct {
	fs        fs.Filesystem
	archiver  *archive.TarGz
	creds     Credentials
	plainHTTP bool
	client    *http.Client
	logger    *slog.Logger
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithCredentials sets static credentials for the target registry.
func WithCredentials(creds Credentials) Option {
	return func(p *Pusher) { p.creds = creds }
}

// WithPlainHTTP connects to the registry over HTTP. Local registries
// and tests only.
func WithPlainHTTP() Option {
	return func(p *Pusher) { p.plainHTTP = true }
}

// WithHTTPClient overrides the HTTP client used for registry calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pusher) { p.client = client }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pusher) { p.logger = logger }
}

// New creates a Pusher over the given filesystem.
func New(fsys fs.Filesystem, opts ...Option) *Pusher {
	p := &Pusher{fs: fsys, archiver: archive.New(fsys)}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Push archives distDir and pushes it to reference, tagged with the
// release version. The reference names the repository only; the tag is
// always "v" plus the version.
func (p *Pusher) Push(ctx context.Context, reference, distDir string, version *semver.Version, annotations map[string]string) (string, error) {
	repo, err := p.repository(reference)
	if err != nil {
		return "", err
	}
	digest, err := p.PushTo(ctx, repo, distDir, version, annotations)
	if err != nil {
		return "", err
	}
	p.logger.Info("pushed release bundle",
		"reference", reference, "tag", "v"+version.String(), "digest", digest)
	return digest, nil
}

// PushTo pushes the bundle to an arbitrary ORAS target.
func (p *Pusher) PushTo(ctx context.Context, target oras.Target, distDir string, version *semver.Version, annotations map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := p.archiver.Archive(ctx, distDir, &buf); err != nil {
		return "", errors.Wrap(err, errors.CodePublishFailed, "archive release bundle")
	}

	blobDesc, err := oras.PushBytes(ctx, target, archive.MediaType, buf.Bytes())
	if err != nil {
		return "", errors.Wrap(err, errors.CodePublishFailed, "push bundle blob")
	}

	manifestAnnotations := map[string]string{AnnotationVersion: version.String()}
	for k, v := range annotations {
		manifestAnnotations[k] = v
	}

	packOpts := oras.PackManifestOptions{
		Layers:              []ocispec.Descriptor{blobDesc},
		ManifestAnnotations: manifestAnnotations,
	}
	manDesc, err := oras.PackManifest(ctx, target, oras.PackManifestVersion1_1, ArtifactType, packOpts)
	if err != nil {
		return "", errors.Wrap(err, errors.CodePublishFailed, "pack bundle manifest")
	}

	tag := "v" + version.String()
	if err := target.Tag(ctx, manDesc, tag); err != nil {
		return "", errors.Wrapf(err, errors.CodePublishFailed, "tag bundle as %s", tag)
	}
	return manDesc.Digest.String(), nil
}

// repository builds an authenticated remote repository for a reference
// naming only the repository path.
func (p *Pusher) repository(reference string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(reference)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid registry reference %s", reference)
	}
	repo.PlainHTTP = p.plainHTTP

	client := &auth.Client{Client: p.client}
	if p.creds.Username != "" {
		registry := p.creds.Registry
		if registry == "" {
			registry = registryHost(reference)
		}
		client.Credential = auth.StaticCredential(registry, auth.Credential{
			Username: p.creds.Username,
			Password: p.creds.Password.Reveal(),
		})
	}
	repo.Client = client
	return repo, nil
}

func registryHost(reference string) string {
	if i := strings.Index(reference, "/"); i != -1 {
		return reference[:i]
	}
	return reference
}
