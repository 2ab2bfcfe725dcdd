// Package publish uploads built distributions to a package registry.
// Publishing is the terminal stage of a release run. It authenticates
// via trusted publishing and never retries on its own, since a failed
// upload may have partially succeeded and the registry rejects
// duplicate file names.
package publish

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/forgekit/relay/build"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/fs"
	"github.com/forgekit/relay/publish/trust"
	"github.com/forgekit/relay/secrets"
)

// TokenVerifier checks an identity token against the expected issuer
// and audience before it is spent on an exchange. *trust.Verifier
// implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, token secrets.Value) (*trust.Claims, error)
}

// Receipt records what a publish run uploaded.
type Receipt struct {
	// Registry is the upload endpoint the artifacts went to.
	Registry string `json:"registry"`

	// Version is the published release version.
	Version string `json:"version"`

	// Uploaded lists the uploaded artifacts in order.
	Uploaded []build.Artifact `json:"uploaded"`
}

// Publisher uploads artifacts to a registry upload endpoint.
type Publisher struct {
	uploadURL string
	mintURL   string
	identity  trust.IdentityProvider
	verifier  TokenVerifier
	client    *http.Client
	audience  string
	logger    *slog.Logger
	fs        fs.Filesystem
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithHTTPClient overrides the HTTP client used for uploads.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) { p.client = client }
}

// WithVerifier verifies identity tokens before the exchange. Without a
// verifier the registry is the only party validating the token.
func WithVerifier(verifier TokenVerifier) Option {
	return func(p *Publisher) { p.verifier = verifier }
}

// WithAudience overrides the identity token audience.
func WithAudience(audience string) Option {
	return func(p *Publisher) { p.audience = audience }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// New creates a Publisher for the registry's upload and token mint
// endpoints.
func New(fsys fs.Filesystem, uploadURL, mintURL string, identity trust.IdentityProvider, opts ...Option) *Publisher {
	p := &Publisher{
		uploadURL: uploadURL,
		mintURL:   mintURL,
		identity:  identity,
		fs:        fsys,
		audience:  trust.DefaultAudience,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: 5 * time.Minute}
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Publish mints an upload token and uploads every artifact. The first
// failed upload aborts the run; artifacts already uploaded stay
// uploaded, which is why the whole stage is treated as terminal.
func (p *Publisher) Publish(ctx context.Context, version *semver.Version, artifacts []build.Artifact) (*Receipt, error) {
	if len(artifacts) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "nothing to publish")
	}

	identity, err := p.identity.IdentityToken(ctx, p.audience)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePublishFailed, "obtain identity token")
	}

	if p.verifier != nil {
		claims, verr := p.verifier.Verify(ctx, identity)
		if verr != nil {
			return nil, errors.Wrap(verr, errors.CodePublishFailed, "verify identity token")
		}
		p.logger.Debug("identity token verified",
			"subject", claims.Subject, "repository", claims.Repository)
	}

	token, err := trust.NewExchanger(p.mintURL, p.client).Exchange(ctx, identity)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePublishFailed, "exchange identity token")
	}

	receipt := &Receipt{Registry: p.uploadURL, Version: version.String()}
	for _, artifact := range artifacts {
		if err := p.upload(ctx, token.AccessToken, version, artifact); err != nil {
			return nil, errors.Wrapf(err, errors.CodePublishFailed, "upload %s", artifact.Name)
		}
		receipt.Uploaded = append(receipt.Uploaded, artifact)
		p.logger.Info("uploaded artifact", "name", artifact.Name, "digest", artifact.Digest.String())
	}
	return receipt, nil
}

// upload sends one artifact as a multipart form to the upload endpoint.
func (p *Publisher) upload(ctx context.Context, token string, version *semver.Version, artifact build.Artifact) error {
	data, err := p.fs.ReadFile(artifact.Path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "read artifact")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	fields := map[string]string{
		":action":          "file_upload",
		"protocol_version": "1",
		"version":          version.String(),
		"filetype":         string(artifact.Kind),
		"sha256_digest":    artifact.Digest.Encoded(),
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "write form field")
		}
	}

	part, err := form.CreateFormFile("content", artifact.Name)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "create form file")
	}
	if _, err := part.Write(data); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "write form file")
	}
	if err := form.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "finalize form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.uploadURL, &body)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "build upload request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.SetBasicAuth("__token__", token)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "send upload request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf(errors.CodePublishFailed, "registry rejected upload with %d: %s",
			resp.StatusCode, string(msg))
	}
	return nil
}
