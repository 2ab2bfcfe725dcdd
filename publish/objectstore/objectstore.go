// Package objectstore mirrors release artifacts to S3-compatible object
// storage. The mirror is best effort from the pipeline's point of view:
// a publish run succeeds on registry upload, and mirror failures are
// reported for the operator to reconcile.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/forgekit/relay/build"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/fs"
	"github.com/forgekit/relay/secrets"
)

// Config holds the object store connection settings.
type Config struct {
	// Endpoint is the S3-compatible endpoint, host:port.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Bucket receives the mirrored artifacts.
	Bucket string `yaml:"bucket" json:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix" json:"prefix"`

	// Region of the bucket, if the endpoint requires one.
	Region string `yaml:"region" json:"region"`

	// UseSSL enables TLS for the endpoint.
	UseSSL bool `yaml:"use_ssl" json:"use_ssl"`

	// AccessKey and SecretKey authenticate against the endpoint.
	AccessKey string        `yaml:"access_key" json:"access_key"`
	SecretKey secrets.Value `yaml:"secret_key" json:"secret_key"`
}

// Validate checks the config for the fields a mirror cannot run without.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New(errors.CodeInvalidConfig, "object store endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New(errors.CodeInvalidConfig, "object store bucket is required")
	}
	return nil
}

// Mirror copies artifacts into a bucket.
type Mirror struct {
	client *minio.Client
	cfg    Config
	fs     fs.Filesystem
	logger *slog.Logger
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) { m.logger = logger }
}

// New connects a Mirror to the configured endpoint.
func New(fsys fs.Filesystem, cfg Config, opts ...Option) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Reveal(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "create object store client")
	}

	m := &Mirror{client: client, cfg: cfg, fs: fsys}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m, nil
}

// Upload mirrors one artifact under version. The object key is
// prefix/version/name and the content digest travels as metadata.
func (m *Mirror) Upload(ctx context.Context, version string, artifact build.Artifact) (string, error) {
	data, err := m.fs.ReadFile(artifact.Path)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeInvalidInput, "read artifact %s", artifact.Name)
	}

	key := m.key(version, artifact.Name)
	_, err = m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType(artifact.Kind),
			UserMetadata: map[string]string{"Digest": artifact.Digest.String()},
		})
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeNetwork, "upload %s to bucket %s", key, m.cfg.Bucket)
	}

	m.logger.Info("mirrored artifact", "bucket", m.cfg.Bucket, "key", key)
	return key, nil
}

// MirrorAll uploads every artifact, returning the stored object keys.
func (m *Mirror) MirrorAll(ctx context.Context, version string, artifacts []build.Artifact) ([]string, error) {
	keys := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		key, err := m.Upload(ctx, version, artifact)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PresignedGet returns a time-limited download URL for a mirrored
// artifact.
func (m *Mirror) PresignedGet(ctx context.Context, version, name string, expiry time.Duration) (*url.URL, error) {
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, m.key(version, name), expiry, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "presign download URL")
	}
	return u, nil
}

func (m *Mirror) key(version, name string) string {
	if m.cfg.Prefix == "" {
		return fmt.Sprintf("%s/%s", version, name)
	}
	return fmt.Sprintf("%s/%s/%s", m.cfg.Prefix, version, name)
}

func contentType(kind build.Kind) string {
	switch kind {
	case build.KindSdist:
		return "application/gzip"
	case build.KindWheel:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
