package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/relay/build"
	"github.com/forgekit/relay/errors"
	fsbilly "github.com/forgekit/relay/fs/billy"
	"github.com/forgekit/relay/secrets"
)

// fakeBucket accepts S3 object PUTs and records the object keys.
type fakeBucket struct {
	srv    *httptest.Server
	puts   []string
	reject bool
}

func newFakeBucket(t *testing.T) *fakeBucket {
	t.Helper()
	b := &fakeBucket{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		if b.reject {
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		b.puts = append(b.puts, strings.TrimPrefix(r.URL.Path, "/"))
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBucket) endpoint(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(b.srv.URL)
	require.NoError(t, err)
	return u.Host
}

func testConfig(t *testing.T, bucket *fakeBucket) Config {
	t.Helper()
	return Config{
		Endpoint:  bucket.endpoint(t),
		Bucket:    "releases",
		Prefix:    "demo",
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: secrets.NewValue("secret"),
	}
}

func fixtureArtifact(t *testing.T, fsys *fsbilly.FS, name string) build.Artifact {
	t.Helper()
	data := []byte("content of " + name)
	path := "project/dist/" + name
	require.NoError(t, fsys.WriteFile(path, data, 0o644))
	return build.Artifact{
		Name:   name,
		Path:   path,
		Kind:   build.KindSdist,
		Size:   int64(len(data)),
		Digest: digest.FromBytes(data),
	}
}

func TestMirrorAllUploadsUnderVersionedKeys(t *testing.T) {
	bucket := newFakeBucket(t)
	fsys := fsbilly.NewInMemoryFS()
	artifacts := []build.Artifact{
		fixtureArtifact(t, fsys, "demo-1.2.3.tar.gz"),
		fixtureArtifact(t, fsys, "demo-1.2.3-py3-none-any.whl"),
	}

	mirror, err := New(fsys, testConfig(t, bucket))
	require.NoError(t, err)

	keys, err := mirror.MirrorAll(context.Background(), "1.2.3", artifacts)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"demo/1.2.3/demo-1.2.3.tar.gz",
		"demo/1.2.3/demo-1.2.3-py3-none-any.whl",
	}, keys)
	assert.Equal(t, []string{
		"releases/demo/1.2.3/demo-1.2.3.tar.gz",
		"releases/demo/1.2.3/demo-1.2.3-py3-none-any.whl",
	}, bucket.puts)
}

func TestMirrorUploadRejected(t *testing.T) {
	bucket := newFakeBucket(t)
	bucket.reject = true
	fsys := fsbilly.NewInMemoryFS()
	artifact := fixtureArtifact(t, fsys, "demo-1.2.3.tar.gz")

	mirror, err := New(fsys, testConfig(t, bucket))
	require.NoError(t, err)

	_, err = mirror.Upload(context.Background(), "1.2.3", artifact)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeNetwork))
}

func TestPresignedGetSignsVersionedKey(t *testing.T) {
	bucket := newFakeBucket(t)
	fsys := fsbilly.NewInMemoryFS()

	mirror, err := New(fsys, testConfig(t, bucket))
	require.NoError(t, err)

	u, err := mirror.PresignedGet(context.Background(), "1.2.3", "demo-1.2.3.tar.gz", 15*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "/releases/demo/1.2.3/demo-1.2.3.tar.gz", u.Path)
	assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Contains(t, u.Query().Get("X-Amz-Credential"), "access")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing endpoint",
			cfg:     Config{Bucket: "releases"},
			wantErr: "endpoint is required",
		},
		{
			name:    "missing bucket",
			cfg:     Config{Endpoint: "minio.local:9000"},
			wantErr: "bucket is required",
		},
		{
			name: "valid",
			cfg:  Config{Endpoint: "minio.local:9000", Bucket: "releases"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
