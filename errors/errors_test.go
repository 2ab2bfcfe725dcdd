package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/relay/errors"
)

func TestWrapPreservesChain(t *testing.T) {
	sentinel := stderrors.New("lockfile missing")
	wrapped := errors.Wrap(sentinel, errors.CodeEnvironmentFailed, "prepare environment")

	require.Error(t, wrapped)
	assert.True(t, stderrors.Is(wrapped, sentinel))
	assert.Equal(t, errors.CodeEnvironmentFailed, errors.CodeOf(wrapped))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.CodeBuildFailed, "ignored"))
	assert.Nil(t, errors.Wrapf(nil, errors.CodeBuildFailed, "ignored %d", 1))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{
			name: "direct coded error",
			err:  errors.New(errors.CodePublishFailed, "upload rejected"),
			want: errors.CodePublishFailed,
		},
		{
			name: "coded error below fmt wrapping",
			err:  fmt.Errorf("stage publish: %w", errors.New(errors.CodePublishFailed, "upload rejected")),
			want: errors.CodePublishFailed,
		},
		{
			name: "uncoded error",
			err:  stderrors.New("plain"),
			want: errors.CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.CodeOf(tt.err))
		})
	}
}

func TestHasCode(t *testing.T) {
	err := errors.Wrap(stderrors.New("boom"), errors.CodeCacheUnavailable, "restore cache")
	assert.True(t, errors.HasCode(err, errors.CodeCacheUnavailable))
	assert.False(t, errors.HasCode(err, errors.CodeBuildFailed))
}

func TestErrorString(t *testing.T) {
	err := errors.New(errors.CodeBuildFailed, "packaging failed")
	assert.Equal(t, "BUILD_FAILED: packaging failed", err.Error())

	wrapped := errors.Wrap(stderrors.New("exit status 1"), errors.CodeBuildFailed, "packaging failed")
	assert.Equal(t, "BUILD_FAILED: packaging failed: exit status 1", wrapped.Error())
}
