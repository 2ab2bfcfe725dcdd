package trigger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/relay/trigger"
)

func TestEvaluateTagPush(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		admitted bool
	}{
		{name: "release tag", tag: "v1.2.3", admitted: true},
		{name: "multi digit segments", tag: "v10.20.30", admitted: true},
		{name: "zero version", tag: "v0.0.1", admitted: true},
		{name: "missing patch segment", tag: "v1.2", admitted: false},
		{name: "missing v prefix", tag: "1.2.3", admitted: false},
		{name: "pre-release suffix", tag: "v1.2.3-rc.1", admitted: false},
		{name: "build metadata", tag: "v1.2.3+hotfix", admitted: false},
		{name: "four segments", tag: "v1.2.3.4", admitted: false},
		{name: "non-numeric segment", tag: "v1.2.x", admitted: false},
		{name: "branch-like name", tag: "main", admitted: false},
		{name: "leading whitespace", tag: " v1.2.3", admitted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindTagPush, Tag: tt.tag})
			require.NoError(t, err)
			assert.Equal(t, tt.admitted, adm.Admitted)

			if tt.admitted {
				require.NotNil(t, adm.Version)
				assert.Equal(t, tt.tag, adm.Tag)
				assert.Empty(t, adm.Reason)
			} else {
				assert.Nil(t, adm.Version)
				assert.NotEmpty(t, adm.Reason)
			}
		})
	}
}

func TestEvaluateParsesVersion(t *testing.T) {
	adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindTagPush, Tag: "v1.2.3"})
	require.NoError(t, err)
	require.True(t, adm.Admitted)

	assert.Equal(t, uint64(1), adm.Version.Major())
	assert.Equal(t, uint64(2), adm.Version.Minor())
	assert.Equal(t, uint64(3), adm.Version.Patch())
}

func TestEvaluateDispatch(t *testing.T) {
	adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindDispatch})
	require.NoError(t, err)

	assert.True(t, adm.Admitted)
	assert.Equal(t, trigger.KindDispatch, adm.Kind)
	assert.Nil(t, adm.Version)
	assert.Empty(t, adm.Tag)
}

func TestEvaluateMalformedEvents(t *testing.T) {
	_, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindTagPush})
	assert.Error(t, err)

	_, err = trigger.Evaluate(trigger.Event{Kind: trigger.Kind("schedule")})
	assert.Error(t, err)
}

func TestIsReleaseTag(t *testing.T) {
	assert.True(t, trigger.IsReleaseTag("v2.0.0"))
	assert.False(t, trigger.IsReleaseTag("v2.0"))
	assert.False(t, trigger.IsReleaseTag("release-2.0.0"))
}
