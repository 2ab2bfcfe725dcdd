package pipeline_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/pipeline"
	"github.com/forgekit/relay/trigger"
)

// fakeStage records execution order and optionally fails.
type fakeStage struct {
	name       string
	err        error
	bestEffort bool
	order      *[]string
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) BestEffort() bool { return s.bestEffort }

func (s *fakeStage) Run(_ context.Context, _ *pipeline.State) error {
	*s.order = append(*s.order, s.name)
	return s.err
}

func admittedTag(t *testing.T, tag string) trigger.Admission {
	t.Helper()
	adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindTagPush, Tag: tag})
	require.NoError(t, err)
	require.True(t, adm.Admitted)
	return adm
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	var order []string
	runner := pipeline.New([]pipeline.Stage{
		&fakeStage{name: "environment", order: &order},
		&fakeStage{name: "build", order: &order},
		&fakeStage{name: "publish", order: &order},
	})

	state := &pipeline.State{Admission: admittedTag(t, "v1.2.3")}
	report, err := runner.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"environment", "build", "publish"}, order)
	assert.Equal(t, pipeline.StatusSuccess, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, report.RunID, state.RunID)
	for _, stage := range report.Stages {
		assert.Equal(t, pipeline.StatusSuccess, stage.Status)
	}
}

func TestRunFailureSkipsRemainingStages(t *testing.T) {
	var order []string
	runner := pipeline.New([]pipeline.Stage{
		&fakeStage{name: "environment", order: &order},
		&fakeStage{name: "build", order: &order, err: fmt.Errorf("compile error")},
		&fakeStage{name: "publish", order: &order},
	})

	report, err := runner.Run(context.Background(),
		&pipeline.State{Admission: admittedTag(t, "v1.2.3")})
	require.Error(t, err)

	// Publish never executed.
	assert.Equal(t, []string{"environment", "build"}, order)
	assert.Equal(t, pipeline.StatusFailed, report.Status)

	require.Len(t, report.Stages, 3)
	assert.Equal(t, pipeline.StatusSuccess, report.Stages[0].Status)
	assert.Equal(t, pipeline.StatusFailed, report.Stages[1].Status)
	assert.Equal(t, "compile error", report.Stages[1].Error)
	assert.Equal(t, pipeline.StatusSkipped, report.Stages[2].Status)
}

func TestRunBestEffortFailureDoesNotAbort(t *testing.T) {
	var order []string
	runner := pipeline.New([]pipeline.Stage{
		&fakeStage{name: "publish", order: &order},
		&fakeStage{name: "notes", order: &order, err: fmt.Errorf("no history"), bestEffort: true},
		&fakeStage{name: "oci-mirror", order: &order},
	})

	report, err := runner.Run(context.Background(),
		&pipeline.State{Admission: admittedTag(t, "v1.2.3")})
	require.NoError(t, err)

	assert.Equal(t, []string{"publish", "notes", "oci-mirror"}, order)
	assert.Equal(t, pipeline.StatusSuccess, report.Status)
	assert.Equal(t, pipeline.StatusFailed, report.Stages[1].Status)
	assert.Equal(t, pipeline.StatusSuccess, report.Stages[2].Status)
}

func TestRunRejectedAdmissionNeverStarts(t *testing.T) {
	var order []string
	runner := pipeline.New([]pipeline.Stage{
		&fakeStage{name: "publish", order: &order},
	})

	adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindTagPush, Tag: "v1.2"})
	require.NoError(t, err)
	require.False(t, adm.Admitted)

	report, err := runner.Run(context.Background(), &pipeline.State{Admission: adm})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTriggerRejected))
	assert.Nil(t, report)
	assert.Empty(t, order, "no stage may run for a rejected event")
}

func TestMirrorStagesRequireVersion(t *testing.T) {
	adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindDispatch})
	require.NoError(t, err)
	require.Nil(t, adm.Version)
	state := &pipeline.State{Admission: adm}

	err = pipeline.NewObjectStoreMirrorStage(nil).Run(context.Background(), state)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	err = pipeline.NewOCIMirrorStage(nil).Run(context.Background(), state)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestRunDispatchCarriesNoVersion(t *testing.T) {
	var order []string
	runner := pipeline.New([]pipeline.Stage{
		&fakeStage{name: "environment", order: &order},
	})

	adm, err := trigger.Evaluate(trigger.Event{Kind: trigger.KindDispatch})
	require.NoError(t, err)

	state := &pipeline.State{Admission: adm}
	// Dispatch runs resolve their version out of band.
	state.Admission.Version = semver.MustParse("1.3.0")

	report, runErr := runner.Run(context.Background(), state)
	require.NoError(t, runErr)
	assert.Equal(t, trigger.KindDispatch, report.Trigger)
	assert.Equal(t, "1.3.0", report.Version)
	assert.Empty(t, report.Tag)
}
