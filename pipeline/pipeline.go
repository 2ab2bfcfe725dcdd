// Package pipeline orchestrates a release run. Stages execute strictly
// in order; the first required stage failure aborts the run and marks
// every remaining stage as skipped. Nothing runs concurrently, so a
// later stage can always assume its predecessors completed.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgekit/relay/build"
	"github.com/forgekit/relay/config"
	"github.com/forgekit/relay/environment"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/notes"
	"github.com/forgekit/relay/publish"
	"github.com/forgekit/relay/trigger"
)

// Status is the lifecycle state of a run or stage.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// State carries the data stages hand to each other. Each field is
// written by exactly one stage and read by later ones.
type State struct {
	// RunID is assigned by the Runner when the run starts.
	RunID string

	// Admission is the trigger decision that started the run.
	Admission trigger.Admission

	// Config is the loaded pipeline configuration.
	Config *config.Config

	// Env is set by the environment stage.
	Env *environment.Environment

	// Artifacts is set by the build stage.
	Artifacts []build.Artifact

	// Receipt is set by the publish stage.
	Receipt *publish.Receipt

	// Notes is set by the notes stage.
	Notes *notes.Notes

	// BundleDigest is set by the OCI mirror stage.
	BundleDigest string

	// MirrorKeys is set by the object store mirror stage.
	MirrorKeys []string
}

// Stage is one step of a release run.
type Stage interface {
	// Name identifies the stage in logs and reports.
	Name() string

	// Run executes the stage against the shared state.
	Run(ctx context.Context, state *State) error
}

// bestEffort marks stages whose failure is reported but does not abort
// the run.
type bestEffort interface {
	BestEffort() bool
}

// StageResult records the outcome of one stage.
type StageResult struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Duration  float64   `json:"duration_seconds"`
}

// Report is the full record of one run.
type Report struct {
	RunID       string        `json:"run_id"`
	Trigger     trigger.Kind  `json:"trigger"`
	Version     string        `json:"version,omitempty"`
	Tag         string        `json:"tag,omitempty"`
	Status      Status        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Stages      []StageResult `json:"stages"`

	// Artifacts lists what the build stage produced, digests included.
	Artifacts []build.Artifact `json:"artifacts,omitempty"`
}

// Runner executes stages sequentially.
type Runner struct {
	stages []Stage
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithClock overrides the time source. Test use only.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a Runner over the given stages.
func New(stages []Stage, opts ...Option) *Runner {
	r := &Runner{stages: stages, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// Run executes the stages in order. A rejected admission is an input
// error: the run is never started. The returned report is always
// non-nil when a run started, including failed runs, so the caller can
// record what happened.
func (r *Runner) Run(ctx context.Context, state *State) (*Report, error) {
	if !state.Admission.Admitted {
		return nil, errors.Newf(errors.CodeTriggerRejected,
			"run not admitted: %s", state.Admission.Reason)
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Trigger:   state.Admission.Kind,
		Tag:       state.Admission.Tag,
		Status:    StatusRunning,
		StartedAt: r.now(),
	}
	if state.Admission.Version != nil {
		report.Version = state.Admission.Version.String()
	}
	state.RunID = report.RunID

	logger := r.logger.With("run_id", report.RunID)
	logger.Info("run started", "trigger", string(report.Trigger), "tag", report.Tag)

	var runErr error
	for _, stage := range r.stages {
		result := StageResult{Name: stage.Name(), Status: StatusPending}

		if runErr != nil {
			result.Status = StatusSkipped
			report.Stages = append(report.Stages, result)
			logger.Info("stage skipped", "stage", stage.Name())
			continue
		}

		result.Status = StatusRunning
		result.StartedAt = r.now()
		logger.Info("stage started", "stage", stage.Name())

		err := stage.Run(ctx, state)
		result.Duration = r.now().Sub(result.StartedAt).Seconds()

		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			if isBestEffort(stage) {
				logger.Warn("best effort stage failed", "stage", stage.Name(), "error", err)
			} else {
				logger.Error("stage failed", "stage", stage.Name(), "error", err)
				runErr = errors.Wrapf(err, errors.CodeOf(err), "stage %s", stage.Name())
			}
		} else {
			result.Status = StatusSuccess
			logger.Info("stage succeeded", "stage", stage.Name())
		}
		report.Stages = append(report.Stages, result)
	}

	report.Artifacts = state.Artifacts
	report.CompletedAt = r.now()
	if runErr != nil {
		report.Status = StatusFailed
	} else {
		report.Status = StatusSuccess
	}
	logger.Info("run finished", "status", string(report.Status))
	return report, runErr
}

func isBestEffort(stage Stage) bool {
	be, ok := stage.(bestEffort)
	return ok && be.BestEffort()
}
