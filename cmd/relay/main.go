// Command relay runs the tag-triggered release pipeline: evaluate the
// trigger, prepare the environment, build the distributions and publish
// them through trusted publishing.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Masterminds/semver/v3"

	"github.com/forgekit/relay/build"
	"github.com/forgekit/relay/cache"
	"github.com/forgekit/relay/config"
	"github.com/forgekit/relay/environment"
	"github.com/forgekit/relay/errors"
	"github.com/forgekit/relay/executor"
	fsbilly "github.com/forgekit/relay/fs/billy"
	"github.com/forgekit/relay/notes"
	"github.com/forgekit/relay/pipeline"
	"github.com/forgekit/relay/publish"
	"github.com/forgekit/relay/publish/objectstore"
	"github.com/forgekit/relay/publish/ocibundle"
	"github.com/forgekit/relay/publish/trust"
	"github.com/forgekit/relay/source"
	"github.com/forgekit/relay/trigger"
)

const usage = `usage: relay <command> [flags]

commands:
  run   run the release pipeline
  plan  evaluate the trigger and print the stages that would run

common flags:
  -C dir        repository root (default ".")
  -config path  configuration file (default: relay.yaml, relay.yml, relay.cue)
  -tag name     release the given pushed tag instead of a manual dispatch
  -report path  write the JSON run report to path (default: stdout for run)
  -v            verbose logging
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, os.Args[2:])
	case "plan":
		err = cmdPlan(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "relay: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("relay failed", "error", err, "code", string(errors.CodeOf(err)))
		os.Exit(1)
	}
}

// commonFlags are shared by run and plan.
type commonFlags struct {
	root       string
	configPath string
	tag        string
	reportPath string
	verbose    bool
}

func parseFlags(name string, args []string) (*commonFlags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &commonFlags{}
	fs.StringVar(&f.root, "C", ".", "repository root")
	fs.StringVar(&f.configPath, "config", "", "configuration file")
	fs.StringVar(&f.tag, "tag", "", "pushed tag to release")
	fs.StringVar(&f.reportPath, "report", "", "run report output path")
	fs.BoolVar(&f.verbose, "v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (f *commonFlags) event() trigger.Event {
	if f.tag != "" {
		return trigger.Event{Kind: trigger.KindTagPush, Tag: f.tag}
	}
	return trigger.Event{Kind: trigger.KindDispatch}
}

func (f *commonFlags) loadConfig(fsys *fsbilly.FS) (*config.Config, error) {
	if f.configPath != "" {
		return config.Load(fsys, f.configPath)
	}
	return config.LoadDefault(fsys, ".")
}

func cmdRun(ctx context.Context, args []string) error {
	f, err := parseFlags("run", args)
	if err != nil {
		return err
	}
	logger := newLogger(f.verbose)
	slog.SetDefault(logger)

	// Evaluate the trigger before touching the working tree: an
	// ignored event must stay a no-op even when the configuration is
	// missing or broken.
	admission, err := trigger.Evaluate(f.event())
	if err != nil {
		return err
	}
	if !admission.Admitted {
		// A non-release tag is a silent no-op, not a failure.
		logger.Info("event ignored", "reason", admission.Reason, "tag", f.tag)
		return nil
	}

	fsys := fsbilly.NewOSFS(f.root)

	cfg, err := f.loadConfig(fsys)
	if err != nil {
		return err
	}

	repo, repoErr := source.Open(fsys, ".")
	if repoErr != nil {
		logger.Warn("repository not available, source stages disabled", "error", repoErr)
	}

	if admission.Version == nil {
		if repo == nil {
			return errors.New(errors.CodeInvalidInput,
				"dispatch run needs a repository to resolve the release version")
		}
		version, verr := latestReleaseVersion(repo)
		if verr != nil {
			return verr
		}
		admission.Version = version
		logger.Info("dispatch version resolved", "version", version.String())
	}

	stages, preparerErr := buildStages(ctx, cfg, fsys, repo, logger)
	if preparerErr != nil {
		return preparerErr
	}

	runner := pipeline.New(stages, pipeline.WithLogger(logger))
	report, runErr := runner.Run(ctx, &pipeline.State{Admission: admission, Config: cfg})
	if report != nil {
		if werr := writeReport(fsys, f.reportPath, report); werr != nil {
			logger.Warn("run report not written", "error", werr)
		}
	}
	return runErr
}

func cmdPlan(ctx context.Context, args []string) error {
	f, err := parseFlags("plan", args)
	if err != nil {
		return err
	}
	logger := newLogger(f.verbose)

	admission, err := trigger.Evaluate(f.event())
	if err != nil {
		return err
	}
	if !admission.Admitted {
		fmt.Printf("no run: %s\n", admission.Reason)
		return nil
	}

	fsys := fsbilly.NewOSFS(f.root)
	cfg, err := f.loadConfig(fsys)
	if err != nil {
		return err
	}

	repo, repoErr := source.Open(fsys, ".")
	if repoErr != nil {
		logger.Warn("repository not available, source stages disabled", "error", repoErr)
	}

	stages, err := buildStages(ctx, cfg, fsys, repo, logger)
	if err != nil {
		return err
	}

	fmt.Printf("run for %s (%s):\n", cfg.Project.Name, admission.Kind)
	if admission.Tag != "" {
		fmt.Printf("  tag: %s\n", admission.Tag)
	}
	for i, stage := range stages {
		fmt.Printf("  %d. %s\n", i+1, stage.Name())
	}
	return nil
}

// buildStages wires the configured pipeline. The core stages are always
// present; checkout, notes and mirrors join when configured and
// available.
func buildStages(ctx context.Context, cfg *config.Config, fsys *fsbilly.FS, repo *source.Repo, logger *slog.Logger) ([]pipeline.Stage, error) {
	local := executor.NewLocal(executor.WithLogger(logger))

	preparerOpts := []environment.Option{environment.WithLogger(logger)}
	if cfg.Cache.Enabled {
		cacheOpts := []cache.Option{cache.WithLogger(logger)}
		if cfg.Cache.Dir != "" {
			cacheOpts = append(cacheOpts, cache.WithRoot(cfg.Cache.Dir))
		}
		store, err := cache.New(fsys, cacheOpts...)
		if err != nil {
			// A broken cache never blocks a release.
			logger.Warn("dependency cache unavailable", "error", err)
		} else {
			preparerOpts = append(preparerOpts, environment.WithCache(store))
		}
	}
	preparer := environment.New(local, fsys, preparerOpts...)

	builder := build.New(local, fsys, build.WithLogger(logger))

	publishOpts := []publish.Option{publish.WithLogger(logger)}
	audience := cfg.Registry.Audience
	if audience != "" {
		publishOpts = append(publishOpts, publish.WithAudience(audience))
	} else {
		audience = trust.DefaultAudience
	}
	if cfg.Registry.Issuer != "" {
		verifier, err := trust.NewVerifier(ctx, cfg.Registry.Issuer, audience)
		if err != nil {
			return nil, err
		}
		publishOpts = append(publishOpts, publish.WithVerifier(verifier))
	}
	publisher := publish.New(fsys, cfg.Registry.UploadURL, cfg.Registry.MintURL,
		trust.NewEnvIdentityProvider(nil), publishOpts...)

	var stages []pipeline.Stage
	if repo != nil {
		stages = append(stages, pipeline.NewCheckoutStage(repo))
	}
	stages = append(stages,
		pipeline.NewEnvironmentStage(preparer),
		pipeline.NewBuildStage(builder, preparer),
		pipeline.NewPublishStage(publisher),
	)

	if cfg.Notes.Enabled && repo != nil {
		generator := notes.New(notes.WithLogger(logger))
		stages = append(stages, pipeline.NewNotesStage(generator, repo, logger))
	}

	if cfg.Mirrors.OCI.Reference != "" {
		pushOpts := []ocibundle.Option{ocibundle.WithLogger(logger)}
		if cfg.Mirrors.OCI.PlainHTTP {
			pushOpts = append(pushOpts, ocibundle.WithPlainHTTP())
		}
		stages = append(stages, pipeline.NewOCIMirrorStage(ocibundle.New(fsys, pushOpts...)))
	}

	if cfg.Mirrors.ObjectStore.Endpoint != "" {
		mirror, err := objectstore.New(fsys, cfg.Mirrors.ObjectStore, objectstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		stages = append(stages, pipeline.NewObjectStoreMirrorStage(mirror))
	}

	return stages, nil
}

// latestReleaseVersion resolves the version a dispatch run releases:
// the highest release tag in the repository.
func latestReleaseVersion(repo *source.Repo) (*semver.Version, error) {
	tags, err := repo.ReleaseTags()
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, errors.New(errors.CodeInvalidInput,
			"dispatch run needs at least one release tag to resolve the version")
	}
	return semver.NewVersion(tags[len(tags)-1])
}
