// Package executor runs the external tools the pipeline delegates to
// (interpreter installer, dependency manager, build backend). It provides
// output capture, environment injection, bounded retries, and context
// cancellation. The substantive work stays in the tools themselves.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result holds the output and exit state of a tool invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external tools. Pipeline stages depend on this interface
// so tests can substitute recorded invocations.
type Runner interface {
	// Run executes program with args under the given options.
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures a tool invocation.
type Options struct {
	// WorkingDir is the directory the tool runs in.
	WorkingDir string

	// Env holds variables appended to the inherited environment.
	Env map[string]string

	// Stdin is fed to the tool's standard input when non-empty.
	Stdin string

	// MaxRetries is the number of additional attempts after a failure.
	// Stages that must fail fatally leave this at zero.
	MaxRetries int

	// RetryDelay is the wait between attempts.
	RetryDelay time.Duration

	// RetryOn decides whether a failure is retryable. Nil retries all failures.
	RetryOn func(error) bool

	// EchoOutput additionally streams tool output to the process stdout/stderr.
	EchoOutput bool

	// Logger receives invocation-level debug records. Nil disables logging.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the tool's working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv adds environment variables for the invocation.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithEnvVar adds a single environment variable.
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, 1)
		}
		o.Env[key] = value
	}
}

// WithStdin feeds input to the tool's standard input.
func WithStdin(input string) Option {
	return func(o *Options) { o.Stdin = input }
}

// WithRetry enables bounded retries with a fixed delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// WithRetryCondition restricts retries to failures the predicate accepts.
func WithRetryCondition(fn func(error) bool) Option {
	return func(o *Options) { o.RetryOn = fn }
}

// WithEcho streams tool output to the console in addition to capture.
func WithEcho(echo bool) Option {
	return func(o *Options) { o.EchoOutput = echo }
}

// WithLogger attaches a structured logger to invocations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Local runs tools as OS processes on the current worker.
type Local struct {
	base Options
}

// NewLocal creates a Local runner. The given options become the defaults
// for every Run call and can be overridden per invocation.
func NewLocal(opts ...Option) *Local {
	var base Options
	for _, opt := range opts {
		opt(&base)
	}
	return &Local{base: base}
}

// Run implements Runner.
func (l *Local) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	options := l.merge(opts...)

	maxAttempts := options.MaxRetries + 1
	var lastResult *Result
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := runOnce(ctx, program, args, &options)
		lastResult, lastErr = result, err

		if options.Logger != nil {
			options.Logger.Debug("tool invocation finished",
				"program", program,
				"args", strings.Join(args, " "),
				"attempt", attempt,
				"exit_code", result.ExitCode,
			)
		}

		if err == nil || attempt == maxAttempts {
			return result, err
		}
		if options.RetryOn != nil && !options.RetryOn(err) {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("cancelled while retrying %s: %w", program, ctx.Err())
		case <-time.After(options.RetryDelay):
		}
	}

	return lastResult, lastErr
}

func (l *Local) merge(opts ...Option) Options {
	merged := l.base
	if l.base.Env != nil {
		merged.Env = make(map[string]string, len(l.base.Env))
		for k, v := range l.base.Env {
			merged.Env[k] = v
		}
	}
	for _, opt := range opts {
		opt(&merged)
	}
	return merged
}

func runOnce(ctx context.Context, program string, args []string, options *Options) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)

	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if options.Stdin != "" {
		cmd.Stdin = strings.NewReader(options.Stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := []io.Writer{&stdoutBuf}
	stderr := []io.Writer{&stderrBuf}
	if options.EchoOutput {
		stdout = append(stdout, os.Stdout)
		stderr = append(stderr, os.Stderr)
	}
	cmd.Stdout = io.MultiWriter(stdout...)
	cmd.Stderr = io.MultiWriter(stderr...)

	err := cmd.Run()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if err != nil {
		return result, fmt.Errorf("%s failed: %w", program, err)
	}
	return result, nil
}
