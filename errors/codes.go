// Package errors provides the error handling foundation for relay.
// It extends Go's standard error handling with structured error codes
// and wrapping helpers that preserve errors.Is/errors.As chains.
package errors

// ErrorCode identifies a class of failure in the release pipeline.
// Codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Trigger evaluation.

	// CodeTriggerRejected indicates an event did not qualify to start a run.
	// A rejected trigger is a silent no-op for the operator, not a failure.
	CodeTriggerRejected ErrorCode = "TRIGGER_REJECTED"

	// Validation.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Pipeline stages.

	// CodeCheckoutFailed indicates the source checkout stage failed.
	CodeCheckoutFailed ErrorCode = "CHECKOUT_FAILED"

	// CodeEnvironmentFailed indicates the environment preparation stage failed.
	CodeEnvironmentFailed ErrorCode = "ENVIRONMENT_FAILED"

	// CodeBuildFailed indicates the build stage failed.
	CodeBuildFailed ErrorCode = "BUILD_FAILED"

	// CodePublishFailed indicates the publish stage failed. Publish failures
	// are terminal: the artifact was built but not delivered.
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// Infrastructure.

	// CodeCacheUnavailable indicates the dependency cache could not be used.
	// Callers degrade to a full reinstall rather than aborting.
	CodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"

	// CodeNetwork indicates a network operation failed.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeUnauthorized indicates the request lacks valid credentials.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// Generic.

	// CodeInternal indicates an internal error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown indicates an unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)
