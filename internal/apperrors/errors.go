// Package apperrors provides the structured error taxonomy of the harness.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrProvisioning = errors.New("provisioning error")
	ErrTransport    = errors.New("transport error")
	ErrJobFailed    = errors.New("job failed")
	ErrWaitTimedOut = errors.New("wait timed out")
	ErrTeardown     = errors.New("teardown error")
	ErrFixture      = errors.New("fixture setup error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "role", "address")
	Resource string // For not found errors (e.g., "host")
	Host     string // Logical host name the error relates to
	Ordinal  int    // Provisioning step ordinal
	Command  string // Remote command that failed
	Output   string // Remote output captured on failure
	JobID    string // Seed job the error relates to
	Op       string // Operation that failed (e.g., "docker.exec")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause, so errors.Is
// matches the classification as well as anything in the cause chain.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Provisioning reports a setup step that failed on a host.
func Provisioning(host string, ordinal int, command, output string, cause error) error {
	return &Error{
		Sentinel: ErrProvisioning,
		Message:  fmt.Sprintf("provisioning %s: step %d failed: %v", host, ordinal, cause),
		Host:     host,
		Ordinal:  ordinal,
		Command:  command,
		Output:   output,
		Cause:    cause,
	}
}

// Transport reports a remote command or HTTP call that could not be completed.
func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// CommandFailed reports a remote command that ran but exited non-zero.
// It is classified as a transport error until a caller (plan, reset)
// reclassifies it.
func CommandFailed(host, command, output string, exitCode int) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("%s: command exited with code %d", host, exitCode),
		Host:     host,
		Command:  command,
		Output:   output,
		Op:       "host.run",
	}
}

// JobFailed reports a job that reached the Failed terminal state.
func JobFailed(jobID, status string) error {
	return &Error{
		Sentinel: ErrJobFailed,
		Message:  fmt.Sprintf("job %s reached status %s", jobID, status),
		JobID:    jobID,
	}
}

// WaitTimedOut reports a job that never reached a terminal state in time.
func WaitTimedOut(jobID string, elapsed time.Duration) error {
	return &Error{
		Sentinel: ErrWaitTimedOut,
		Message:  fmt.Sprintf("timed out waiting for job %s after %s", jobID, elapsed),
		JobID:    jobID,
	}
}

// Teardown reports a host that could not be destroyed.
func Teardown(host string, cause error) error {
	return &Error{
		Sentinel: ErrTeardown,
		Message:  fmt.Sprintf("teardown %s: %v", host, cause),
		Host:     host,
		Cause:    cause,
	}
}

// Fixture reports a reset procedure that failed on a host.
func Fixture(procedure, host string, cause error) error {
	return &Error{
		Sentinel: ErrFixture,
		Message:  fmt.Sprintf("fixture %s on %s: %v", procedure, host, cause),
		Op:       procedure,
		Host:     host,
		Cause:    cause,
	}
}

// OutputOf returns the remote output attached to err, if any.
func OutputOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Output
	}
	return ""
}
