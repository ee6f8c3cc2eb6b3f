package apperrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("role", "role is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "role is required" {
		t.Errorf("expected message 'role is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "role" {
		t.Errorf("expected field 'role', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("host", "sourceagent")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "host sourceagent not found" {
		t.Errorf("expected message 'host sourceagent not found', got %q", err.Error())
	}
}

func TestProvisioning(t *testing.T) {
	t.Parallel()
	cause := CommandFailed("targetagent", "sudo service mysql restart", "Job for mysqld.service failed", 1)
	err := Provisioning("targetagent", 3, "sudo service mysql restart", "Job for mysqld.service failed", cause)

	if !errors.Is(err, ErrProvisioning) {
		t.Error("expected error to match ErrProvisioning")
	}
	if !errors.Is(err, ErrTransport) {
		t.Error("expected cause chain to keep ErrTransport")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Host != "targetagent" || appErr.Ordinal != 3 {
		t.Errorf("unexpected host/ordinal: %q/%d", appErr.Host, appErr.Ordinal)
	}
	if OutputOf(err) != "Job for mysqld.service failed" {
		t.Errorf("unexpected output: %q", OutputOf(err))
	}
}

func TestTransport(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("connection refused")
	err := Transport("seed.details", cause)

	if !errors.Is(err, ErrTransport) {
		t.Error("expected error to match ErrTransport")
	}
	if !errors.Is(err, cause) {
		t.Error("expected error to match its cause")
	}
	if err.Error() != "seed.details: connection refused" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestJobOutcomeErrorsAreDistinct(t *testing.T) {
	t.Parallel()
	failed := JobFailed("42", "Failed")
	timedOut := WaitTimedOut("42", 600*time.Second)

	if !errors.Is(failed, ErrJobFailed) || errors.Is(failed, ErrWaitTimedOut) {
		t.Error("JobFailed must only match ErrJobFailed")
	}
	if !errors.Is(timedOut, ErrWaitTimedOut) || errors.Is(timedOut, ErrJobFailed) {
		t.Error("WaitTimedOut must only match ErrWaitTimedOut")
	}
	if !strings.Contains(timedOut.Error(), "10m0s") {
		t.Errorf("expected elapsed time in message, got %q", timedOut.Error())
	}
}

func TestTeardownAndFixture(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("no such container")

	if err := Teardown("orchestrator", cause); !errors.Is(err, ErrTeardown) || !errors.Is(err, cause) {
		t.Errorf("unexpected teardown classification: %v", err)
	}
	if err := Fixture("reset-lvm", "sourceagent", cause); !errors.Is(err, ErrFixture) {
		t.Errorf("unexpected fixture classification: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, ExitPass},
		{"validation", Validation("mysql_version", "unsupported"), ExitConfig},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), ExitConfig},
		{"job failed", JobFailed("1", "Failed"), ExitFailed},
		{"timed out", WaitTimedOut("1", time.Second), ExitFailed},
		{"unknown error", fmt.Errorf("unknown"), ExitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExitCode(tt.err); got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := Fixture("enable-gtid", "targetagent", fmt.Errorf("exit 1"))
	wrapped := fmt.Errorf("scenario setup: %w", original)
	doubleWrapped := fmt.Errorf("session: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrFixture) {
		t.Error("expected errors.Is to find ErrFixture through multiple wraps")
	}
}
