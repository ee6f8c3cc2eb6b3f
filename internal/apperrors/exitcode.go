package apperrors

import "errors"

// Process exit codes of the harness CLI.
const (
	ExitPass   = 0
	ExitFailed = 1
	ExitConfig = 2
)

// ExitCode maps an error to the CLI exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitPass
	case errors.Is(err, ErrValidation):
		return ExitConfig
	default:
		return ExitFailed
	}
}
