package exitcode

import (
	"errors"
	"os"

	"github.com/felixgeelhaar/boxci/internal/engine"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// StepFailed indicates a job step exited non-zero
	StepFailed = 3

	// EngineMissing indicates the container engine binary was not found
	EngineMissing = 4

	// Timeout indicates a container engine invocation exceeded its deadline
	Timeout = 5

	// Interrupted indicates the run was cancelled by the user
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(Determine(err))
}

// Determine analyzes an error chain and returns the appropriate exit code
func Determine(err error) int {
	if err == nil {
		return Success
	}

	var runErr *engine.RunError
	if errors.As(err, &runErr) {
		switch runErr.Kind {
		case engine.KindNotInstalled:
			return EngineMissing
		default:
			return StepFailed
		}
	}

	if errors.Is(err, engine.ErrTimeout) {
		return Timeout
	}

	return GeneralError
}
