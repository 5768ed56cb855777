package engine

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrTimeout is returned (wrapped) when an engine invocation exceeds its
// deadline. The child process is killed before the call returns.
var ErrTimeout = errors.New("container engine invocation timed out")

// Kind classifies an engine failure for operator-facing remediation.
//
// Classification is a best-effort heuristic over exit code and stderr text.
// It is advisory only: callers must never branch run-control logic on it.
type Kind int

const (
	// KindUnknown means the failure could not be classified
	KindUnknown Kind = iota
	// KindNotInstalled means the engine binary or a required tool is missing
	KindNotInstalled
	// KindPermissionDenied means the engine hit a permission error
	KindPermissionDenied
	// KindStorageError means the engine's storage subsystem reported a fault
	KindStorageError
	// KindCommandFailed means the invoked command exited non-zero
	KindCommandFailed
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindNotInstalled:
		return "not-installed"
	case KindPermissionDenied:
		return "permission-denied"
	case KindStorageError:
		return "storage-error"
	case KindCommandFailed:
		return "command-failed"
	default:
		return "unknown"
	}
}

// errTruncLimit bounds how much captured output is embedded in error text.
// Full logs are written to disk separately; the error carries only the tail,
// which is where the actionable message usually is.
const errTruncLimit = 16 * 1024

// Classify maps an exit code and captured stderr to a failure Kind.
// First match wins. Pure and total; safe to call on any input.
func Classify(exitCode int, stderr []byte) Kind {
	s := bytes.ToLower(stderr)
	if bytes.Contains(s, []byte("permission denied")) {
		return KindPermissionDenied
	}
	if bytes.Contains(s, []byte("creating container storage")) ||
		bytes.Contains(s, []byte("containers/storage")) ||
		bytes.Contains(s, []byte("storage error")) {
		return KindStorageError
	}
	if exitCode == 127 || bytes.Contains(s, []byte("not found")) {
		return KindNotInstalled
	}
	return KindCommandFailed
}

// RunError is a failed engine invocation. The classification is carried as a
// first-class field so callers can look up remediation hints without
// re-parsing error text.
type RunError struct {
	Kind       Kind
	Command    string
	ExitCode   int
	Stderr     string // tail-truncated
	Stdout     string // tail-truncated
	StderrPath string // on-disk log, when captured to file
	StdoutPath string // on-disk log, when captured to file
}

// NewRunError builds a RunError from a completed invocation, classifying the
// failure and truncating the captured streams.
func NewRunError(command string, exitCode int, stdout, stderr []byte, stdoutPath, stderrPath string) *RunError {
	return &RunError{
		Kind:       Classify(exitCode, stderr),
		Command:    command,
		ExitCode:   exitCode,
		Stderr:     TruncateTail(stderr, errTruncLimit),
		Stdout:     TruncateTail(stdout, errTruncLimit),
		StderrPath: stderrPath,
		StdoutPath: stdoutPath,
	}
}

// Error implements the error interface
func (e *RunError) Error() string {
	s := fmt.Sprintf("engine failed (%s) exit_code=%d: %s", e.Kind, e.ExitCode, e.Stderr)
	if e.StderrPath != "" {
		s += fmt.Sprintf(" (stderr: %s)", e.StderrPath)
	}
	if e.StdoutPath != "" {
		s += fmt.Sprintf(" (stdout: %s)", e.StdoutPath)
	}
	return s
}

// TruncateTail returns b as a string, keeping at most max bytes from the end.
// The tail is kept because it is more likely to contain the actionable error,
// and the omission is marked explicitly.
func TruncateTail(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	tail := b[len(b)-max:]
	return fmt.Sprintf("...(truncated, showing last %d bytes)...\n%s", max, tail)
}
