// Package engine drives the external container engine (Podman) as a
// subprocess. It is the sole point of contact with the engine binary:
// all builds, runs, inspections, and volume operations go through it.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/felixgeelhaar/boxci/internal/log"
)

// Engine invokes a container engine binary found on PATH.
type Engine struct {
	// Path is the absolute path to the engine binary.
	Path string
}

// ExecResult is the outcome of one engine invocation.
type ExecResult struct {
	ExitCode int
	Duration time.Duration
	Stdout   []byte
	Stderr   []byte
}

// Invocation describes one engine call. Args never includes the binary name.
type Invocation struct {
	Args []string

	// Env lists extra environment variables for this call. The engine
	// process inherits the parent environment (PATH, HOME, XDG_* are
	// required for rootless operation) plus exactly this set.
	Env map[string]string

	// Dir is the working directory for the call; empty means inherit.
	Dir string

	// Timeout bounds the call. Zero means no deadline. On expiry the child
	// process is killed and the call returns ErrTimeout (wrapped).
	Timeout time.Duration
}

// Detect locates the podman binary on PATH.
func Detect() (*Engine, error) {
	path, err := exec.LookPath("podman")
	if err != nil {
		return nil, fmt.Errorf("find podman on PATH: %w", err)
	}
	return &Engine{Path: path}, nil
}

// CommandLine renders the full command line for logging and error messages.
func (e *Engine) CommandLine(args []string) string {
	return e.Path + " " + shellquote.Join(args...)
}

// RunCapture runs the engine with stdout/stderr piped. A non-zero exit is
// converted into a classified *RunError.
func (e *Engine) RunCapture(ctx context.Context, inv Invocation) (*ExecResult, error) {
	res, err := e.RunCaptureAllowFailure(ctx, inv)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, NewRunError(e.CommandLine(inv.Args), res.ExitCode, res.Stdout, res.Stderr, "", "")
	}
	return res, nil
}

// RunCaptureAllowFailure runs the engine with stdout/stderr piped and always
// returns the exit code and both streams, even on failure. This is used for
// untrusted workloads (job steps) where the orchestrator decides success.
func (e *Engine) RunCaptureAllowFailure(ctx context.Context, inv Invocation) (*ExecResult, error) {
	ctx, cancel := e.deadline(ctx, inv.Timeout)
	defer cancel()

	cmd := e.command(ctx, inv)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	log.L().Info("engine_start", "cmd", e.CommandLine(inv.Args))

	err := cmd.Run()
	duration := time.Since(start)
	exitCode := exitCodeOf(err)
	log.L().Info("engine_exit", "cmd", e.CommandLine(inv.Args), "exit_code", exitCode, "duration_ms", duration.Milliseconds())

	if timeoutErr := e.checkDeadline(ctx, inv); timeoutErr != nil {
		return nil, timeoutErr
	}
	if err != nil && !isExitError(err) {
		return nil, fmt.Errorf("invoke %s: %w", e.Path, err)
	}

	return &ExecResult{
		ExitCode: exitCode,
		Duration: duration,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// RunInherit runs the engine with stdout/stderr attached to the caller's
// streams (used for interactive or long-running builds). On failure it
// returns a classification-only *RunError: the raw output went to the
// terminal and was not captured.
func (e *Engine) RunInherit(ctx context.Context, inv Invocation) (*ExecResult, error) {
	ctx, cancel := e.deadline(ctx, inv.Timeout)
	defer cancel()

	cmd := e.command(ctx, inv)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	log.L().Info("engine_start", "cmd", e.CommandLine(inv.Args))

	err := cmd.Run()
	duration := time.Since(start)
	exitCode := exitCodeOf(err)
	log.L().Info("engine_exit", "cmd", e.CommandLine(inv.Args), "exit_code", exitCode, "duration_ms", duration.Milliseconds())

	if timeoutErr := e.checkDeadline(ctx, inv); timeoutErr != nil {
		return nil, timeoutErr
	}
	if err != nil {
		if !isExitError(err) {
			return nil, fmt.Errorf("invoke %s: %w", e.Path, err)
		}
		return nil, &RunError{
			Kind:     KindCommandFailed,
			Command:  e.CommandLine(inv.Args),
			ExitCode: exitCode,
		}
	}

	return &ExecResult{ExitCode: exitCode, Duration: duration}, nil
}

func (e *Engine) command(ctx context.Context, inv Invocation) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.Path, inv.Args...)
	cmd.Stdin = nil // stdin always closed
	cmd.Dir = inv.Dir
	// Give the child a short grace window after Cancel before SIGKILL, so a
	// timed-out engine process is reliably reaped rather than orphaned.
	cmd.WaitDelay = 5 * time.Second

	if len(inv.Env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(inv.Env))
		for k := range inv.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+inv.Env[k])
		}
		cmd.Env = env
	}
	return cmd
}

func (e *Engine) deadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// checkDeadline converts a context-deadline abort into ErrTimeout.
func (e *Engine) checkDeadline(ctx context.Context, inv Invocation) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s after %s: %w", e.CommandLine(inv.Args), inv.Timeout, ErrTimeout)
	}
	return nil
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
