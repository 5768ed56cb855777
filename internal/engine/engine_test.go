package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shEngine drives /bin/sh instead of podman so invocation mechanics can be
// tested without a container engine installed.
func shEngine() *Engine {
	return &Engine{Path: "/bin/sh"}
}

func TestRunCaptureAllowFailureReturnsStreamsAndExitCode(t *testing.T) {
	res, err := shEngine().RunCaptureAllowFailure(context.Background(), Invocation{
		Args: []string{"-c", "echo out; echo err >&2; exit 7"},
	})
	require.NoError(t, err)

	assert.Equal(t, 7, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunCaptureClassifiesFailure(t *testing.T) {
	_, err := shEngine().RunCapture(context.Background(), Invocation{
		Args: []string{"-c", "echo 'permission denied' >&2; exit 126"},
	})
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, KindPermissionDenied, runErr.Kind)
	assert.Equal(t, 126, runErr.ExitCode)
}

func TestRunCaptureSucceedsOnZeroExit(t *testing.T) {
	res, err := shEngine().RunCapture(context.Background(), Invocation{
		Args: []string{"-c", "echo ok"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "ok\n", string(res.Stdout))
}

func TestTimeoutKillsChildAndReturnsErrTimeout(t *testing.T) {
	start := time.Now()
	_, err := shEngine().RunCaptureAllowFailure(context.Background(), Invocation{
		Args:    []string{"-c", "sleep 10"},
		Timeout: 100 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 8*time.Second, "child must be killed, not awaited")
}

func TestEnvIsPassedToChild(t *testing.T) {
	res, err := shEngine().RunCaptureAllowFailure(context.Background(), Invocation{
		Args: []string{"-c", "printf %s \"$BOXCI_PROBE\""},
		Env:  map[string]string{"BOXCI_PROBE": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", string(res.Stdout))
}

func TestCommandLineQuotesArguments(t *testing.T) {
	e := shEngine()
	line := e.CommandLine([]string{"-c", "echo hi there"})
	assert.Contains(t, line, "/bin/sh")
	assert.Contains(t, line, "'echo hi there'")
}

func TestStdinIsClosed(t *testing.T) {
	// cat must see EOF immediately rather than block on the test's stdin.
	res, err := shEngine().RunCaptureAllowFailure(context.Background(), Invocation{
		Args:    []string{"-c", "cat"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Stdout)
}
