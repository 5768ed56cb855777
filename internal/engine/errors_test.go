package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		stderr   string
		want     Kind
	}{
		{
			name:     "permission denied",
			exitCode: 126,
			stderr:   "Error: crun: open executable: Permission denied: OCI permission denied",
			want:     KindPermissionDenied,
		},
		{
			name:     "storage subsystem marker",
			exitCode: 125,
			stderr:   "Error: creating container storage: the container name is already in use",
			want:     KindStorageError,
		},
		{
			name:     "storage path marker",
			exitCode: 125,
			stderr:   "Error: mkdir /home/u/.local/share/containers/storage: read-only file system",
			want:     KindStorageError,
		},
		{
			name:     "generic storage error",
			exitCode: 125,
			stderr:   "Error: storage error: layer not known",
			want:     KindStorageError,
		},
		{
			name:     "command not found exit code",
			exitCode: 127,
			stderr:   "",
			want:     KindNotInstalled,
		},
		{
			name:     "not found in stderr",
			exitCode: 1,
			stderr:   "sh: cargo: not found",
			want:     KindNotInstalled,
		},
		{
			name:     "plain failure",
			exitCode: 1,
			stderr:   "test failed: 3 assertions",
			want:     KindCommandFailed,
		},
		{
			name:     "permission denied wins over not found",
			exitCode: 127,
			stderr:   "permission denied: not found",
			want:     KindPermissionDenied,
		},
		{
			name:     "case insensitive",
			exitCode: 1,
			stderr:   "PERMISSION DENIED",
			want:     KindPermissionDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.exitCode, []byte(tt.stderr)))
		})
	}
}

func TestTruncateTail(t *testing.T) {
	t.Run("short input returned whole", func(t *testing.T) {
		assert.Equal(t, "hello", TruncateTail([]byte("hello"), 16))
	})

	t.Run("long input keeps tail and marks omission", func(t *testing.T) {
		s := TruncateTail([]byte("abcdefghijklmnopqrstuvwxyz"), 5)
		assert.Contains(t, s, "truncated")
		assert.True(t, len(s) > 5)
		assert.Equal(t, "vwxyz", s[len(s)-5:])
	})
}

func TestRunErrorMessage(t *testing.T) {
	err := NewRunError("podman run ...", 125, []byte("out"), []byte("storage error"), "/tmp/run/logs/build.stdout", "/tmp/run/logs/build.stderr")

	require.Equal(t, KindStorageError, err.Kind)
	assert.Contains(t, err.Error(), "exit_code=125")
	assert.Contains(t, err.Error(), "stderr: /tmp/run/logs/build.stderr")
	assert.Contains(t, err.Error(), "stdout: /tmp/run/logs/build.stdout")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "not-installed", KindNotInstalled.String())
	assert.Equal(t, "permission-denied", KindPermissionDenied.String())
	assert.Equal(t, "storage-error", KindStorageError.String())
	assert.Equal(t, "command-failed", KindCommandFailed.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
