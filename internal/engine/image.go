package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DigestState reports how a digest inspection went. Callers must handle all
// three states: inspection schemas differ silently across engine versions,
// so a missing digest is an expected outcome, not a failure.
type DigestState int

const (
	// DigestPresent means the digest was captured
	DigestPresent DigestState = iota
	// DigestUnavailable means the inspect output carried no digest
	DigestUnavailable
	// DigestError means the inspection itself failed
	DigestError
)

// String returns the manifest wire value for the state
func (s DigestState) String() string {
	switch s {
	case DigestPresent:
		return "present"
	case DigestUnavailable:
		return "unavailable"
	case DigestError:
		return "error"
	default:
		return "unknown"
	}
}

// ImageDigest is the best-effort result of a digest inspection.
type ImageDigest struct {
	State  DigestState
	Digest string // set only when State == DigestPresent
	Detail string // truncated stderr when State == DigestError
}

// ImageExists reports whether an image is present in local storage.
func (e *Engine) ImageExists(ctx context.Context, image string) (bool, error) {
	res, err := e.RunCaptureAllowFailure(ctx, Invocation{
		Args:    []string{"image", "exists", image},
		Timeout: 15 * time.Second,
	})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// RemoveImage force-removes an image. A missing image is not an error.
func (e *Engine) RemoveImage(ctx context.Context, image string) error {
	_, err := e.RunCaptureAllowFailure(ctx, Invocation{
		Args:    []string{"rmi", "-f", image},
		Timeout: 60 * time.Second,
	})
	return err
}

// BuildImage builds an image from a Containerfile. Output is inherited so
// the user can watch long builds; no timeout is applied.
func (e *Engine) BuildImage(ctx context.Context, contextDir, containerfile, tag string, pull, noCache bool) error {
	args := []string{"build"}
	if pull {
		args = append(args, "--pull")
	}
	if noCache {
		args = append(args, "--no-cache")
	}
	args = append(args, "-f", containerfile, "-t", tag, contextDir)

	_, err := e.RunInherit(ctx, Invocation{Args: args})
	return err
}

// InspectImageDigest captures the digest of a local image, best-effort.
func (e *Engine) InspectImageDigest(ctx context.Context, image string) (ImageDigest, error) {
	res, err := e.RunCaptureAllowFailure(ctx, Invocation{
		Args:    []string{"image", "inspect", "--format", "{{.Digest}}", image},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return ImageDigest{}, err
	}

	if res.ExitCode != 0 {
		return ImageDigest{State: DigestError, Detail: TruncateTail(res.Stderr, errTruncLimit)}, nil
	}

	digest := strings.TrimSpace(string(res.Stdout))
	if digest == "" || digest == "<no value>" {
		return ImageDigest{State: DigestUnavailable}, nil
	}
	return ImageDigest{State: DigestPresent, Digest: digest}, nil
}

// Version returns the engine's version string.
func (e *Engine) Version(ctx context.Context) (string, error) {
	res, err := e.RunCapture(ctx, Invocation{
		Args:    []string{"--version"},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Info returns the engine's `info --format json` document. Used by doctor
// for the rootless environment check.
func (e *Engine) Info(ctx context.Context) (map[string]any, error) {
	res, err := e.RunCapture(ctx, Invocation{
		Args:    []string{"info", "--format", "json"},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	var v map[string]any
	if err := json.Unmarshal(res.Stdout, &v); err != nil {
		return nil, fmt.Errorf("parse engine info json: %w", err)
	}
	return v, nil
}
