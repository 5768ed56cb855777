// Package manifest persists the durable record of a run: which steps ran,
// how they exited, where their logs live, and the final result.
package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaV1 identifies the current manifest schema.
const SchemaV1 = "boxci-manifest.v1"

// Digest capture statuses recorded in BaseImageDigestStatus. Consumers must
// treat values outside this set as StatusUnknown; the field is additive.
const (
	StatusPresent     = "present"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
	StatusUnknown     = "unknown"
)

// Manifest is the schema-versioned record of one run. Once written under its
// run directory it is never mutated; the "latest" copy is advisory and is
// overwritten on every run.
type Manifest struct {
	Schema                string `json:"schema"`
	ToolVersion           string `json:"tool_version"`
	Timestamp             string `json:"timestamp"`
	Project               string `json:"project"`
	Job                   string `json:"job"`
	Profile               string `json:"profile"`
	Namespace             string `json:"namespace"`
	EnvID                 string `json:"env_id"`
	BaseImageDigest       string `json:"base_image_digest"`
	BaseImageDigestStatus string `json:"base_image_digest_status"`
	Steps                 []Step `json:"steps"`
	Result                Result `json:"result"`
}

// Step records one executed (or dry-run) step, in execution order.
type Step struct {
	Name       string   `json:"name"`
	Argv       []string `json:"argv"`
	DurationMS int64    `json:"duration_ms"`
	ExitCode   int      `json:"exit_code"`
	// StdoutPath and StderrPath are relative to the per-run directory;
	// empty when no log was captured (dry-run, spawn failure).
	StdoutPath string `json:"stdout_path"`
	StderrPath string `json:"stderr_path"`
}

// Result is the final outcome of the run.
type Result struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// NewRunID returns a run identifier that sorts by start time:
// a UTC timestamp plus a 10-character random suffix.
func NewRunID() string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%s-%s", ts, suffix)
}

// NowUTC returns the manifest timestamp for the current instant.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
