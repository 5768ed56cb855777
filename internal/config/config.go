// Package config loads and validates boxci.yaml: the project's profiles
// (container environments) and jobs (ordered step sequences).
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/boxci/internal/errors"
)

// SchemaVersion is the only config schema this build understands.
const SchemaVersion = 1

// Config is the root of boxci.yaml.
type Config struct {
	Version  int                `yaml:"version"`
	Project  string             `yaml:"project"`
	Profiles map[string]Profile `yaml:"profiles"`
	Jobs     map[string]Job     `yaml:"jobs"`
}

// Profile names a container environment and its baseline variables.
type Profile struct {
	Container string            `yaml:"container"`
	Env       map[string]string `yaml:"env"`
}

// Job is an ordered sequence of steps run against one profile.
type Job struct {
	Profile   string          `yaml:"profile"`
	StepOrder []string        `yaml:"step_order"`
	Steps     map[string]Step `yaml:"steps"`
}

// Step is a single command executed inside the container.
type Step struct {
	Run     []string          `yaml:"run"`
	Workdir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigNotFound, fmt.Sprintf("read %s", path), err).
			WithSuggestion("run 'boxci init' to create a starter boxci.yaml")
	}
	return Parse(data)
}

// Parse parses and validates config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigUnmarshal, "parse boxci.yaml", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-references the rest of the system relies on:
// every job's profile exists, step_order and steps name exactly the same
// set with no duplicates, and every step has a command.
func (c *Config) Validate() error {
	if c.Version != SchemaVersion {
		return errors.Newf(errors.ErrCodeConfigInvalid, "unsupported config version %d (expected %d)", c.Version, SchemaVersion)
	}
	if c.Project == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "project must be non-empty")
	}
	if len(c.Profiles) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "profiles must be non-empty")
	}
	if len(c.Jobs) == 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "jobs must be non-empty")
	}

	for jobName, job := range c.Jobs {
		if _, ok := c.Profiles[job.Profile]; !ok {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q references missing profile %q", jobName, job.Profile)
		}
		if err := validateStepOrder(jobName, job); err != nil {
			return err
		}
	}
	return nil
}

// Job returns a named job.
func (c *Config) Job(name string) (*Job, error) {
	job, ok := c.Jobs[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownJob, "unknown job %q", name)
	}
	return &job, nil
}

// Profile returns a named profile.
func (c *Config) Profile(name string) (*Profile, error) {
	profile, ok := c.Profiles[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownProfile, "unknown profile %q", name)
	}
	return &profile, nil
}

func validateStepOrder(jobName string, job Job) error {
	if len(job.StepOrder) == 0 {
		if len(job.Steps) != 0 {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q has steps but empty step_order", jobName)
		}
		return nil
	}

	seen := make(map[string]bool, len(job.StepOrder))
	for _, s := range job.StepOrder {
		if seen[s] {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q step_order contains duplicate step %q", jobName, s)
		}
		seen[s] = true
		if _, ok := job.Steps[s]; !ok {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q step_order references missing step %q", jobName, s)
		}
	}

	// No steps outside step_order either; hidden steps drift silently.
	for name := range job.Steps {
		if !seen[name] {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q has step %q not listed in step_order", jobName, name)
		}
	}

	for name, step := range job.Steps {
		if len(step.Run) == 0 {
			return errors.Newf(errors.ErrCodeConfigInvalid, "job %q step %q has empty run argv", jobName, name)
		}
	}
	return nil
}
