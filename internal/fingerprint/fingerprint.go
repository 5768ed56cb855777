// Package fingerprint derives the environment identity for a run: a content
// hash over every input that determines the container environment, and the
// short volume-safe namespace scoped by it.
package fingerprint

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/boxci/internal/config"
)

// Inputs is the canonical set of fields hashed into the environment ID.
// Map-typed fields serialize with sorted keys, so two configs that differ
// only in declaration order produce identical digests.
type Inputs struct {
	Version    int                   `json:"version"`
	Project    string                `json:"project"`
	Job        string                `json:"job"`
	Profile    string                `json:"profile"`
	Container  string                `json:"container"`
	ProfileEnv map[string]string     `json:"profile_env"`
	StepOrder  []string              `json:"step_order"`
	Steps      map[string]StepInputs `json:"steps"`
}

// StepInputs is the per-step slice of the fingerprint.
type StepInputs struct {
	Run     []string          `json:"run"`
	Workdir string            `json:"workdir"`
	Env     map[string]string `json:"env"`
}

// Compute hashes the environment identity for (job, profile) in cfg.
// The job and profile must already be validated to exist.
func Compute(cfg *config.Config, jobName, profileName string) (string, error) {
	job, err := cfg.Job(jobName)
	if err != nil {
		return "", err
	}
	profile, err := cfg.Profile(profileName)
	if err != nil {
		return "", err
	}

	steps := make(map[string]StepInputs, len(job.Steps))
	for name, step := range job.Steps {
		steps[name] = StepInputs{
			Run:     step.Run,
			Workdir: step.Workdir,
			Env:     step.Env,
		}
	}

	return Hash(Inputs{
		Version:    cfg.Version,
		Project:    cfg.Project,
		Job:        jobName,
		Profile:    profileName,
		Container:  profile.Container,
		ProfileEnv: profile.Env,
		StepOrder:  job.StepOrder,
		Steps:      steps,
	})
}

// Hash returns the hex BLAKE3 digest of the canonical JSON serialization of
// in. encoding/json emits map keys in sorted order, which is what makes the
// serialization canonical; struct fields keep declaration order.
func Hash(in Inputs) (string, error) {
	canonical, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint inputs: %w", err)
	}

	hasher := blake3.New()
	if _, err := hasher.Write(canonical); err != nil {
		return "", fmt.Errorf("hash fingerprint inputs: %w", err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
