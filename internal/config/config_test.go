package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
version: 1
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: dev
    step_order: [a]
    steps:
      a:
        run: [echo, hi]
`

func TestParseAcceptsMinimalValid(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "x", cfg.Project)
	assert.Contains(t, cfg.Jobs, "default")
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := Parse([]byte(`
version: 2
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: dev
    step_order: []
    steps: {}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config version")
}

func TestValidateRejectsMissingStepReference(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: dev
    step_order: [a]
    steps:
      b:
        run: [echo, hi]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references missing step")
}

func TestValidateRejectsStepsOutsideOrder(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: dev
    step_order: [a]
    steps:
      a:
        run: [echo, hi]
      hidden:
        run: [echo, drift]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not listed in step_order")
}

func TestValidateRejectsDuplicateStepOrder(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: dev
    step_order: [a, a]
    steps:
      a:
        run: [echo, hi]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step")
}

func TestValidateRejectsEmptyArgv(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: dev
    step_order: [a]
    steps:
      a:
        run: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty run argv")
}

func TestValidateRejectsMissingProfile(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
project: x
profiles:
  dev:
    container: rust-debian
jobs:
  default:
    profile: prod
    step_order: [a]
    steps:
      a:
        run: [echo, hi]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing profile")
}

func TestJobAndProfileLookups(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	job, err := cfg.Job("default")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, job.StepOrder)

	_, err = cfg.Job("nope")
	assert.ErrorContains(t, err, "unknown job")

	profile, err := cfg.Profile("dev")
	require.NoError(t, err)
	assert.Equal(t, "rust-debian", profile.Container)

	_, err = cfg.Profile("nope")
	assert.ErrorContains(t, err, "unknown profile")
}
