package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/boxci/internal/config"
	"github.com/felixgeelhaar/boxci/internal/engine"
	"github.com/felixgeelhaar/boxci/internal/manifest"
)

// fakeEngine serves canned step results in order and records all calls.
type fakeEngine struct {
	existing  map[string]bool
	unmanaged map[string]bool
	results   []*engine.ExecResult
	spawnErr  error

	created map[string]map[string]string
	runs    [][]string
}

func (f *fakeEngine) VolumeExists(_ context.Context, name string) (bool, error) {
	return f.existing[name], nil
}

func (f *fakeEngine) CreateVolume(_ context.Context, name string, labels map[string]string) error {
	if f.created == nil {
		f.created = make(map[string]map[string]string)
	}
	f.created[name] = labels
	return nil
}

func (f *fakeEngine) InspectVolume(_ context.Context, name string) (*engine.VolumeInfo, error) {
	labels := map[string]string{engine.LabelManaged: "true"}
	if f.unmanaged[name] {
		labels = map[string]string{}
	}
	return &engine.VolumeInfo{Labels: labels}, nil
}

func (f *fakeEngine) RunCaptureAllowFailure(_ context.Context, inv engine.Invocation) (*engine.ExecResult, error) {
	f.runs = append(f.runs, inv.Args)
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeEngine) CommandLine(args []string) string {
	return "podman " + strings.Join(args, " ")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
version: 1
project: x
profiles:
  dev:
    container: rust-debian
    env:
      RUST_BACKTRACE: "1"
jobs:
  default:
    profile: dev
    step_order: [fmt, test]
    steps:
      fmt:
        run: [cargo, fmt, --all, --, --check]
      test:
        run: [cargo, test]
        env:
          RUST_BACKTRACE: full
`))
	require.NoError(t, err)
	return cfg
}

func testParams(t *testing.T, cfg *config.Config) Params {
	t.Helper()
	return Params{
		Config:       cfg,
		Job:          "default",
		Profile:      "dev",
		RepoRoot:     t.TempDir(),
		Namespace:    "boxci_x_default_abcdef012345",
		EnvID:        "abcdef0123456789",
		Image:        "localhost/boxci-rust-debian:v0.4.0",
		ImageDigest:  "sha256:abc",
		DigestStatus: manifest.StatusPresent,
	}
}

func newRunner(t *testing.T, fake *fakeEngine) *Runner {
	t.Helper()
	return &Runner{Engine: fake, Store: &manifest.Store{StateDir: t.TempDir()}}
}

func TestRunSuccessWritesManifestAndLogs(t *testing.T) {
	fake := &fakeEngine{results: []*engine.ExecResult{
		{ExitCode: 0, Stdout: []byte("fmt ok\n")},
		{ExitCode: 0, Stdout: []byte("test ok\n")},
	}}
	r := newRunner(t, fake)
	cfg := testConfig(t)

	runID, m, err := r.Run(context.Background(), testParams(t, cfg))
	require.NoError(t, err)

	require.Len(t, m.Steps, 2)
	assert.True(t, m.Result.OK)
	assert.Zero(t, m.Result.ExitCode)
	assert.Equal(t, manifest.SchemaV1, m.Schema)
	assert.Equal(t, "logs/fmt.stdout", m.Steps[0].StdoutPath)
	assert.Equal(t, "logs/test.stderr", m.Steps[1].StderrPath)

	// Volumes were created with full ownership labels.
	require.Len(t, fake.created, 3)
	labels := fake.created["boxci_x_default_abcdef012345_registry"]
	require.NotNil(t, labels)
	assert.Equal(t, "true", labels[engine.LabelManaged])
	assert.Equal(t, "abcdef0123456789", labels[engine.LabelEnvID])
	assert.Equal(t, VolumeKindRegistry, labels[engine.LabelVolumeKind])

	// Full step output landed on disk.
	data, err := os.ReadFile(filepath.Join(r.Store.RunDir(runID), "logs", "fmt.stdout"))
	require.NoError(t, err)
	assert.Equal(t, "fmt ok\n", string(data))

	// The manifest round-trips through the store.
	loaded, err := r.Store.Load(runID)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	latest, err := r.Store.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, m, latest)
}

func TestRunShortCircuitsOnFirstFailure(t *testing.T) {
	fake := &fakeEngine{results: []*engine.ExecResult{
		{ExitCode: 2, Stderr: []byte("rustfmt: bad formatting\n")},
	}}
	r := newRunner(t, fake)

	runID, m, err := r.Run(context.Background(), testParams(t, testConfig(t)))
	require.Error(t, err)
	assert.ErrorContains(t, err, `step "fmt" failed`)

	var runErr *engine.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 2, runErr.ExitCode)

	// Only the failing step ran; the second was never attempted.
	require.Len(t, fake.runs, 1)
	require.Len(t, m.Steps, 1)
	assert.False(t, m.Result.OK)
	assert.Equal(t, 2, m.Result.ExitCode)
	assert.Contains(t, m.Result.Error, `step "fmt" failed`)

	// The failed run still produced a manifest on disk.
	loaded, err := r.Store.Load(runID)
	require.NoError(t, err)
	assert.False(t, loaded.Result.OK)
}

func TestRunStepTimeoutKeepsSentinelAndCode(t *testing.T) {
	fake := &fakeEngine{spawnErr: fmt.Errorf("deadline 50ms exceeded: %w", engine.ErrTimeout)}
	r := newRunner(t, fake)

	p := testParams(t, testConfig(t))
	p.StepTimeout = 50 * time.Millisecond

	_, m, err := r.Run(context.Background(), p)
	require.Error(t, err)

	// Exit-code mapping keys off the sentinel; the coded wrapper names the
	// step and the deadline for the operator.
	assert.ErrorIs(t, err, engine.ErrTimeout)
	assert.ErrorContains(t, err, "[ENGINE-002]")
	assert.ErrorContains(t, err, `step "fmt" timed out after 50ms`)

	require.Len(t, m.Steps, 1)
	assert.False(t, m.Result.OK)
	assert.Equal(t, 1, m.Steps[0].ExitCode)
}

func TestRunManifestWriteFailureKeepsStepError(t *testing.T) {
	fake := &fakeEngine{results: []*engine.ExecResult{
		{ExitCode: 2, Stderr: []byte("rustfmt: bad formatting\n")},
	}}
	r := newRunner(t, fake)
	// A directory squatting on the "latest" path makes the store write fail.
	require.NoError(t, os.MkdirAll(r.Store.LatestPath(), 0o755))

	_, _, err := r.Run(context.Background(), testParams(t, testConfig(t)))
	require.Error(t, err)

	// Both failures surface; the step classification stays visible so the
	// exit code still reflects the failed step.
	var runErr *engine.RunError
	assert.ErrorAs(t, err, &runErr)
	assert.ErrorContains(t, err, `step "fmt" failed`)
	assert.ErrorContains(t, err, "manifest.json")
}

func TestRunDryRunTouchesNoEngine(t *testing.T) {
	fake := &fakeEngine{}
	r := newRunner(t, fake)

	p := testParams(t, testConfig(t))
	p.DryRun = true

	_, m, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, fake.runs)
	assert.Empty(t, fake.created)
	require.Len(t, m.Steps, 2)
	assert.True(t, m.Result.OK)
	assert.Empty(t, m.Steps[0].StdoutPath)
}

func TestRunStepOnlyRestrictsSteps(t *testing.T) {
	fake := &fakeEngine{results: []*engine.ExecResult{{ExitCode: 0}}}
	r := newRunner(t, fake)

	p := testParams(t, testConfig(t))
	p.StepOnly = "test"

	_, m, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, m.Steps, 1)
	assert.Equal(t, "test", m.Steps[0].Name)

	p.StepOnly = "nope"
	_, _, err = r.Run(context.Background(), p)
	assert.ErrorContains(t, err, `unknown step "nope"`)
}

func TestRunValidatesWorkdirBeforeExecuting(t *testing.T) {
	fake := &fakeEngine{}
	r := newRunner(t, fake)
	cfg := testConfig(t)

	job := cfg.Jobs["default"]
	step := job.Steps["fmt"]
	step.Workdir = "does/not/exist"
	job.Steps["fmt"] = step
	cfg.Jobs["default"] = job

	_, _, err := r.Run(context.Background(), testParams(t, cfg))
	assert.ErrorContains(t, err, "does not exist on host")
	assert.Empty(t, fake.runs)
	assert.Empty(t, fake.created)
}

func TestRunUnmanagedVolumeIsUsedNotRecreated(t *testing.T) {
	ns := "boxci_x_default_abcdef012345"
	fake := &fakeEngine{
		existing:  map[string]bool{ns + "_registry": true},
		unmanaged: map[string]bool{ns + "_registry": true},
		results:   []*engine.ExecResult{{ExitCode: 0}, {ExitCode: 0}},
	}
	r := newRunner(t, fake)

	_, _, err := r.Run(context.Background(), testParams(t, testConfig(t)))
	require.NoError(t, err)

	// Only the two missing volumes were created.
	assert.Len(t, fake.created, 2)
	assert.NotContains(t, fake.created, ns+"_registry")
}

func TestBuildRunArgsShape(t *testing.T) {
	args := buildRunArgs(runArgs{
		repoRoot: "/repo",
		workdir:  "/work/crates/core",
		volumes:  VolumesFor("boxci_x_j_abc"),
		image:    "localhost/boxci-rust-debian:v0.4.0",
		env:      [][2]string{{"A", "1"}, {"B", "2"}},
		argv:     []string{"cargo", "test"},
	})

	assert.Equal(t, []string{
		"run", "--rm", "--userns=keep-id",
		"-v", "boxci_x_j_abc_registry:/cache/registry:Z",
		"-v", "boxci_x_j_abc_vcs:/cache/vcs:Z",
		"-v", "boxci_x_j_abc_build:/cache/build:Z",
		"-v", "/repo:/work:Z",
		"-w", "/work/crates/core",
		"--env", "TOOLCHAIN_HOME=/cache",
		"--env", "A=1",
		"--env", "B=2",
		"localhost/boxci-rust-debian:v0.4.0",
		"cargo", "test",
	}, args)
}

func TestMergeEnvStepOverridesProfile(t *testing.T) {
	merged := mergeEnv(
		map[string]string{"RUST_BACKTRACE": "1", "CARGO_TERM_COLOR": "always"},
		map[string]string{"RUST_BACKTRACE": "full"},
	)
	assert.Equal(t, [][2]string{
		{"CARGO_TERM_COLOR", "always"},
		{"RUST_BACKTRACE", "full"},
	}, merged)
}

func TestResolveWorkdir(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "crates", "core"), 0o755))

	host, inContainer, err := resolveWorkdir(repo, "")
	require.NoError(t, err)
	assert.Equal(t, repo, host)
	assert.Equal(t, "/work", inContainer)

	host, inContainer, err = resolveWorkdir(repo, "crates/core")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, "crates", "core"), host)
	assert.Equal(t, "/work/crates/core", inContainer)

	_, _, err = resolveWorkdir(repo, "/abs")
	assert.ErrorContains(t, err, "must be relative")

	_, _, err = resolveWorkdir(repo, "crates/../..")
	assert.ErrorContains(t, err, "must not contain")

	_, _, err = resolveWorkdir(repo, "missing")
	assert.ErrorContains(t, err, "does not exist on host")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "fmt", sanitizeFilename("fmt"))
	assert.Equal(t, "unit_tests__fast_", sanitizeFilename("unit tests (fast)"))
	assert.Equal(t, "step", sanitizeFilename(""))
}
