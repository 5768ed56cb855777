// Package runner orchestrates one CI run: it ensures the namespaced cache
// volumes exist, executes the job's steps sequentially inside the resolved
// container image, and always writes a manifest, pass or fail.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/felixgeelhaar/boxci/internal/config"
	"github.com/felixgeelhaar/boxci/internal/engine"
	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/log"
	"github.com/felixgeelhaar/boxci/internal/manifest"
	"github.com/felixgeelhaar/boxci/internal/version"
)

// Volume kinds recorded in the boxci.volume_kind label.
const (
	VolumeKindRegistry    = "registry"
	VolumeKindVCSCache    = "vcs-cache"
	VolumeKindBuildOutput = "build-output"
)

// Container-side mount points. Template images point their toolchain caches
// here via TOOLCHAIN_HOME.
const (
	mountRegistry = "/cache/registry"
	mountVCS      = "/cache/vcs"
	mountBuild    = "/cache/build"
	mountWork     = "/work"
)

// RunEngine is the slice of the container engine the runner needs. The
// concrete *engine.Engine satisfies it; tests substitute a fake.
type RunEngine interface {
	VolumeExists(ctx context.Context, name string) (bool, error)
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	InspectVolume(ctx context.Context, name string) (*engine.VolumeInfo, error)
	RunCaptureAllowFailure(ctx context.Context, inv engine.Invocation) (*engine.ExecResult, error)
	CommandLine(args []string) string
}

// Volumes names the three per-namespace cache volumes.
type Volumes struct {
	Registry string
	VCS      string
	Build    string
}

// VolumesFor derives the cache volume names for a namespace.
func VolumesFor(namespace string) Volumes {
	return Volumes{
		Registry: namespace + "_registry",
		VCS:      namespace + "_vcs",
		Build:    namespace + "_build",
	}
}

// Params describes one run.
type Params struct {
	Config   *config.Config
	Job      string
	Profile  string
	RepoRoot string

	Namespace string
	EnvID     string

	// Image is the resolved runnable image; digest fields feed the manifest.
	Image        string
	ImageDigest  string
	DigestStatus string

	// StepOnly restricts the run to a single named step.
	StepOnly string
	// DryRun echoes each step's command without executing anything.
	DryRun bool
	// StepTimeout bounds each step; zero means no deadline.
	StepTimeout time.Duration
}

// Runner executes runs against one engine and manifest store.
type Runner struct {
	Engine RunEngine
	Store  *manifest.Store
}

// Run executes the job and writes its manifest. The manifest is written even
// when a step fails; the returned error then carries the step failure so the
// caller can map it to an exit code.
func (r *Runner) Run(ctx context.Context, p Params) (string, *manifest.Manifest, error) {
	job, err := p.Config.Job(p.Job)
	if err != nil {
		return "", nil, err
	}
	profile, err := p.Config.Profile(p.Profile)
	if err != nil {
		return "", nil, err
	}

	steps := job.StepOrder
	if p.StepOnly != "" {
		steps = []string{p.StepOnly}
	}
	for _, s := range steps {
		if _, ok := job.Steps[s]; !ok {
			return "", nil, errors.Newf(errors.ErrCodeUnknownStep, "unknown step %q for job %q", s, p.Job)
		}
	}

	// Workdirs are validated up front so a typo fails before any container
	// starts or any volume is created.
	for _, s := range steps {
		if _, _, err := resolveWorkdir(p.RepoRoot, job.Steps[s].Workdir); err != nil {
			return "", nil, err
		}
	}

	volumes := VolumesFor(p.Namespace)
	if !p.DryRun {
		if err := r.ensureVolumes(ctx, volumes, p.Namespace, p.EnvID); err != nil {
			return "", nil, err
		}
	}

	runID := manifest.NewRunID()
	log.L().Info("run_start",
		"run_id", runID,
		"project", p.Config.Project,
		"job", p.Job,
		"profile", p.Profile,
		"namespace", p.Namespace)

	if p.DigestStatus != manifest.StatusPresent {
		log.L().Warn("base_image_digest_missing_reproducibility_weakened",
			"status", p.DigestStatus, "image", p.Image)
	}

	logsDir := filepath.Join(r.Store.RunDir(runID), "logs")
	if !p.DryRun {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return "", nil, errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create %s", logsDir), err)
		}
	}

	var (
		records   []manifest.Step
		finalOK   = true
		finalExit int
		finalErr  error
	)

	for _, name := range steps {
		step := job.Steps[name]
		log.L().Info("step_start", "job", p.Job, "step", name)

		if p.DryRun {
			fmt.Println("+ " + shellquote.Join(step.Run...))
			records = append(records, manifest.Step{Name: name, Argv: step.Run})
			log.L().Info("step_end", "job", p.Job, "step", name)
			continue
		}

		record, stepErr := r.runStep(ctx, p, profile, name, step, volumes, logsDir)
		records = append(records, record)
		log.L().Info("step_end", "job", p.Job, "step", name)

		if stepErr != nil {
			finalOK = false
			finalExit = record.ExitCode
			finalErr = errors.Wrap(errors.ErrCodeStepFailed, fmt.Sprintf("step %q failed", name), stepErr)
			break
		}
	}

	m := &manifest.Manifest{
		Schema:                manifest.SchemaV1,
		ToolVersion:           version.Version,
		Timestamp:             manifest.NowUTC(),
		Project:               p.Config.Project,
		Job:                   p.Job,
		Profile:               p.Profile,
		Namespace:             p.Namespace,
		EnvID:                 p.EnvID,
		BaseImageDigest:       p.ImageDigest,
		BaseImageDigestStatus: p.DigestStatus,
		Steps:                 records,
		Result:                manifest.Result{OK: finalOK, ExitCode: finalExit},
	}
	if finalErr != nil {
		m.Result.Error = finalErr.Error()
	}

	path, werr := r.Store.Write(runID, m)
	if werr != nil {
		// The write failure must not mask the step failure; exit-code
		// mapping keys off the step error's classification.
		return runID, m, stderrors.Join(finalErr, werr)
	}
	log.L().Info("manifest_written", "path", path)

	return runID, m, finalErr
}

// runStep executes one step and persists its full output. The returned error
// is non-nil exactly when the run must short-circuit.
func (r *Runner) runStep(ctx context.Context, p Params, profile *config.Profile, name string, step config.Step, volumes Volumes, logsDir string) (manifest.Step, error) {
	record := manifest.Step{Name: name, Argv: step.Run}

	_, containerWorkdir, err := resolveWorkdir(p.RepoRoot, step.Workdir)
	if err != nil {
		return record, err
	}

	fmt.Println("+ " + shellquote.Join(step.Run...))

	args := buildRunArgs(runArgs{
		repoRoot: p.RepoRoot,
		workdir:  containerWorkdir,
		volumes:  volumes,
		image:    p.Image,
		env:      mergeEnv(profile.Env, step.Env),
		argv:     step.Run,
	})

	start := time.Now()
	res, err := r.Engine.RunCaptureAllowFailure(ctx, engine.Invocation{Args: args, Timeout: p.StepTimeout})
	record.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		// Spawn failure or timeout: there is no captured output to persist.
		record.ExitCode = 1
		if stderrors.Is(err, engine.ErrTimeout) {
			return record, errors.Wrap(errors.ErrCodeEngineTimeout,
				fmt.Sprintf("step %q timed out after %s", name, p.StepTimeout), err)
		}
		return record, err
	}

	record.ExitCode = res.ExitCode
	tag := sanitizeFilename(name)
	record.StdoutPath = "logs/" + tag + ".stdout"
	record.StderrPath = "logs/" + tag + ".stderr"

	stdoutPath := filepath.Join(logsDir, tag+".stdout")
	stderrPath := filepath.Join(logsDir, tag+".stderr")
	if err := os.WriteFile(stdoutPath, res.Stdout, 0o644); err != nil {
		return record, errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", stdoutPath), err)
	}
	if err := os.WriteFile(stderrPath, res.Stderr, 0o644); err != nil {
		return record, errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("write %s", stderrPath), err)
	}

	if res.ExitCode != 0 {
		return record, engine.NewRunError(r.Engine.CommandLine(args), res.ExitCode, res.Stdout, res.Stderr, stdoutPath, stderrPath)
	}
	return record, nil
}

// ensureVolumes creates the three labeled cache volumes when missing. A
// pre-existing volume without boxci labels is still used but will never be
// pruned; the warning tells the user why.
func (r *Runner) ensureVolumes(ctx context.Context, volumes Volumes, namespace, envID string) error {
	for _, v := range []struct {
		name string
		kind string
	}{
		{volumes.Registry, VolumeKindRegistry},
		{volumes.VCS, VolumeKindVCSCache},
		{volumes.Build, VolumeKindBuildOutput},
	} {
		exists, err := r.Engine.VolumeExists(ctx, v.name)
		if err != nil {
			return err
		}
		if !exists {
			labels := map[string]string{
				engine.LabelManaged:    "true",
				engine.LabelNamespace:  namespace,
				engine.LabelEnvID:      envID,
				engine.LabelVolumeKind: v.kind,
			}
			if err := r.Engine.CreateVolume(ctx, v.name, labels); err != nil {
				return errors.Wrap(errors.ErrCodeStepFailed, fmt.Sprintf("create volume %s", v.name), err)
			}
			continue
		}
		if info, err := r.Engine.InspectVolume(ctx, v.name); err == nil && !info.Managed() {
			log.L().Warn("existing_volume_missing_boxci_labels", "volume", v.name)
		}
	}
	return nil
}

type runArgs struct {
	repoRoot string
	workdir  string
	volumes  Volumes
	image    string
	env      [][2]string
	argv     []string
}

// buildRunArgs assembles the engine run command: rootless keep-id user
// mapping, SELinux-labeled cache and repo mounts, the TOOLCHAIN_HOME
// contract for template images, then user environment, image and argv.
func buildRunArgs(in runArgs) []string {
	args := []string{
		"run", "--rm", "--userns=keep-id",
		"-v", in.volumes.Registry + ":" + mountRegistry + ":Z",
		"-v", in.volumes.VCS + ":" + mountVCS + ":Z",
		"-v", in.volumes.Build + ":" + mountBuild + ":Z",
		"-v", in.repoRoot + ":" + mountWork + ":Z",
		"-w", in.workdir,
		"--env", "TOOLCHAIN_HOME=/cache",
	}
	for _, kv := range in.env {
		args = append(args, "--env", kv[0]+"="+kv[1])
	}
	args = append(args, in.image)
	args = append(args, in.argv...)
	return args
}

// mergeEnv overlays step env on profile env and returns sorted pairs so the
// command line is deterministic.
func mergeEnv(profileEnv, stepEnv map[string]string) [][2]string {
	merged := make(map[string]string, len(profileEnv)+len(stepEnv))
	for k, v := range profileEnv {
		merged[k] = v
	}
	for k, v := range stepEnv {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, merged[k]})
	}
	return out
}

// resolveWorkdir maps a step's relative workdir onto the host repo and the
// fixed /work mount. It returns the host path (which must exist) and the
// container-side path.
func resolveWorkdir(repoRoot, rel string) (string, string, error) {
	if rel == "" {
		return repoRoot, mountWork, nil
	}
	if filepath.IsAbs(rel) {
		return "", "", errors.Newf(errors.ErrCodeWorkdirInvalid, "step workdir must be relative (got absolute %q)", rel)
	}
	if containsDotDot(rel) {
		return "", "", errors.Newf(errors.ErrCodeWorkdirInvalid, "step workdir must not contain '..' (got %q)", rel)
	}

	host := filepath.Join(repoRoot, rel)
	if _, err := os.Stat(host); err != nil {
		return "", "", errors.Newf(errors.ErrCodeWorkdirInvalid, "step workdir does not exist on host: %s", host)
	}
	return host, mountWork + "/" + filepath.ToSlash(rel), nil
}

func containsDotDot(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// sanitizeFilename folds a step name into a safe log file stem.
func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "step"
	}
	return string(out)
}
