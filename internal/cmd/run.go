package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/config"
	"github.com/felixgeelhaar/boxci/internal/engine"
	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/fingerprint"
	"github.com/felixgeelhaar/boxci/internal/image"
	"github.com/felixgeelhaar/boxci/internal/manifest"
	"github.com/felixgeelhaar/boxci/internal/runner"
	"github.com/felixgeelhaar/boxci/internal/version"
)

var (
	flagRunJob      string
	flagRunStep     string
	flagRunProfile  string
	flagRunDryRun   bool
	flagRunPull     bool
	flagRunRebuild  bool
	flagStepTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a job's steps inside its container environment",
	Long: `Run executes the named job's steps, in order, inside the profile's
container. Steps share namespaced cache volumes; the first failing step
stops the run. Every run writes a manifest, pass or fail.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	job, err := cfg.Job(flagRunJob)
	if err != nil {
		return err
	}

	profileName := flagRunProfile
	if profileName == "" {
		profileName = job.Profile
	}
	profile, err := cfg.Profile(profileName)
	if err != nil {
		return err
	}

	envID, err := fingerprint.Compute(cfg, flagRunJob, profileName)
	if err != nil {
		return err
	}
	ns := fingerprint.Namespace(cfg.Project, flagRunJob, envID)

	repoRoot, err := resolveRepoRoot(flagConfig)
	if err != nil {
		return err
	}

	eng, err := engine.Detect()
	if err != nil {
		return errors.Wrap(errors.ErrCodeEngineNotFound, "podman not found on PATH", err).
			WithSuggestion("install Podman and ensure `podman` is on PATH")
	}

	_, cacheDir, err := manifest.Dirs()
	if err != nil {
		return err
	}
	resolver := &image.Resolver{Engine: eng, CacheDir: cacheDir, Version: version.Version}
	resolved, err := resolver.Resolve(ctx, profile.Container, image.Options{
		Pull:    flagRunPull,
		Rebuild: flagRunRebuild,
	})
	if err != nil {
		return err
	}

	store, err := manifest.NewStore()
	if err != nil {
		return err
	}

	r := &runner.Runner{Engine: eng, Store: store}
	_, _, err = r.Run(ctx, runner.Params{
		Config:       cfg,
		Job:          flagRunJob,
		Profile:      profileName,
		RepoRoot:     repoRoot,
		Namespace:    ns,
		EnvID:        envID,
		Image:        resolved.Image,
		ImageDigest:  resolved.Digest,
		DigestStatus: resolved.DigestStatus,
		StepOnly:     flagRunStep,
		DryRun:       flagRunDryRun,
		StepTimeout:  flagStepTimeout,
	})
	return err
}

// resolveRepoRoot canonicalizes the directory holding the config file; that
// directory is what gets mounted at /work.
func resolveRepoRoot(configPath string) (string, error) {
	dir := filepath.Dir(configPath)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("resolve repo root %s", dir), err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("resolve repo root %s", abs), err)
	}
	return resolved, nil
}

func init() {
	runCmd.Flags().StringVar(&flagRunJob, "job", "default", "job to run")
	runCmd.Flags().StringVar(&flagRunStep, "step", "", "run only this step")
	runCmd.Flags().StringVar(&flagRunProfile, "profile", "", "override the job's profile")
	runCmd.Flags().BoolVar(&flagRunDryRun, "dry-run", false, "print step commands without executing")
	runCmd.Flags().BoolVar(&flagRunPull, "pull", false, "refresh base layers when building template images")
	runCmd.Flags().BoolVar(&flagRunRebuild, "rebuild", false, "rebuild the template image from scratch")
	runCmd.Flags().DurationVar(&flagStepTimeout, "timeout", 0, "per-step timeout (0 means none)")
	rootCmd.AddCommand(runCmd)
}
