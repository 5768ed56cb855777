package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/engine"
	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/manifest"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment can run boxci jobs",
	Long: `Doctor verifies the pieces a run depends on: writable state and
cache directories, a Podman binary on PATH, a rootless engine, and
working labeled-volume support (the prerequisite for safe pruning).`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	stateDir, cacheDir, err := manifest.Dirs()
	if err != nil {
		return err
	}
	for _, dir := range []string{stateDir, cacheDir} {
		if _, err := os.Stat(dir); err == nil {
			printOK("dir: %s", dir)
		} else if err := os.MkdirAll(dir, 0o755); err != nil {
			printFail("create %s: %v", dir, err)
			return errors.Wrap(errors.ErrCodeDirectoryFailed, "create "+dir, err)
		} else {
			printOK("dir created: %s", dir)
		}
	}

	// Writeability probe.
	probe := stateDir + "/doctor-write-probe.tmp"
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		printFail("state dir not writable: %v", err)
	} else {
		os.Remove(probe)
		printOK("state dir writable")
	}

	eng, err := engine.Detect()
	if err != nil {
		printFail("podman not found on PATH: %v", err)
		return errors.Wrap(errors.ErrCodeEngineNotFound, "podman not found", err).
			WithSuggestion("install Podman and ensure `podman` is on PATH")
	}
	printOK("podman found: %s", eng.Path)

	if v, err := eng.Version(ctx); err == nil {
		printOK("podman version: %s", v)
	} else {
		printWarn("podman version unavailable: %v", err)
	}

	info, err := eng.Info(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeEngineNotFound, "podman info (rootless environment check)", err)
	}
	reportRootless(info)

	// Labeled volume round trip. Prune refuses to touch anything without
	// ownership labels, so this has to work end to end.
	vol := "boxci_doctor_" + manifest.NewRunID()
	labels := map[string]string{engine.LabelManaged: "true", "boxci.doctor": "true"}
	if err := eng.CreateVolume(ctx, vol, labels); err != nil {
		printFail("podman volume create failed: %v", err)
		return nil
	}
	printOK("podman volume create (labeled)")

	if vinfo, err := eng.InspectVolume(ctx, vol); err != nil {
		printWarn("podman volume inspect failed: %v", err)
	} else if vinfo.Managed() {
		printOK("podman volume labels readable")
	} else {
		printWarn("podman volume labels missing/unreadable")
	}

	if err := eng.RemoveVolume(ctx, vol, true); err == nil {
		printOK("podman volume remove")
	} else {
		printWarn("podman volume remove failed: %v", err)
	}
	return nil
}

// reportRootless digs the rootless flag out of the info document.
// Best-effort: the schema differs across engine versions.
func reportRootless(info map[string]any) {
	host, ok := info["host"].(map[string]any)
	if !ok {
		printWarn("podman rootless status: unavailable (info schema differs)")
		return
	}
	if osName, ok := host["os"].(string); ok {
		printOK("podman host os: %s", osName)
	}
	security, ok := host["security"].(map[string]any)
	if !ok {
		printWarn("podman rootless status: unavailable (info schema differs)")
		return
	}
	rootless, ok := security["rootless"].(bool)
	switch {
	case !ok:
		printWarn("podman rootless status: unavailable (info schema differs)")
	case rootless:
		printOK("podman rootless: true")
	default:
		printWarn("podman rootless: false (boxci expects rootless + userns=keep-id)")
	}
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
