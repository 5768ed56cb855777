package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/boxci/internal/engine"
)

// operatorHint returns a short remediation hint for an error whose chain
// contains a classified engine failure. Living in the CLI layer keeps the
// classifier pure while the guidance text can evolve freely.
func operatorHint(err error) (string, bool) {
	var runErr *engine.RunError
	if errors.As(err, &runErr) {
		return hintForKind(runErr.Kind), true
	}
	return "", false
}

// printOperatorHint writes the remediation hint for err to w, if any. It is
// called once on the top-level error path so every subcommand, not just run,
// surfaces the same guidance.
func printOperatorHint(w io.Writer, err error) bool {
	hint, ok := operatorHint(err)
	if !ok {
		return false
	}
	fmt.Fprintln(w, dimStyle.Render("hint: "+hint))
	return true
}

func hintForKind(kind engine.Kind) string {
	switch kind {
	case engine.KindNotInstalled:
		return "podman is not installed or not on PATH. Install Podman and ensure `podman` is available in your shell PATH."
	case engine.KindPermissionDenied:
		return "podman returned a permission error. Verify rootless Podman is working for your user (try `podman info`). If SELinux is enforcing, ensure volume mounts use proper labels (e.g., `:Z`) and that your storage directory is writable."
	case engine.KindStorageError:
		return "podman storage appears unhealthy. Common fixes: (1) ensure you have free disk space/inodes, (2) run `podman system check`, (3) if storage is corrupt, consider `podman system reset` (destructive). If boxci printed stderr/stdout file paths, review those logs for the exact storage error."
	case engine.KindCommandFailed:
		return "the container step failed. Review the step stderr/stdout (boxci prints log paths when available) and re-run with `--log-level info` for more context. If the failure is deterministic, it should reproduce locally with the same boxci profile/job."
	default:
		return "podman failed for an unknown reason. Re-run with `--log-level info` and inspect the stderr/stdout logs if paths are shown. If this persists, capture `podman info --debug` output."
	}
}
