// Package cmd wires the boxci CLI: flag parsing, logger setup and the
// subcommands that drive runs, templates, manifests and pruning.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/log"
	"github.com/felixgeelhaar/boxci/internal/template"
)

var (
	flagConfig       string
	flagTemplatesDir string
	flagLogFormat    string
	flagLogLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "boxci",
	Short: "Local-first CI runs in rootless Podman containers",
	Long: `boxci runs a project's build and test steps inside rootless Podman
containers, exactly the same way on every machine. Each run gets
namespaced cache volumes derived from a fingerprint of the job
configuration, and every run writes a manifest recording what ran,
how it exited and where its logs live.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		format, ok := log.ParseFormat(flagLogFormat)
		if !ok {
			return errors.Newf(errors.ErrCodeConfigInvalid,
				"invalid --log-format %q (expected text|json)", flagLogFormat)
		}
		// The process-wide logger is set exactly once, before any
		// subcommand runs.
		log.SetGlobal(log.New(log.Config{
			Level:  log.ParseLevel(flagLogLevel),
			Format: format,
			Output: log.OutputStderr(),
		}))
		return nil
	},
}

// ExecuteContext runs the root command with the given context. Any classified
// engine failure in the returned error chain gets a remediation hint on
// stderr, regardless of which subcommand it escaped from.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printOperatorHint(os.Stderr, err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "boxci.yaml", "path to the boxci config file")
	rootCmd.PersistentFlags().StringVar(&flagTemplatesDir, "templates-dir", "", "extra template search root (overrides BOXCI_TEMPLATES_DIR)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug, info, warn or error")
}

// templateRoots resolves the template search roots for the current
// invocation, honoring the flag over the environment override.
func templateRoots() ([]string, error) {
	override := flagTemplatesDir
	if override == "" {
		override = os.Getenv("BOXCI_TEMPLATES_DIR")
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDirectoryFailed, "resolve current directory", err)
	}
	return template.SearchRoots(cwd, override)
}
