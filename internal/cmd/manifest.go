package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/manifest"
)

var (
	flagShowLatest bool
	flagShowRun    string
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect run manifests",
}

var manifestShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a run manifest as JSON",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := manifest.NewStore()
		if err != nil {
			return err
		}

		var path string
		switch {
		case flagShowLatest:
			path = store.LatestPath()
		case flagShowRun != "":
			path = store.RunPath(flagShowRun)
		default:
			return errors.New(errors.ErrCodeConfigInvalid, "specify --latest or --run <id>")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("no manifest found at %s", path), err).
				WithSuggestion("run 'boxci run' first")
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	manifestShowCmd.Flags().BoolVar(&flagShowLatest, "latest", false, "show the most recent run's manifest")
	manifestShowCmd.Flags().StringVar(&flagShowRun, "run", "", "show the manifest for a specific run ID")

	manifestCmd.AddCommand(manifestShowCmd)
	rootCmd.AddCommand(manifestCmd)
}
