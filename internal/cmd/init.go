package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/template"
)

var (
	flagInitTemplate string
	flagInitDir      string
	flagInitProject  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a directory from a project template",
	Long: `Init materializes a template into a directory and substitutes the
project name. The destination must be empty; nothing is overwritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(_ *cobra.Command, _ []string) error {
	roots, err := templateRoots()
	if err != nil {
		return err
	}

	info, err := os.Stat(flagInitDir)
	switch {
	case err == nil && !info.IsDir():
		return errors.Newf(errors.ErrCodeDirectoryFailed, "init --dir path is not a directory: %s", flagInitDir)
	case err != nil:
		if err := os.MkdirAll(flagInitDir, 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("create directory %s", flagInitDir), err)
		}
	}

	project := flagInitProject
	if project == "" {
		abs, err := filepath.Abs(flagInitDir)
		if err == nil {
			project = filepath.Base(abs)
		}
		if project == "" || project == "." || project == string(filepath.Separator) {
			project = "boxci-project"
		}
	}

	if err := template.Init(roots, flagInitTemplate, flagInitDir, project); err != nil {
		return err
	}
	fmt.Printf("Initialized %s from template %q\n", flagInitDir, flagInitTemplate)
	return nil
}

func init() {
	initCmd.Flags().StringVar(&flagInitTemplate, "template", "generic", "template to initialize from")
	initCmd.Flags().StringVar(&flagInitDir, "dir", ".", "destination directory")
	initCmd.Flags().StringVar(&flagInitProject, "project", "", "project name (default: destination directory name)")
	rootCmd.AddCommand(initCmd)
}
