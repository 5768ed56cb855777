package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/template"
)

var flagExportOutput string

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect and export project templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available templates across all search roots",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		roots, err := templateRoots()
		if err != nil {
			return err
		}
		entries, err := template.List(roots)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(e.Name)
		}
		return nil
	},
}

var templatesWhereCmd = &cobra.Command{
	Use:   "where <name>",
	Short: "Print where a template resolves from",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		roots, err := templateRoots()
		if err != nil {
			return err
		}
		entry, err := template.Resolve(roots, args[0])
		if err != nil {
			return err
		}
		if entry.Origin == template.OriginEmbedded {
			fmt.Println("embedded")
		} else {
			fmt.Println(entry.Dir)
		}
		return nil
	},
}

var templatesExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Export a template as a deterministic .tar.gz bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if flagExportOutput == "-" {
			return errors.New(errors.ErrCodeFileWriteFailed,
				"refusing to export template bundle to stdout; provide a .tar.gz output path")
		}
		roots, err := templateRoots()
		if err != nil {
			return err
		}
		if err := template.ExportToFile(roots, args[0], flagExportOutput); err != nil {
			return err
		}
		fmt.Printf("Exported template %q to %s\n", args[0], flagExportOutput)
		return nil
	},
}

func init() {
	templatesExportCmd.Flags().StringVarP(&flagExportOutput, "output", "o", "", "output .tar.gz path (required)")
	_ = templatesExportCmd.MarkFlagRequired("output")

	templatesCmd.AddCommand(templatesListCmd, templatesWhereCmd, templatesExportCmd)
	rootCmd.AddCommand(templatesCmd)
}
