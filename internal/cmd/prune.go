package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/boxci/internal/engine"
	"github.com/felixgeelhaar/boxci/internal/errors"
	"github.com/felixgeelhaar/boxci/internal/gc"
)

var (
	flagPruneKeep      int
	flagPruneOlderDays int
	flagPruneYes       bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache volumes",
	Long: `Prune groups boxci-managed cache volumes by namespace, keeps the
newest N namespaces and deletes the rest. Only volumes carrying boxci
ownership labels are ever touched. Without --yes the plan is printed
but nothing is deleted.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func runPrune(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Printf("prune policy: keep=%d older_than_days=%d\n", flagPruneKeep, flagPruneOlderDays)

	eng, err := engine.Detect()
	if err != nil {
		return errors.Wrap(errors.ErrCodeEngineNotFound, "podman not found on PATH", err).
			WithSuggestion("install Podman and ensure `podman` is on PATH")
	}

	// Only volumes explicitly labeled as boxci-managed are considered.
	// Name prefixes alone are never trusted for ownership.
	names, err := eng.ListVolumesByLabel(ctx, engine.LabelManaged, "true")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no boxci-managed volumes found")
		return nil
	}

	var owned []gc.VolumeMeta
	for _, name := range names {
		info, err := eng.InspectVolume(ctx, name)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStepFailed, fmt.Sprintf("inspect volume %s", name), err)
		}
		ns, ok := info.Labels[engine.LabelNamespace]
		if !ok {
			// No namespace label means no provable ownership.
			continue
		}
		owned = append(owned, gc.VolumeMeta{Name: name, Namespace: ns, CreatedAt: info.CreatedAt})
	}
	if len(owned) == 0 {
		fmt.Println("no boxci-managed volumes with namespace labels found")
		return nil
	}

	policy := gc.Policy{Keep: flagPruneKeep, OlderThanDays: flagPruneOlderDays}
	candidates, toDelete := gc.Plan(owned, policy, time.Now().UTC())
	if len(toDelete) == 0 {
		fmt.Println("nothing to prune (within keep/age policy)")
		return nil
	}

	fmt.Printf("prune plan: delete %d volumes across %d namespaces\n", len(toDelete), len(candidates))
	for _, v := range toDelete {
		fmt.Printf("  - %s\n", v)
	}

	if !flagPruneYes {
		fmt.Println(dimStyle.Render("dry-run only (re-run with --yes to apply)"))
		return nil
	}

	fmt.Println("applying prune...")
	for _, v := range toDelete {
		if err := eng.RemoveVolume(ctx, v, true); err != nil {
			return errors.Wrap(errors.ErrCodeStepFailed, fmt.Sprintf("remove volume %s", v), err)
		}
	}
	fmt.Println("prune complete")
	return nil
}

func init() {
	pruneCmd.Flags().IntVar(&flagPruneKeep, "keep", 3, "number of newest namespaces to retain")
	pruneCmd.Flags().IntVar(&flagPruneOlderDays, "older-than-days", 0, "additionally require candidates older than this many days (0 disables)")
	pruneCmd.Flags().BoolVar(&flagPruneYes, "yes", false, "apply the plan instead of printing it")
	rootCmd.AddCommand(pruneCmd)
}
