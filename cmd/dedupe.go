package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/adsamcik/riposte-index/internal/database"
	"github.com/adsamcik/riposte-index/internal/dedupe"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Find and resolve duplicate items",
}

var dedupeScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the catalog for duplicate items",
	Long: `Scan fingerprints every item file that has not been hashed yet and
records candidate pairs: exact matches by content hash and near matches by
perceptual hash distance. Pairs dismissed or merged earlier never
resurface.`,
	RunE: runDedupeScan,
}

var dedupeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending duplicate pairs",
	RunE:  runDedupeList,
}

var dedupeMergeCmd = &cobra.Command{
	Use:   "merge <duplicate-id>",
	Short: "Merge a duplicate pair into the winning item",
	Long: `Merge keeps the winner, moves metadata and usage counts over, and
deletes the losing item. Emoji and tag sets become the union of both sides
and counts are summed unless overridden.`,
	Args: cobra.ExactArgs(1),
	RunE: runDedupeMerge,
}

var dedupeDismissCmd = &cobra.Command{
	Use:   "dismiss <duplicate-id>",
	Short: "Dismiss a duplicate pair as a false positive",
	Args:  cobra.ExactArgs(1),
	RunE:  runDedupeDismiss,
}

var dedupeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear pending duplicate pairs",
	RunE:  runDedupeClear,
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
	dedupeCmd.AddCommand(dedupeScanCmd, dedupeListCmd, dedupeMergeCmd, dedupeDismissCmd, dedupeClearCmd)

	dedupeScanCmd.Flags().Int("sensitivity", -1, "Maximum Hamming distance for near duplicates, 0-64 (default from tunables)")

	dedupeMergeCmd.Flags().Int64("winner", 0, "Item id that survives the merge (required)")
	dedupeMergeCmd.Flags().String("title", "", "Override the merged title")
	dedupeMergeCmd.Flags().String("description", "", "Override the merged description")
	dedupeMergeCmd.MarkFlagRequired("winner")

	dedupeClearCmd.Flags().Bool("history", false, "Also forget dismissed and merged pairs")
}

func runDedupeScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sensitivity := mustGetInt(cmd, "sensitivity")
	if sensitivity < 0 {
		sensitivity = a.cfg.Tunables.Dedupe.Sensitivity
	}

	var bar *progressbar.ProgressBar
	result, err := a.newScanner().Scan(ctx, sensitivity, func(p dedupe.Progress) {
		if p.Total == 0 {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionSetDescription("Hashing"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("files"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(p.Hashed)
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Printf("\n\nHashed files:      %d\n", result.HashedCount)
	if result.SkippedFiles > 0 {
		fmt.Printf("Skipped files:     %d\n", result.SkippedFiles)
	}
	fmt.Printf("New exact pairs:   %d\n", result.ExactPairs)
	fmt.Printf("New near pairs:    %d\n", result.NearPairs)
	fmt.Printf("Pending pairs:     %d\n", result.PendingPairs)
	if result.PendingPairs > 0 {
		fmt.Println("\nRun 'riposte-index dedupe list' to review them.")
	}
	return nil
}

func runDedupeList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.store.ListDuplicatesByStatus(ctx, database.DuplicatePending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending duplicate pairs.")
		return nil
	}

	for _, pair := range pending {
		fmt.Printf("#%d  items %d / %d  (%s, distance %d)\n",
			pair.ID, pair.ItemID1, pair.ItemID2, pair.Method, pair.HammingDistance)
		for _, id := range []int64{pair.ItemID1, pair.ItemID2} {
			item, err := a.store.GetItemByID(ctx, id)
			if err != nil {
				return err
			}
			if item == nil {
				fmt.Printf("    %d: (deleted)\n", id)
				continue
			}
			label := item.Title
			if label == "" {
				label = item.FilePath
			}
			fmt.Printf("    %d: %s (used %d times)\n", id, label, item.UseCount)
		}
	}
	fmt.Printf("\n%d pending pair(s).\n", len(pending))
	return nil
}

func runDedupeMerge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	duplicateID, err := parseDuplicateID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	input := dedupe.MergeInput{WinnerID: mustGetInt64(cmd, "winner")}
	if cmd.Flags().Changed("title") {
		title := mustGetString(cmd, "title")
		input.Title = &title
	}
	if cmd.Flags().Changed("description") {
		description := mustGetString(cmd, "description")
		input.Description = &description
	}

	if err := a.newResolver().Merge(ctx, duplicateID, input); err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}
	fmt.Printf("Merged pair #%d into item %d.\n", duplicateID, input.WinnerID)
	return nil
}

func runDedupeDismiss(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	duplicateID, err := parseDuplicateID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.newResolver().Dismiss(ctx, duplicateID); err != nil {
		return fmt.Errorf("dismiss failed: %w", err)
	}
	fmt.Printf("Dismissed pair #%d. It will not resurface on later scans.\n", duplicateID)
	return nil
}

func runDedupeClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if mustGetBool(cmd, "history") {
		deleted, err := a.store.ForgetDuplicateHistory(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Forgot %d pair(s) in all states. The next scan starts from scratch.\n", deleted)
		return nil
	}

	cleared, err := a.store.ClearPendingDuplicates(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d pending pair(s). Dismissed and merged history kept.\n", cleared)
	return nil
}

func parseDuplicateID(arg string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(arg, "%d", &id); err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid duplicate id %q", arg)
	}
	return id, nil
}
