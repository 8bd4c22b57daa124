package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var similarCmd = &cobra.Command{
	Use:   "similar <item-id>",
	Short: "Find items similar to an existing item",
	Long: `Similar ranks other items by embedding similarity to the given
item. The item needs an embedding; run "riposte-index index" first if the
catalog has not been indexed yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().Int("limit", 0, "Maximum number of results (0 = configured default)")
	similarCmd.Flags().Float64("min-similarity", -1, "Minimum cosine similarity (default from tunables)")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	itemID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || itemID <= 0 {
		return fmt.Errorf("invalid item id %q", args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.store.GetItemByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %d not found", itemID)
	}

	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		limit = a.cfg.Tunables.Search.DefaultLimit
	}
	minSimilarity := mustGetFloat64(cmd, "min-similarity")
	if minSimilarity < 0 {
		minSimilarity = a.cfg.Tunables.Search.MinSimilarity
	}

	results, err := a.engine.SimilarTo(ctx, itemID, limit, minSimilarity)
	if err != nil {
		return fmt.Errorf("similarity lookup failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Printf("No items similar to %d (is the catalog indexed?).\n", itemID)
		return nil
	}
	printResults(ctx, a, results)
	return nil
}
