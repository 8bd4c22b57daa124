package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adsamcik/riposte-index/internal/database"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog and index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.store.CountItems(ctx)
	if err != nil {
		return err
	}
	stats, err := a.manager.Statistics(ctx)
	if err != nil {
		return err
	}
	pending, err := a.store.ListDuplicatesByStatus(ctx, database.DuplicatePending)
	if err != nil {
		return err
	}

	fmt.Printf("Catalog items:       %d\n", items)
	fmt.Printf("Valid embeddings:    %d\n", stats.ValidCount)
	fmt.Printf("Pending embeddings:  %d\n", stats.PendingCount)
	fmt.Printf("Need regeneration:   %d\n", stats.RegenerationNeededCount)
	fmt.Printf("Pending duplicates:  %d\n", len(pending))
	if stats.ModelVersion != "" {
		fmt.Printf("Model version:       %s\n", stats.ModelVersion)
	}
	if len(stats.CountsByVersion) > 1 {
		fmt.Println("Embeddings by model version:")
		for version, count := range stats.CountsByVersion {
			fmt.Printf("  %-24s %d\n", version, count)
		}
	}
	if stats.LastError != "" {
		fmt.Printf("Last indexing error: %s\n", stats.LastError)
	}
	return nil
}
