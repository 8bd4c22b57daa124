package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Generate missing and stale embeddings now",
	Long: `Index warms up the embedding model, marks rows from older model
versions for regeneration, and then generates embeddings for every item
that is missing one or flagged stale.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.WarmUpAndResumeIndexing(ctx); err != nil {
		return fmt.Errorf("warm-up failed: %w", err)
	}
	if !a.manager.Ready() {
		failures, _ := a.manager.InitFailureCount(ctx)
		return fmt.Errorf("embedding provider unavailable (%d failed initializations for this build); check EMBEDDING_PROVIDER configuration", failures)
	}

	var bar *progressbar.ProgressBar
	err = a.manager.CatchUp(ctx, func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Indexing"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("items"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(done)
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	stats, err := a.manager.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n\nModel: %s\n", stats.ModelVersion)
	fmt.Printf("Valid embeddings:  %d\n", stats.ValidCount)
	fmt.Printf("Still pending:     %d\n", stats.PendingCount)
	fmt.Printf("Need regeneration: %d\n", stats.RegenerationNeededCount)
	return nil
}
