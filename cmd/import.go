package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import <directory>",
	Short: "Import images from a directory into the catalog",
	Long: `Import walks a directory tree, inserts every image file into the
catalog and reads its optional sidecar metadata (<image>.json). Files whose
exact content is already in the catalog are skipped. Newly imported items
are picked up by the next indexing run.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Bool("index", false, "Generate embeddings for imported items right away")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	result, err := a.newImporter().ImportDir(ctx, args[0], func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Importing"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("files"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(done)
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\n\nImported: %d\n", result.Imported)
	fmt.Printf("Skipped (already in catalog): %d\n", result.Skipped)
	if result.Failed > 0 {
		fmt.Printf("Failed: %d\n", result.Failed)
	}

	if mustGetBool(cmd, "index") && result.Imported > 0 {
		fmt.Println("\nGenerating embeddings for imported items...")
		if err := a.manager.WarmUpAndResumeIndexing(ctx); err != nil {
			return fmt.Errorf("index warm-up failed: %w", err)
		}
		if !a.manager.Ready() {
			a.logger.Warn("embedding provider unavailable, items remain queued",
				zap.Int("imported", result.Imported))
			return nil
		}
		if err := a.manager.CatchUp(ctx, nil); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		fmt.Println("Done.")
	}
	return nil
}
