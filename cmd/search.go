package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the catalog",
	Long: `Search runs the query against the full-text index and, when the
embedding model is available, fuses in semantic similarity. Without a
configured provider the results are lexical-only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Int("limit", 0, "Maximum number of results (0 = configured default)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	query := strings.Join(args, " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Best-effort warm-up so the semantic path contributes when it can.
	if err := a.manager.WarmUpAndResumeIndexing(ctx); err != nil {
		a.logger.Warn("warm-up failed, searching lexical-only", zap.Error(err))
	}

	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		limit = a.cfg.Tunables.Search.DefaultLimit
	}

	results, err := a.hybrid.Search(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	printResults(ctx, a, results)
	return nil
}

// printResults renders ranked results with item titles.
func printResults(ctx context.Context, a *app, results []search.Result) {
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range results {
		title := fmt.Sprintf("item %d", res.ItemID)
		if item, err := a.store.GetItemByID(ctx, res.ItemID); err == nil && item != nil {
			if item.Title != "" {
				title = item.Title
			} else {
				title = item.FilePath
			}
		}
		fmt.Printf("%2d. [%.3f] %-8s %s (id %d)\n", i+1, res.Score, res.Match, title, res.ItemID)
	}
}
