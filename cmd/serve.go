package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adsamcik/riposte-index/internal/watcher"
	"github.com/adsamcik/riposte-index/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Riposte Index web server.
The server exposes the search, similarity, stats and duplicate-resolution
API, warms up the embedding model in the background, and watches the
library directory for new files when one is configured.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (string, int) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return host, port
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Model warm-up and catch-up run in the background; the API serves
	// lexical-only results until the semantic path is ready.
	go func() {
		if err := a.manager.WarmUpAndResumeIndexing(ctx); err != nil {
			a.logger.Error("index warm-up failed", zap.Error(err))
		}
	}()

	if root := a.cfg.Library.Root; root != "" {
		wake := make(chan struct{}, 1)
		w := watcher.New(root, a.newImporter(), wake, a.logger)
		if err := w.Start(ctx); err != nil {
			// Watch failure degrades to manual nudges, never fatal.
			a.logger.Warn("library watch unavailable", zap.String("root", root), zap.Error(err))
		} else {
			defer w.Stop()
			a.manager.WatchActivity(wake)
		}
	}

	host, port := resolveServeHostPort(cmd)
	server := web.NewServer(a.cfg, host, port, web.Deps{
		Catalog:  a.store,
		Pairs:    a.store,
		Searcher: a.hybrid,
		Similar:  a.engine,
		Index:    a.manager,
		Scanner:  a.newScanner(),
		Resolver: a.newResolver(),
	}, a.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Riposte Index on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
