package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/internal/indexer"
	"github.com/davidschrooten/docvault-search/internal/mongodb"
	"github.com/davidschrooten/docvault-search/internal/search"
	syncstate "github.com/davidschrooten/docvault-search/internal/sync"
)

// reindexCmd rebuilds both indexes from MongoDB
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search indexes from MongoDB",
	Long: `Re-project every document and section in MongoDB into the search indexes.
Run it while the server is stopped: the indexes are opened exclusively.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)

	reindexCmd.Flags().Bool("drop", false, "Delete both indexes before rebuilding")
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	drop, _ := cmd.Flags().GetBool("drop")

	mongoClient, err := mongodb.NewClient(cfg.MongoDB)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer mongoClient.Disconnect()
	store := mongodb.NewStore(mongoClient, cfg.MongoDB)

	searchEngine, err := search.NewEngine(cfg.Search, log.Named("search"))
	if err != nil {
		return fmt.Errorf("failed to initialize search engine: %w", err)
	}
	defer searchEngine.Close()

	if err := searchEngine.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap indexes: %w", err)
	}

	writer := indexer.NewWriter(searchEngine, store, indexer.Options{
		Workers:      cfg.Indexer.WorkerCount,
		QueueSize:    cfg.Indexer.QueueSize,
		WriteTimeout: cfg.Indexer.WriteTimeout(),
	}, log.Named("indexer"))
	defer writer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := writer.Rebuild(ctx, store, cfg.Search.BatchSize, drop)
	if err != nil {
		return fmt.Errorf("rebuild failed after %d documents: %w", stats.Documents, err)
	}

	// The reconciler resumes from the newest record the rebuild covered.
	state := syncstate.NewStateManager(cfg.Search.SyncStatePath, log.Named("sync"))
	if err := state.Load(); err != nil {
		log.Warn("failed to load sync state", zap.Error(err))
	}
	for _, source := range []string{search.DocumentsIndex, search.SectionsIndex} {
		state.RemoveSourceState(source)
	}
	if err := state.Save(); err != nil {
		log.Error("failed to save sync state", zap.Error(err))
	}

	log.Info("reindex completed",
		zap.Int("documents", stats.Documents),
		zap.Int("sections", stats.Sections),
		zap.Bool("dropped", drop),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents and %d sections\n", stats.Documents, stats.Sections)
	return nil
}
