package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidschrooten/docvault-search/config"
	"github.com/davidschrooten/docvault-search/internal/api"
	"github.com/davidschrooten/docvault-search/internal/events"
	"github.com/davidschrooten/docvault-search/internal/executor"
	"github.com/davidschrooten/docvault-search/internal/history"
	"github.com/davidschrooten/docvault-search/internal/indexer"
	"github.com/davidschrooten/docvault-search/internal/logger"
	"github.com/davidschrooten/docvault-search/internal/metrics"
	"github.com/davidschrooten/docvault-search/internal/mongodb"
	"github.com/davidschrooten/docvault-search/internal/search"
	syncstate "github.com/davidschrooten/docvault-search/internal/sync"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the search server",
	Long: `Start the HTTP server that answers document and section searches.
The server keeps the search indexes in step with MongoDB through index hooks,
permission-change events and a periodic reconciler.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("host", "", "Host to bind the server to (overrides config)")
	serverCmd.Flags().Int("port", 0, "Port to bind the server to (overrides config)")
}

// loadConfig reads the config file and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	metrics.RegisterServiceMetrics()

	// Initialize MongoDB client
	mongoClient, err := mongodb.NewClient(cfg.MongoDB)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer mongoClient.Disconnect()
	store := mongodb.NewStore(mongoClient, cfg.MongoDB)

	// Initialize search engine
	searchEngine, err := search.NewEngine(cfg.Search, log.Named("search"))
	if err != nil {
		return fmt.Errorf("failed to initialize search engine: %w", err)
	}
	defer searchEngine.Close()

	if err := searchEngine.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap indexes: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := indexer.NewWriter(searchEngine, store, indexer.Options{
		Workers:      cfg.Indexer.WorkerCount,
		QueueSize:    cfg.Indexer.QueueSize,
		WriteTimeout: cfg.Indexer.WriteTimeout(),
	}, log.Named("indexer"))
	defer writer.Close()

	historyStore, err := newHistoryStore(ctx, cfg, mongoClient, log)
	if err != nil {
		return err
	}
	historyService := history.NewService(historyStore, store, log.Named("history"))

	exec := executor.New(searchEngine, historyService, executor.Options{
		SearchTimeout: cfg.Search.SearchTimeout(),
		AppendTimeout: cfg.History.AppendTimeout(),
		MaxLimit:      cfg.Search.MaxLimit,
	}, log.Named("executor"))
	defer exec.Close()

	// Permission changes flow from the bus into the writer
	bus, err := events.NewBus(cfg.Events, log.Named("events"))
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer bus.Close()

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		err := bus.Subscribe(ctx, func(change events.PermissionChange) {
			writer.PermissionsChanged(change.DocumentID)
		})
		if err != nil {
			log.Error("permission change consumer stopped", zap.Error(err))
		}
	}()

	// Reconciler catches writes whose hook never arrived
	state := syncstate.NewStateManager(cfg.Search.SyncStatePath, log.Named("sync"))
	if err := state.Load(); err != nil {
		log.Warn("failed to load sync state, starting fresh", zap.Error(err))
	}
	var reconciler *indexer.Reconciler
	if cfg.Search.Reconcile {
		reconciler = indexer.NewReconciler(writer, store, state, searchEngine,
			cfg.Search.PollEvery(), cfg.Search.BatchSize, log.Named("reconciler"))
		reconciler.Start(ctx)
	}

	if cfg.Server.HookToken == "" {
		log.Warn("no server.hook_token configured, index hooks are disabled")
	}

	// Initialize API server
	apiServer := api.NewServer(api.Deps{
		Engine:   searchEngine,
		Searcher: exec,
		History:  historyService,
		Writer:   writer,
		Bus:      bus,
		State:    state,
		Store:    mongoClient,
	}, cfg, log.Named("api"))

	// Setup HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		log.Error("server failed", zap.Error(err))
	}

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop producers before the writer drains its queues
	cancel()
	if reconciler != nil {
		reconciler.Stop()
	} else if err := state.Save(); err != nil {
		log.Error("failed to save sync state", zap.Error(err))
	}
	consumers.Wait()

	log.Info("server exited")
	return nil
}

func newHistoryStore(ctx context.Context, cfg *config.Config, client *mongodb.Client, log *zap.Logger) (history.Store, error) {
	if cfg.History.Backend == "memory" {
		log.Warn("search history is kept in memory and is lost on restart")
		return history.NewMemoryStore(), nil
	}
	s, err := history.NewMongoStore(ctx, client, cfg.MongoDB.HistoryColl, log.Named("history"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}
	return s, nil
}
