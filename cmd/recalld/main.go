package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aschepis/backscratcher/recall/config"
	"github.com/aschepis/backscratcher/recall/conversations"
	recalllogger "github.com/aschepis/backscratcher/recall/logger"
	"github.com/aschepis/backscratcher/recall/mcp"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/memory/chromem"
	"github.com/aschepis/backscratcher/recall/migrations"
	"github.com/aschepis/backscratcher/recall/runtime"
	"github.com/aschepis/backscratcher/recall/server"
	"github.com/aschepis/backscratcher/recall/tools"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", config.GetServerConfigPath(), "Path to the server config file")
		socketPath = flag.String("socket", "", "Unix socket path for gRPC server (overrides config)")
		tcpAddress = flag.String("tcp", "", "TCP address to listen on (e.g., localhost:50051). If set, disables Unix socket")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath     = flag.String("db", "", "Path to SQLite database file (overrides config)")
		mcpMode    = flag.Bool("mcp", false, "Serve memory tools over MCP on stdio instead of gRPC")
		owner      = flag.String("owner", "", "Owner the MCP tools act for (overrides memory.default_owner)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	// stdout carries the MCP protocol
	if *mcpMode && *logFile == "" {
		*logFile = recalllogger.StderrFile
	}

	logger, err := recalllogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}
	if *socketPath != "" {
		cfg.Server.Socket = *socketPath
	}
	if *tcpAddress != "" {
		cfg.Server.TCP = *tcpAddress
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *owner != "" {
		cfg.Memory.DefaultOwner = *owner
	}

	logger.Info().
		Str("config", *configPath).
		Str("socket", cfg.Server.Socket).
		Str("tcp", cfg.Server.TCP).
		Str("db", cfg.Database.Path).
		Bool("mcp", *mcpMode).
		Msg("recalld starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------------------
	// 1. Open SQLite
	// ---------------------------

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	// ---------------------------
	// 2. Memory core
	// ---------------------------

	embedder, closeEmbedder, err := config.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	defer closeEmbedder()

	store, err := memory.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("failed to create memory store: %w", err)
	}

	index, err := buildIndex(ctx, cfg.Memory.Index, store, logger)
	if err != nil {
		return err
	}
	searcher := memory.NewSearcher(store, index, cfg.Memory.MinScore, logger)

	// ---------------------------
	// 3. LLM stages
	// ---------------------------

	registry := config.NewProviderRegistry(cfg)
	extraction, extractionKey, err := config.NewStageGateway(cfg, registry, "extraction", cfg.Memory.Extraction, logger)
	if err != nil {
		return fmt.Errorf("failed to resolve extraction model: %w", err)
	}
	decision, decisionKey, err := config.NewStageGateway(cfg, registry, "decision", cfg.Memory.Decision, logger)
	if err != nil {
		return fmt.Errorf("failed to resolve decision model: %w", err)
	}
	logger.Info().
		Str("extraction", extractionKey.Provider+"/"+extractionKey.Model).
		Str("decision", decisionKey.Provider+"/"+decisionKey.Model).
		Msg("Resolved pipeline models")

	pipeline, err := memory.NewPipeline(memory.PipelineConfig{
		Store:      store,
		Embedder:   embedder,
		Finder:     searcher,
		Extraction: extraction,
		Decision:   decision,
		WindowSize: cfg.Memory.WindowSize,
		SearchK:    cfg.Memory.SearchK,
	}, logger)
	if err != nil {
		return err
	}

	// ---------------------------
	// 4. Queue + service
	// ---------------------------

	convs := conversations.NewStore(db, logger)
	drainDelay, err := cfg.Memory.DrainDelayDuration()
	if err != nil {
		return err
	}
	queue := memory.NewQueue(store, convs, pipeline, logger,
		memory.WithDrainDelay(drainDelay),
		memory.WithDrainBatch(cfg.Memory.DrainBatchSize),
	)
	defer queue.Stop()

	svc := memory.NewService(store, embedder, searcher, queue, convs, logger)

	staleAfter, err := cfg.Memory.StaleAfterDuration()
	if err != nil {
		return err
	}
	sweeper, err := runtime.NewSweeper(queue, cfg.Memory.SweepSchedule, staleAfter, logger)
	if err != nil {
		return fmt.Errorf("failed to create sweeper: %w", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if *mcpMode {
		return serveMCP(ctx, svc, cfg.Memory.DefaultOwner, logger)
	}

	// ---------------------------
	// 5. gRPC
	// ---------------------------

	srv := server.New(server.Config{
		SocketPath:   cfg.Server.Socket,
		DefaultOwner: cfg.Memory.DefaultOwner,
		Logger:       logger,
		Info: server.Info{
			Version:           version,
			Index:             cfg.Memory.Index,
			EmbeddingProvider: cfg.Memory.Embedding.Provider,
			ExtractionModel:   extractionKey.Provider + "/" + extractionKey.Model,
			DecisionModel:     decisionKey.Provider + "/" + decisionKey.Model,
		},
	}, svc, convs)

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TCP != "" {
			logger.Info().Str("address", cfg.Server.TCP).Msg("Starting gRPC server on TCP")
			serverErr <- srv.ServeTCP(cfg.Server.TCP)
			return
		}
		logger.Info().Str("socket", cfg.Server.Socket).Msg("Starting gRPC server on Unix socket")
		serverErr <- srv.ServeUnix(cfg.Server.Socket)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
		srv.GracefulStop()
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	if cfg.Server.TCP == "" {
		if err := os.Remove(cfg.Server.Socket); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("socket", cfg.Server.Socket).Msg("Failed to remove socket file on shutdown")
		}
	}

	logger.Info().Msg("recalld shutdown complete")
	return nil
}

func openDatabase(cfg *config.ServerConfig, logger zerolog.Logger) (*sql.DB, error) {
	path := config.ExpandPath(cfg.Database.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Info().Str("path", path).Msg("Opening database")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Database.MigrationsPath != "" {
		err = migrations.RunMigrationsFromPath(db, config.ExpandPath(cfg.Database.MigrationsPath), logger)
	} else {
		err = migrations.RunMigrations(db, logger)
	}
	if err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// buildIndex selects the vector index. The chromem index lives in memory, so
// it is rebuilt from the store's active facts and kept current through the
// store's insert hook.
func buildIndex(ctx context.Context, kind string, store *memory.Store, logger zerolog.Logger) (memory.Index, error) {
	switch kind {
	case "sql":
		return memory.NewSQLIndex(store), nil
	case "chromem", "":
		idx := chromem.New(logger)
		facts, err := store.ActiveFacts(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load facts for index: %w", err)
		}
		if err := idx.Rebuild(ctx, facts); err != nil {
			return nil, fmt.Errorf("failed to rebuild index: %w", err)
		}
		store.SetIndex(idx)
		logger.Info().Int("facts", len(facts)).Msg("Rebuilt in-memory vector index")
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index %q", kind)
	}
}

func serveMCP(ctx context.Context, svc *memory.Service, owner string, logger zerolog.Logger) error {
	registry := tools.NewRegistry(logger)
	registry.RegisterMemoryTools(svc)

	mcpServer, err := mcp.NewServer(registry, owner, version, logger)
	if err != nil {
		return err
	}
	if err := mcpServer.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
