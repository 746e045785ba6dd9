package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/hyperjump/intellilearn/internal/config"
	"github.com/hyperjump/intellilearn/internal/extract"
	"github.com/hyperjump/intellilearn/internal/indexer"
	"github.com/hyperjump/intellilearn/internal/keyword"
	"github.com/hyperjump/intellilearn/internal/server"
	"github.com/hyperjump/intellilearn/internal/storage"
	"github.com/hyperjump/intellilearn/pkg/utils"
	"go.uber.org/zap"
)

// devBackend holds the components of the local development backend.
type devBackend struct {
	Storage  *storage.SQLiteStorage
	Index    *keyword.BleveIndex
	Ingestor *indexer.Ingestor
	Server   *server.Server
}

func (b *devBackend) Close() {
	if b.Ingestor != nil {
		b.Ingestor.Stop()
	}
	if b.Index != nil {
		_ = b.Index.Close()
	}
	if b.Storage != nil {
		_ = b.Storage.Close()
	}
}

// newDevBackend opens storage and the keyword index and starts the ingestion worker.
func newDevBackend(cfg *config.DevServerConfig, logger *zap.Logger) (*devBackend, error) {
	b := &devBackend{}
	var err error
	b.Storage, err = storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	b.Index, err = keyword.NewBleveIndex(cfg.IndexPath)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	b.Ingestor = indexer.NewIngestor(b.Storage, b.Index, extract.NewExtractor(),
		indexer.WithLogger(logger),
		indexer.WithStageDelay(cfg.StageDelay),
		indexer.WithChunking(cfg.ChunkSize, cfg.ChunkOverlap),
		indexer.WithWorkers(cfg.Workers),
	)
	b.Ingestor.Start()
	b.Server = server.NewServer(b.Storage, b.Index, b.Ingestor, cfg, logger)
	return b, nil
}

func runDevServer(args []string) {
	fs := flag.NewFlagSet("devserver", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (requests, ingestion stages)")
	host := fs.String("host", "", "listen host (overrides devserver.host)")
	port := fs.Int("port", 0, "listen port (overrides devserver.port)")
	stageDelay := fs.Duration("stage-delay", -1, "pause between ingestion stages (overrides devserver.stage_delay)")
	_ = fs.Parse(argsReorder(args))

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	if *host != "" {
		cfg.DevServer.Host = *host
	}
	if *port != 0 {
		cfg.DevServer.Port = *port
	}
	if *stageDelay >= 0 {
		cfg.DevServer.StageDelay = *stageDelay
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("database_path", cfg.DevServer.DatabasePath),
		zap.String("index_path", cfg.DevServer.IndexPath),
	)

	backend, err := newDevBackend(&cfg.DevServer, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer backend.Close()

	errCh := make(chan error, 1)
	go func() {
		if err := backend.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signalContext()
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = backend.Server.Stop(shutdownCtx)
}
