package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tmunro/smppgate/internal/config"
	"github.com/tmunro/smppgate/internal/httpserver"
	"github.com/tmunro/smppgate/internal/idmap"
	"github.com/tmunro/smppgate/internal/logging"
	"github.com/tmunro/smppgate/internal/notification"
	"github.com/tmunro/smppgate/internal/processor"
	"github.com/tmunro/smppgate/internal/sequence"
	"github.com/tmunro/smppgate/internal/smpp"
)

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	contextHandler := logging.NewContextHandler(baseHandler)
	slog.SetDefault(slog.New(contextHandler))
	slog.Info("Logging initialized", slog.String("level", logLevel.String()))

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Redis ---
	slog.Info("Connecting to Redis...")
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(appCtx).Err(); err != nil {
		slog.Error("Failed to ping Redis", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Redis connection established")

	// --- Sequence store ---
	var seqStore sequence.Store
	switch cfg.SequenceStore {
	case "redis":
		seqStore = sequence.NewRedisStore(rdb)
	case "postgres":
		slog.Info("Connecting to database for sequence numbers...")
		dbpool, err := pgxpool.New(appCtx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Unable to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(appCtx); err != nil {
			slog.Error("Failed to ping database", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("Database connection pool established")
		seqStore = sequence.NewPostgresStore(dbpool)
	default:
		slog.Error("Unknown sequence store", slog.String("backend", cfg.SequenceStore))
		os.Exit(1)
	}
	allocator := sequence.NewAllocator(seqStore, cfg.Transport.SequenceKey())

	// --- Processors ---
	procCfg, err := config.LoadProcessorFile(cfg.ProcessorFile)
	if err != nil {
		slog.Error("Failed to load processor configuration", slog.Any("error", err))
		os.Exit(1)
	}
	ids := idmap.NewStore(rdb, cfg.Redis.RemoteIDExpiry)
	procDeps := processor.Deps{
		Transport: cfg.Transport,
		Redis:     rdb,
		IDs:       ids,
		Parts:     processor.NewRedisPartStore(rdb, procCfg.MultipartTTL()),
	}
	shortMessage, err := processor.NewShortMessage(procCfg.ShortMessage, procCfg, procDeps)
	if err != nil {
		slog.Error("Failed to build short message processor", slog.Any("error", err))
		os.Exit(1)
	}
	deliveryReport, err := processor.NewDeliveryReport(procCfg.DeliveryReport, procCfg, procDeps)
	if err != nil {
		slog.Error("Failed to build delivery report processor", slog.Any("error", err))
		os.Exit(1)
	}

	// --- SMPP Transport ---
	transport := smpp.NewTransport(cfg.Transport, smpp.SessionDeps{
		Allocator:      allocator,
		IDs:            ids,
		ShortMessage:   shortMessage,
		DeliveryReport: deliveryReport,
		Handler:        notification.NewLogHandler(),
	})
	transport.Start(appCtx)

	// --- HTTP Server ---
	httpServer := httpserver.NewServer(cfg.HTTP, transport)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP Server failed", slog.Any("error", err))
			rootCancel() // Signal other components to stop
		}
	}()

	// --- Wait for Shutdown Signal ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP Server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error during HTTP Server shutdown", slog.Any("error", err))
	}

	// Stop blocks until the unbind handshake completes or times out.
	slog.Info("Shutting down SMPP transport...")
	transport.Stop()

	wg.Wait()
	slog.Info("Application gracefully stopped.")
}
