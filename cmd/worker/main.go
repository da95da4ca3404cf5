package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"callrecording-platform/internal/analysis"
	"callrecording-platform/internal/cdr"
	"callrecording-platform/internal/config"
	"callrecording-platform/internal/connections"
	"callrecording-platform/internal/credentials"
	"callrecording-platform/internal/jobs"
	"callrecording-platform/internal/pipeline"
	"callrecording-platform/internal/storage"
	"callrecording-platform/internal/transcription"
	"callrecording-platform/internal/usage"
	"callrecording-platform/pkg/logger"
	"callrecording-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	cipher, err := credentials.New(cfg.EncryptionKey)
	if err != nil {
		log.Error("encryption key invalid", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	uploader, err := storage.NewUploader(rootCtx, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.Endpoint)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}

	transcriber, err := transcription.NewClient(transcription.Config{
		BaseURL: cfg.Transcription.BaseURL,
		APIKey:  cfg.Transcription.APIKey,
		Timeout: cfg.Transcription.Timeout,
	})
	if err != nil {
		log.Error("transcription init failed", "err", err)
		os.Exit(1)
	}

	analyzer, err := analysis.NewClient(analysis.Config{
		BaseURL: cfg.Analysis.BaseURL,
		APIKey:  cfg.Analysis.APIKey,
		Model:   cfg.Analysis.Model,
		Timeout: cfg.Analysis.Timeout,
	})
	if err != nil {
		log.Error("analysis init failed", "err", err)
		os.Exit(1)
	}

	jobStore := jobs.NewPostgresStore(db)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Records:  cdr.NewPostgresRepo(db),
		Analyses: cdr.NewPostgresAnalysisRepo(db),
		Conns:    connections.NewPostgresRepo(db),
		JobStore: jobStore,
		Cipher:   cipher,
		Objects:  uploader,
		Transcr:  transcriber,
		Analyzer: analyzer,
		Usage:    usage.NewPostgresRecorder(db),
		Logger:   log,
	})

	worker := pipeline.NewWorker(jobStore, orch, rdb, cfg.Worker, log)
	worker.Run(rootCtx)

	log.Info("worker stopped")
}
