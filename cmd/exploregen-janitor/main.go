package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/exploregen/exploregen/internal/config"
	"github.com/exploregen/exploregen/internal/observability"
	"github.com/exploregen/exploregen/internal/retention"
	runlogpostgres "github.com/exploregen/exploregen/internal/runlog/postgres"
	s3store "github.com/exploregen/exploregen/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("exploregen-janitor")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := runlogpostgres.Open(context.Background(), runlogpostgres.DBConfig{
		DSN:              cfg.RunLog.DSN,
		ApplicationName:  cfg.Service.Name,
		StatementTimeout: cfg.RunLog.StatementTimeout,
		MaxOpenConns:     cfg.RunLog.MaxOpenConns,
		MaxIdleConns:     cfg.RunLog.MaxIdleConns,
		ConnMaxIdleTime:  cfg.RunLog.ConnMaxIdleTime,
		ConnMaxLifetime:  cfg.RunLog.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open run log db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &retention.Service{
		RunLog:      runlogpostgres.NewRepository(db),
		ObjectStore: store,
		Config: retention.Config{
			Interval:  cfg.Retention.Interval,
			MaxAge:    cfg.Retention.MaxAge,
			BatchSize: cfg.Retention.BatchSize,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("retention worker started",
		slog.Duration("interval", cfg.Retention.Interval),
		slog.Duration("max_age", cfg.Retention.MaxAge),
	)
	if err := svc.Run(ctx); err != nil {
		logger.Error("retention worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("retention worker stopped")
}
