package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exploregen/exploregen/internal/aggregate"
	"github.com/exploregen/exploregen/internal/api"
	"github.com/exploregen/exploregen/internal/artifacts"
	"github.com/exploregen/exploregen/internal/auth"
	"github.com/exploregen/exploregen/internal/config"
	"github.com/exploregen/exploregen/internal/dictionary/duckdb"
	"github.com/exploregen/exploregen/internal/explore"
	"github.com/exploregen/exploregen/internal/generate"
	"github.com/exploregen/exploregen/internal/generate/openai"
	"github.com/exploregen/exploregen/internal/generate/vertex"
	"github.com/exploregen/exploregen/internal/observability"
	"github.com/exploregen/exploregen/internal/retention"
	runlogpostgres "github.com/exploregen/exploregen/internal/runlog/postgres"
	s3store "github.com/exploregen/exploregen/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("exploregen-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	completer, err := newCompleter(ctx, cfg.AI)
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}
	processor, err := generate.NewProcessor(completer)
	if err != nil {
		logger.Error("failed to initialize processor", slog.Any("error", err))
		os.Exit(1)
	}

	explorerDeps := explore.Dependencies{
		Processor: processor,
		Provider:  processor.Provider(),
		Logger:    logger,
	}
	deps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: time.Second,
	}
	readiness := make([]api.ReadinessCheck, 0, 2)

	var runLogDB *sql.DB
	var runLog *runlogpostgres.Repository
	if cfg.RunLog.DSN != "" {
		runLogDB, err = runlogpostgres.Open(ctx, runlogpostgres.DBConfig{
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
		defer func() { _ = runLogDB.Close() }()
		runLog = runlogpostgres.NewRepository(runLogDB)
		explorerDeps.RunLog = runLog
		deps.Runs = runLog
		readiness = append(readiness, runLog.HealthCheck)
	} else {
		logger.Warn("run log disabled: EXPLOREGEN_RUNLOG_DSN is empty")
	}

	if cfg.ObjectStore.Endpoint != "" {
		objectStore, err := s3store.New(ctx, s3store.Config{
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
		archiver, err := artifacts.NewArchiver(objectStore)
		if err != nil {
			logger.Error("failed to initialize archiver", slog.Any("error", err))
			os.Exit(1)
		}
		explorerDeps.Archiver = archiver
		deps.Replies = archiver
		deps.Dictionaries = duckdb.NewLoader(objectStore)
		readiness = append(readiness, api.CheckObjectStoreConfig(cfg))
		if runLog != nil {
			deps.Retention = &retention.Service{
				RunLog:      runLog,
				ObjectStore: objectStore,
				Config: retention.Config{
					Interval:  cfg.Retention.Interval,
					MaxAge:    cfg.Retention.MaxAge,
					BatchSize: cfg.Retention.BatchSize,
				},
				Logger: logger,
			}
		}
	} else {
		logger.Warn("diagnostics archive disabled: EXPLOREGEN_OBJECTSTORE_ENDPOINT is empty")
	}

	archiveMode, err := explore.ParseArchiveMode(cfg.Explore.Archive)
	if err != nil {
		logger.Error("invalid archive mode", slog.Any("error", err))
		os.Exit(1)
	}
	explorer, err := explore.NewService(explore.Config{
		MaxChunkSize:      cfg.Explore.MaxChunkSize,
		CharsPerUnit:      cfg.Explore.CharsPerUnit,
		LimitPolicy:       aggregate.LimitPolicy(cfg.Explore.LimitPolicy),
		Concurrency:       cfg.Explore.Concurrency,
		MaxRetries:        cfg.Explore.MaxRetries,
		RetryBaseDelay:    cfg.Explore.RetryBaseDelay,
		RetryMaxDelay:     cfg.Explore.RetryMaxDelay,
		RequestsPerMinute: cfg.Explore.RequestsPerMinute,
		CallTimeout:       cfg.Explore.CallTimeout,
		Archive:           archiveMode,
	}, explorerDeps)
	if err != nil {
		logger.Error("failed to initialize explore service", slog.Any("error", err))
		os.Exit(1)
	}
	deps.Generator = explorer
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		if validator.Len() == 0 {
			logger.Warn("auth required but no static keys configured; every protected request will be rejected")
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("provider", processor.Provider()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newCompleter builds the one long-lived model client the process uses.
func newCompleter(ctx context.Context, cfg config.AIConfig) (generate.Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			BaseURL:         cfg.BaseURL,
			APIKey:          cfg.APIKey,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			TopP:            cfg.TopP,
			Timeout:         cfg.Timeout,
		})
	case config.ProviderVertex:
		return vertex.New(ctx, vertex.Config{
			Project:         cfg.VertexProject,
			Location:        cfg.VertexLocation,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			Timeout:         cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
