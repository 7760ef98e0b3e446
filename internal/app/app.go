// Package app wires configuration into the repositories, stores and services
// shared by the commands.
package app

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/NAGH654/exam-submissions/internal/archive"
	"github.com/NAGH654/exam-submissions/internal/classify"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/grading"
	"github.com/NAGH654/exam-submissions/internal/ingest"
	"github.com/NAGH654/exam-submissions/internal/media"
	"github.com/NAGH654/exam-submissions/internal/notify"
	"github.com/NAGH654/exam-submissions/internal/repository"
	"github.com/NAGH654/exam-submissions/internal/storage"
)

// App holds every long-lived dependency of a process.
type App struct {
	Config      *common.Config
	Driver      *entsql.Driver
	Exams       repository.ExamRepository
	Submissions repository.SubmissionRepository
	Grades      repository.GradeRepository
	Jobs        repository.JobStatusRepository
	Store       storage.Store
	Notifier    notify.Notifier
	Ingest      *ingest.Service
	Grading     *grading.Service

	pool   *pgxpool.Pool
	redis  *redis.Client
	amqp   *amqp.Connection
	logger *slog.Logger
}

// Build connects to every configured backend. With inmem a private SQLite
// database replaces Postgres. Optional backends (Redis, RabbitMQ, MinIO) fall back
// to their in-process counterparts when not configured.
func Build(ctx context.Context, cfg *common.Config, inmem bool, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(!inmem); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, logger: logger}

	if err := a.openDatabase(ctx, inmem); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBackends(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Exams = repository.NewExamRepository(a.Driver, logger)
	a.Submissions = repository.NewSubmissionRepository(a.Driver, logger)
	a.Grades = repository.NewGradeRepository(a.Driver, logger)

	extractor := archive.NewExtractor(archive.Options{
		WorkRoot:       cfg.Archive.WorkRoot,
		MaxDirectBytes: cfg.Archive.MaxDirectBytes,
		MaxBulkBytes:   cfg.Archive.MaxBulkBytes,
		MaxEntryBytes:  cfg.Archive.MaxEntryBytes,
		SecondaryName:  cfg.Archive.SecondaryArchiveName,
	}, archive.NewCommandTool(cfg.Archive.RarTool, cfg.Archive.ToolTimeout, logger), logger)

	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Classifier:  classify.NewClassifier(logger),
		Detector:    classify.NewDetector(cfg.Ingest.ProhibitedPattern, logger),
		Media:       media.NewExtractor(a.Store, 0, logger),
		Store:       a.Store,
		Submissions: a.Submissions,
		Notifier:    a.Notifier,
		BatchSize:   cfg.Ingest.BatchSize,
		Logger:      logger,
	})
	a.Ingest = ingest.NewService(ingest.ServiceDeps{
		Extractor:   extractor,
		Pipeline:    pipeline,
		Exams:       a.Exams,
		Submissions: a.Submissions,
		Jobs:        a.Jobs,
		Notifier:    a.Notifier,
		Logger:      logger,
	})
	a.Grading = grading.NewService(grading.ServiceDeps{
		Catalog:     a.Exams,
		Submissions: a.Submissions,
		Grades:      a.Grades,
		Notifier:    a.Notifier,
		Logger:      logger,
	})
	return a, nil
}

func (a *App) openDatabase(ctx context.Context, inmem bool) error {
	if inmem {
		drv, err := repository.OpenInMemory(ctx, "submissions_"+uuid.NewString(), a.logger)
		if err != nil {
			return fmt.Errorf("open in-memory database: %w", err)
		}
		a.Driver = drv
		a.logger.Info("using in-memory database")
		return nil
	}

	db := a.Config.Database
	drv, pool, err := repository.Open(ctx, repository.Config{
		DSN:              db.DSN,
		MaxConns:         db.MaxConns,
		MinConns:         db.MinConns,
		MaxConnLifetime:  db.MaxConnLifetime,
		MaxConnIdleTime:  db.MaxConnIdleTime,
		DialTimeout:      db.DialTimeout,
		StatementTimeout: db.StatementTimeout,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.Driver, a.pool = drv, pool
	if err := repository.HealthCheck(ctx, pool, db.DialTimeout, a.logger); err != nil {
		return fmt.Errorf("database health: %w", err)
	}
	return repository.Migrate(ctx, drv, a.logger)
}

func (a *App) openBackends(ctx context.Context) error {
	cfg := a.Config

	if cfg.Redis.Addr != "" {
		client, err := repository.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		a.Jobs = repository.NewRedisJobStatusRepository(client, cfg.Ingest.JobStatusTTL)
		a.logger.Info("job statuses stored in redis", "addr", cfg.Redis.Addr)
	} else {
		a.Jobs = repository.NewMemoryJobStatusRepository(cfg.Ingest.JobStatusTTL)
	}

	if cfg.RabbitMQ.URL != "" {
		conn, err := amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.amqp = conn
		pub, err := notify.NewRabbitPublisher(conn, cfg.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
		a.Notifier = pub
		a.logger.Info("publishing notifications", "exchange", cfg.RabbitMQ.Exchange)
	} else {
		a.Notifier = notify.LogNotifier{Logger: a.logger}
	}

	if cfg.Storage.MinioEndpoint != "" {
		s, err := storage.NewMinioStore(ctx, cfg.Storage.MinioEndpoint, cfg.Storage.MinioAccessKey,
			cfg.Storage.MinioSecretKey, cfg.Storage.MinioBucket, cfg.Storage.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("connect object storage: %w", err)
		}
		a.Store = s
		a.logger.Info("storing objects in minio", "endpoint", cfg.Storage.MinioEndpoint, "bucket", cfg.Storage.MinioBucket)
	} else {
		s, err := storage.NewLocalStore(cfg.Storage.LocalRoot)
		if err != nil {
			return fmt.Errorf("open local storage: %w", err)
		}
		a.Store = s
	}
	return nil
}

// Close releases every connection Build opened.
func (a *App) Close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq connection", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.Driver != nil || a.pool != nil {
		repository.Close(a.Driver, a.pool, a.logger)
	}
}

// Pool is the Postgres pool, nil for in-memory runs.
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}
