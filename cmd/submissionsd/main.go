package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/NAGH654/exam-submissions/internal/app"
	"github.com/NAGH654/exam-submissions/internal/async"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/ingest"
)

func main() {
	inmem := flag.Bool("inmem", false, "use in-memory SQLite database")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := common.LoadConfig()
	a, err := app.Build(ctx, cfg, *inmem, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	queue := async.NewUploadQueue(a.Ingest, logger,
		async.WithWorkers(cfg.Ingest.Workers),
		async.WithQueueSize(cfg.Ingest.QueueSize),
		async.WithProcessTimeout(cfg.Ingest.JobTimeout),
		async.WithResultHandler(archiveDrop(logger)),
	)

	// gRPC server
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("gRPC serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc serve", "error", err)
			stop()
		}
	}()

	if cfg.Watch.Dir != "" {
		if err := os.MkdirAll(cfg.Watch.Dir, 0o755); err != nil {
			logger.Error("create watch dir", "dir", cfg.Watch.Dir, "error", err)
			os.Exit(1)
		}
		drops, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Root:        cfg.Watch.Dir,
			InitialScan: cfg.Watch.InitialScan,
			Debounce:    cfg.Watch.Debounce,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to start watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			for err := range errs {
				logger.Warn("watcher reported error", "error", err)
			}
		}()
		go func() {
			for d := range drops {
				_, err := queue.Enqueue(ctx, async.Job{Upload: ingest.Upload{
					ExamID: d.ExamID,
					Path:   d.Path,
					Ext:    d.Ext,
					Bulk:   true,
				}})
				if err != nil {
					logger.Warn("failed to queue dropped archive", "path", d.Path, "error", err)
				}
			}
		}()
		logger.Info("watching drop folder", "dir", cfg.Watch.Dir)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

// archiveDrop renames a processed drop so it is not picked up again on restart.
func archiveDrop(logger *slog.Logger) async.ResultHandler {
	return func(job async.Job, _ *entity.ProcessingResult, err error) {
		suffix := ".done"
		if err != nil {
			suffix = ".failed"
		}
		if err := os.Rename(job.Upload.Path, job.Upload.Path+suffix); err != nil {
			logger.Warn("failed to mark dropped archive", "path", job.Upload.Path, "error", err)
		}
	}
}
