package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/core/async"
	"github.com/joseph-ayodele/invoice-reconciler/internal/document"
	"github.com/joseph-ayodele/invoice-reconciler/internal/export"
	"github.com/joseph-ayodele/invoice-reconciler/internal/extract"
	"github.com/joseph-ayodele/invoice-reconciler/internal/ingest"
	"github.com/joseph-ayodele/invoice-reconciler/internal/lock"
	"github.com/joseph-ayodele/invoice-reconciler/internal/pipeline"
	repo "github.com/joseph-ayodele/invoice-reconciler/internal/repository"
	"github.com/joseph-ayodele/invoice-reconciler/internal/server"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/audit"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/commit"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/inventory"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/matching"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/vendor"
)

const inboxDebounce = 750 * time.Millisecond

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("reconcilerd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *common.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Open(ctx, repo.Config(cfg.Database), logger)
	if err != nil {
		return err
	}
	defer db.Close(logger)
	if err := db.HealthCheck(ctx, 5*time.Second, logger); err != nil {
		return err
	}
	if err := db.Migrate(ctx, logger); err != nil {
		return err
	}
	store := repo.NewStore(db, logger)

	var locker lock.Locker = lock.NewMemory()
	if cfg.Redis.URL != "" {
		rl, rdb, err := lock.DialRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = rl
		logger.Info("lock.redis.enabled")
	}

	extractor, err := extract.New(cfg.LLM, cfg.Documents.MaxTextChars, logger)
	if err != nil {
		return err
	}
	blobs, err := ingest.NewBlobStore(cfg.Documents.StorageDir, logger)
	if err != nil {
		return err
	}
	pager := document.NewPaginator(document.Config{Pdftotext: cfg.Documents.Pdftotext}, logger)

	proc := pipeline.NewProcessor(logger, pipeline.Config{
		PageConcurrency: cfg.Pipeline.PageConcurrency,
		LeaseTTL:        cfg.Pipeline.LeaseTTL,
	}, store, blobs, pager, extractor, locker)

	queue := async.NewProcessorQueue(proc, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.ProcessTimeout),
	)
	proc.AttachQueue(queue)

	handler := server.NewRouter(server.Deps{
		Invoices:       proc,
		Commit:         commit.NewService(store, logger),
		Matching:       matching.NewService(store.Inventory(), logger),
		Audits:         audit.NewService(store, logger),
		Vendors:        vendor.NewService(store.Invoices(), logger),
		Inventory:      inventory.NewService(store, logger),
		Export:         export.NewService(store, logger),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, health := server.NewHealthServer()
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		// invoices interrupted by the previous shutdown
		if _, err := proc.ResumeAll(gctx); err != nil && gctx.Err() == nil {
			logger.Warn("resume at startup failed", "error", err)
		}
		return nil
	})
	if cfg.Documents.InboxDir != "" {
		inbox := ingest.NewInbox(cfg.Documents.InboxDir, cfg.Documents.InboxTenant, proc, logger)
		g.Go(func() error {
			return inbox.Run(gctx, inboxDebounce)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		queue.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
