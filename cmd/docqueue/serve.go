package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/events"
	"github.com/joshu-sajeev/docqueue/internal/job"
	"github.com/joshu-sajeev/docqueue/internal/metrics"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"github.com/joshu-sajeev/docqueue/internal/retry"
	"github.com/joshu-sajeev/docqueue/internal/storage/postgres"
	"github.com/joshu-sajeev/docqueue/internal/storage/sqlite"
	"github.com/joshu-sajeev/docqueue/internal/worker"
	"github.com/joshu-sajeev/docqueue/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	requestTimeout = 10 * time.Second
	// extra time on top of QUEUE_SHUTDOWN_TIMEOUT for requeue writes
	shutdownGrace = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql handle: %w", err)
	}
	defer sqlDB.Close()

	runner, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}

	manager, err := queue.New(queue.Options{
		Store:           postgres.NewJobRepository(db),
		Runner:          runner,
		Policy:          retry.Policy{Base: cfg.RetryBase, Cap: cfg.RetryCap},
		Logger:          logger,
		MaxConcurrent:   cfg.MaxConcurrent,
		TickInterval:    cfg.TickInterval,
		CleanupInterval: cfg.CleanupInterval,
		CleanupMaxAge:   cfg.CleanupMaxAge,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ShutdownPoll:    cfg.ShutdownPoll,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	manager.Subscribe(metrics.New(reg, manager).Observe)

	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		manager.Subscribe(publisher.Observe)
		logger.Info("publishing queue events", "exchange", cfg.AMQPExchange)
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(manager, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout+shutdownGrace)
		defer cancel()

		var errs []error
		if err := manager.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("queue shutdown: %w", err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newRouter(manager *queue.Manager, reg *prometheus.Registry, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.TimeoutMiddleware(requestTimeout))
	r.Use(middleware.ErrorHandler())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	job.RegisterRoutes(r, job.NewJobHandler(job.NewJobService(manager)))

	return r
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	if cfg.Store == config.StoreSQLite {
		logger.Info("using sqlite job store", "path", cfg.SQLitePath)
		return sqlite.Open(cfg.SQLitePath, postgres.ParseLogLevel(os.Getenv("DB_LOG_LEVEL")))
	}

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	db, err := postgres.ConnectDB(ctx, dbCfg, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return db, nil
}

func newRunner(cfg *config.Config, logger *slog.Logger) (worker.Runner, error) {
	if cfg.Isolation == config.IsolationGoroutine {
		return worker.NewGoroutineRunner(worker.DefaultRegistry(), cfg.JobTimeout, logger), nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable for worker processes: %w", err)
	}
	return worker.NewProcessRunner(worker.ProcessOptions{
		Path:    exe,
		Args:    []string{execJobCommand},
		Timeout: cfg.JobTimeout,
		Logger:  logger,
	}), nil
}
